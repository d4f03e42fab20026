package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jhoicas/Fiscal-api/internal/domain/entity"
	"github.com/jhoicas/Fiscal-api/internal/domain/repository"
)

var _ repository.CursorRepository = (*CursorRepo)(nil)

// CursorRepo guarda el cursor NSU en nfe_dfe_cursors. Save toma un advisory
// lock por CNPJ/ambiente para que dos instancias no intercalen escrituras.
type CursorRepo struct {
	q  Querier
	tx *TxRunner
}

// NewCursorRepository construye el adaptador sobre el pool.
func NewCursorRepository(pool *pgxpool.Pool) *CursorRepo {
	return &CursorRepo{q: pool, tx: NewTxRunner(pool)}
}

func (r *CursorRepo) Load(ctx context.Context, key entity.CursorKey) (entity.NSUCursor, error) {
	c := entity.NSUCursor{Key: key}
	err := r.q.QueryRow(ctx,
		`SELECT last_nsu, max_nsu, updated_at FROM nfe_dfe_cursors WHERE tax_id = $1 AND environment = $2`,
		key.TaxID, string(key.Environment),
	).Scan(&c.LastNSU, &c.MaxNSU, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return entity.NewNSUCursor(key), nil
	}
	if err != nil {
		return entity.NSUCursor{}, fmt.Errorf("cargar cursor %s: %w", key, err)
	}
	return c, nil
}

// Save nunca retrocede: GREATEST sobre CHAR(15) con ceros a la izquierda
// equivale a la comparación numérica.
func (r *CursorRepo) Save(ctx context.Context, c entity.NSUCursor) error {
	lastNSU, maxNSU := entity.PadNSU(c.LastNSU), entity.PadNSU(c.MaxNSU)
	return r.tx.RunLocked(ctx, LockKey("nfe_dfe_cursor", c.Key.TaxID, string(c.Key.Environment)), func(q Querier) error {
		_, err := q.Exec(ctx, `
			INSERT INTO nfe_dfe_cursors (tax_id, environment, last_nsu, max_nsu, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (tax_id, environment) DO UPDATE
			SET last_nsu   = GREATEST(nfe_dfe_cursors.last_nsu, EXCLUDED.last_nsu),
			    max_nsu    = GREATEST(nfe_dfe_cursors.max_nsu, EXCLUDED.max_nsu),
			    updated_at = EXCLUDED.updated_at`,
			c.Key.TaxID, string(c.Key.Environment), lastNSU, maxNSU, c.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("guardar cursor %s: %w", c.Key, err)
		}
		return nil
	})
}
