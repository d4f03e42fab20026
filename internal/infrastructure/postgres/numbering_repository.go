package postgres

import (
	"context"
	"fmt"

	"github.com/jhoicas/Fiscal-api/internal/domain/repository"
	"github.com/jhoicas/Fiscal-api/pkg/nfe"
)

var _ repository.NumberingRepository = (*NumberingRepo)(nil)

// NumberingRepo reserva nNF con un upsert atómico en nfe_numbering.
type NumberingRepo struct {
	q Querier
}

// NewNumberingRepository construye el adaptador. Pasar pool o tx (Querier).
func NewNumberingRepository(q Querier) *NumberingRepo {
	return &NumberingRepo{q: q}
}

func (r *NumberingRepo) Next(ctx context.Context, taxID, model string, series int, env nfe.Environment) (int, error) {
	var number int
	err := r.q.QueryRow(ctx, `
		INSERT INTO nfe_numbering (tax_id, model, series, environment, next_number)
		VALUES ($1, $2, $3, $4, 2)
		ON CONFLICT (tax_id, model, series, environment) DO UPDATE
		SET next_number = nfe_numbering.next_number + 1
		RETURNING next_number - 1`,
		taxID, model, series, string(env),
	).Scan(&number)
	if err != nil {
		return 0, fmt.Errorf("reservar número serie %d: %w", series, err)
	}
	return number, nil
}
