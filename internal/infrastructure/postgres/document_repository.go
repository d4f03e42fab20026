package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/Fiscal-api/internal/domain"
	"github.com/jhoicas/Fiscal-api/internal/domain/entity"
	"github.com/jhoicas/Fiscal-api/internal/domain/repository"
	"github.com/jhoicas/Fiscal-api/pkg/nfe"
)

var _ repository.DocumentRepository = (*DocumentRepo)(nil)

// DocumentRepo implementa DocumentRepository sobre nfe_documents (usable con pool o tx).
type DocumentRepo struct {
	q Querier
}

// NewDocumentRepository construye el adaptador. Pasar pool o tx (Querier).
func NewDocumentRepository(q Querier) *DocumentRepo {
	return &DocumentRepo{q: q}
}

// Save inserta o actualiza por access_key.
func (r *DocumentRepo) Save(ctx context.Context, doc *entity.FiscalDocument) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	now := time.Now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	query := `
		INSERT INTO nfe_documents (id, access_key, kind, series, number, environment, issuer_tax_id, uf, total,
		                           xml, status, protocol_number, status_code, reason, verified, issued_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (access_key) DO UPDATE
		SET xml             = EXCLUDED.xml,
		    status          = EXCLUDED.status,
		    protocol_number = COALESCE(EXCLUDED.protocol_number, nfe_documents.protocol_number),
		    status_code     = EXCLUDED.status_code,
		    reason          = EXCLUDED.reason,
		    verified        = EXCLUDED.verified,
		    updated_at      = EXCLUDED.updated_at`
	_, err := r.q.Exec(ctx, query,
		doc.ID, doc.AccessKey, string(doc.Kind), doc.Series, doc.Number, string(doc.Environment),
		doc.IssuerTaxID, doc.UF, doc.Total, nullIfEmpty(doc.XML), doc.Status,
		nullIfEmpty(doc.ProtocolNumber), nullIfEmpty(doc.StatusCode), nullIfEmpty(doc.Reason),
		doc.Verified, doc.IssuedAt, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: documento %s", domain.ErrDuplicate, doc.AccessKey)
		}
		return fmt.Errorf("guardar documento: %w", err)
	}
	return nil
}

// GetByAccessKey devuelve nil, nil si no existe.
func (r *DocumentRepo) GetByAccessKey(ctx context.Context, accessKey string) (*entity.FiscalDocument, error) {
	query := `
		SELECT id, access_key, kind, series, number, environment, issuer_tax_id, uf, total,
		       xml, status, protocol_number, status_code, reason, verified, issued_at, created_at, updated_at
		FROM nfe_documents WHERE access_key = $1`
	var (
		doc                          entity.FiscalDocument
		kind, env                    string
		xml, protocol, cStat, reason *string
	)
	err := r.q.QueryRow(ctx, query, accessKey).Scan(
		&doc.ID, &doc.AccessKey, &kind, &doc.Series, &doc.Number, &env, &doc.IssuerTaxID, &doc.UF, &doc.Total,
		&xml, &doc.Status, &protocol, &cStat, &reason, &doc.Verified, &doc.IssuedAt, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("buscar documento: %w", err)
	}
	doc.Kind = nfe.DocumentKind(kind)
	doc.Environment = nfe.Environment(env)
	doc.XML = valueOrEmpty(xml)
	doc.ProtocolNumber = valueOrEmpty(protocol)
	doc.StatusCode = valueOrEmpty(cStat)
	doc.Reason = valueOrEmpty(reason)
	return &doc, nil
}

// UpdateStatus registra el resultado de una consulta o cancelación.
func (r *DocumentRepo) UpdateStatus(ctx context.Context, accessKey, status, protocol, cStat, reason string) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE nfe_documents
		SET status          = $2,
		    protocol_number = COALESCE($3, protocol_number),
		    status_code     = $4,
		    reason          = $5,
		    updated_at      = now()
		WHERE access_key = $1`,
		accessKey, status, nullIfEmpty(protocol), nullIfEmpty(cStat), nullIfEmpty(reason),
	)
	if err != nil {
		return fmt.Errorf("actualizar estado: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: documento %s", domain.ErrNotFound, accessKey)
	}
	return nil
}

func (r *DocumentRepo) SaveInvalidation(ctx context.Context, rng *entity.InvalidatedRange) error {
	if rng.ID == "" {
		rng.ID = uuid.New().String()
	}
	if rng.CreatedAt.IsZero() {
		rng.CreatedAt = time.Now()
	}
	_, err := r.q.Exec(ctx, `
		INSERT INTO nfe_invalidations (id, issuer_tax_id, uf, environment, model, series, number_from, number_to,
		                               justification, protocol_number, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rng.ID, rng.IssuerTaxID, rng.UF, string(rng.Environment), rng.Model, rng.Series, rng.From, rng.To,
		rng.Justification, nullIfEmpty(rng.ProtocolNumber), rng.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("guardar inutilización: %w", err)
	}
	return nil
}
