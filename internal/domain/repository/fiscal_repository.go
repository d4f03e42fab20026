package repository

import (
	"context"

	"github.com/jhoicas/Fiscal-api/internal/domain/entity"
	"github.com/jhoicas/Fiscal-api/pkg/nfe"
)

// CursorRepository persiste el cursor NSU de la distribución DF-e.
// Load devuelve el cursor inicial (NSUZero) si no existe registro.
type CursorRepository interface {
	Load(ctx context.Context, key entity.CursorKey) (entity.NSUCursor, error)
	Save(ctx context.Context, cursor entity.NSUCursor) error
}

// DocumentRepository define el puerto de persistencia de documentos fiscales.
type DocumentRepository interface {
	// Save inserta o actualiza por AccessKey.
	Save(ctx context.Context, doc *entity.FiscalDocument) error
	// GetByAccessKey devuelve nil, nil si no existe.
	GetByAccessKey(ctx context.Context, accessKey string) (*entity.FiscalDocument, error)
	// UpdateStatus registra el resultado de una operación posterior (consulta, cancelación).
	UpdateStatus(ctx context.Context, accessKey, status, protocol, cStat, reason string) error
	SaveInvalidation(ctx context.Context, rng *entity.InvalidatedRange) error
}

// NumberingRepository reserva números secuenciales por emisor, modelo, serie y ambiente.
type NumberingRepository interface {
	Next(ctx context.Context, taxID, model string, series int, env nfe.Environment) (int, error)
}
