package entity

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/Fiscal-api/pkg/nfe"
)

// Estados del ciclo de vida del documento fiscal.
const (
	DocStatusDraft       = "DRAFT"
	DocStatusSigned      = "SIGNED"
	DocStatusSent        = "SENT"
	DocStatusAuthorized  = "AUTHORIZED"
	DocStatusRejected    = "REJECTED"
	DocStatusDenied      = "DENIED"
	DocStatusCancelled   = "CANCELLED"
	DocStatusInvalidated = "INVALIDATED"
	DocStatusError       = "ERROR"
)

// FiscalDocument es la cabecera persistida de un documento emitido.
type FiscalDocument struct {
	ID             string
	AccessKey      string // 44 dígitos, única
	Kind           nfe.DocumentKind
	Series         int
	Number         int
	Environment    nfe.Environment
	IssuerTaxID    string
	UF             string
	Total          decimal.Decimal
	XML            string // XML firmado (o el procNFe si hubo protocolo)
	Status         string
	ProtocolNumber string
	StatusCode     string // último cStat recibido
	Reason         string // último xMotivo recibido
	Verified       bool   // false si la respuesta no pasó la validación XSD
	IssuedAt       time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// InvalidatedRange registra una inutilización homologada.
type InvalidatedRange struct {
	ID             string
	IssuerTaxID    string
	UF             string
	Environment    nfe.Environment
	Model          string
	Series         int
	From           int
	To             int
	Justification  string
	ProtocolNumber string
	CreatedAt      time.Time
}
