package entity

import (
	"crypto/tls"
	"crypto/x509"
	"math"
	"time"
)

// Estados de vigencia del certificado A1.
const (
	CertStatusValid    = "valido"
	CertStatusExpiring = "vencendo" // 30 días o menos
	CertStatusExpired  = "vencido"
)

// ExpiringSoonDays es el umbral a partir del cual se avisa al operador.
const ExpiringSoonDays = 30

// Certificate es el certificado digital ICP-Brasil de un emisor.
// Se crea al subirlo, se guarda cifrado y nunca se modifica.
type Certificate struct {
	OwnerID    string
	TLS        tls.Certificate // llave privada + cadena, listo para mTLS y firma
	Leaf       *x509.Certificate
	Chain      []*x509.Certificate
	NotBefore  time.Time
	NotAfter   time.Time
	HolderName string // CN sin el sufijo de documento
	TaxID      string // CNPJ/CPF extraído del CN ("EMPRESA LTDA:12345678000199")
	Serial     string
	Issuer     string
	KeyUsage   []string
}

// DaysUntilExpiry redondea hacia arriba: faltando 1h devuelve 1; vencido devuelve <= 0.
func (c *Certificate) DaysUntilExpiry(now time.Time) int {
	return DaysUntil(c.NotAfter, now)
}

// Status clasifica la vigencia en valido / vencendo / vencido.
func (c *Certificate) Status(now time.Time) string {
	return StatusForDays(c.DaysUntilExpiry(now))
}

// DaysUntil días (redondeo hacia arriba) entre now y t.
func DaysUntil(t, now time.Time) int {
	return int(math.Ceil(t.Sub(now).Hours() / 24))
}

// StatusForDays aplica los umbrales de vigencia.
func StatusForDays(days int) string {
	switch {
	case days <= 0:
		return CertStatusExpired
	case days <= ExpiringSoonDays:
		return CertStatusExpiring
	default:
		return CertStatusValid
	}
}

// CertificateInfo es la vista sin material criptográfico (listados, API).
type CertificateInfo struct {
	OwnerID    string    `json:"owner_id"`
	HolderName string    `json:"holder_name"`
	TaxID      string    `json:"tax_id"`
	Serial     string    `json:"serial"`
	Issuer     string    `json:"issuer"`
	NotBefore  time.Time `json:"not_before"`
	NotAfter   time.Time `json:"not_after"`
	DaysLeft   int       `json:"days_left"`
	Status     string    `json:"status"`
}

// Info arma la vista pública del certificado.
func (c *Certificate) Info(now time.Time) CertificateInfo {
	return CertificateInfo{
		OwnerID:    c.OwnerID,
		HolderName: c.HolderName,
		TaxID:      c.TaxID,
		Serial:     c.Serial,
		Issuer:     c.Issuer,
		NotBefore:  c.NotBefore,
		NotAfter:   c.NotAfter,
		DaysLeft:   c.DaysUntilExpiry(now),
		Status:     c.Status(now),
	}
}
