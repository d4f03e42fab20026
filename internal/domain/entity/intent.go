package entity

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/Fiscal-api/pkg/nfe"
)

// Address es el endereço de emitente o destinatário.
type Address struct {
	Street   string `json:"street"`
	Number   string `json:"number"`
	District string `json:"district"`
	CityCode string `json:"city_code"` // código IBGE del municipio (7 dígitos)
	CityName string `json:"city_name"`
	UF       string `json:"uf"`
	ZIP      string `json:"zip"`
}

// Party es un participante del documento (emitente o destinatário).
type Party struct {
	TaxID             string  `json:"tax_id"` // CNPJ (14) o CPF (11)
	Name              string  `json:"name"`
	StateRegistration string  `json:"state_registration,omitempty"` // IE
	TaxRegime         string  `json:"tax_regime,omitempty"`         // CRT: 1 Simples Nacional, 3 regime normal
	Address           Address `json:"address"`
}

// IntentItem es una línea del documento. Los tributos no se calculan aquí.
type IntentItem struct {
	Code        string          `json:"code"`
	Description string          `json:"description"`
	NCM         string          `json:"ncm"`
	CFOP        string          `json:"cfop"`
	Unit        string          `json:"unit"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// Total es quantidade × valor unitário redondeado a 2 decimales.
func (i IntentItem) Total() decimal.Decimal {
	return i.Quantity.Mul(i.UnitPrice).Round(2)
}

// DocumentIntent es la entrada del orquestador para emitir un documento.
// Number = 0 pide al almacén de numeración el siguiente de la serie.
type DocumentIntent struct {
	Kind              nfe.DocumentKind `json:"kind"`
	UF                string           `json:"uf"`
	Environment       nfe.Environment  `json:"environment"`
	Series            int              `json:"series"`
	Number            int              `json:"number,omitempty"`
	NatureOfOperation string           `json:"nature_of_operation"`
	Issuer            Party            `json:"issuer"`
	Recipient         *Party           `json:"recipient,omitempty"`
	Items             []IntentItem     `json:"items"`
	PaymentType       string           `json:"payment_type"` // tPag: 01 dinheiro, 03 cartão de crédito, 17 PIX...
	AdditionalInfo    string           `json:"additional_info,omitempty"`
	IssuedAt          time.Time        `json:"issued_at"`
}

// Total suma los totales de línea.
func (d *DocumentIntent) Total() decimal.Decimal {
	total := decimal.Zero
	for _, it := range d.Items {
		total = total.Add(it.Total())
	}
	return total
}
