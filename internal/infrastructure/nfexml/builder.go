// Package nfexml arma los XML del layout NF-e 4.00: la nota (infNFe), el lote
// enviNFe, los eventos de cancelamento, la inutilização y las consultas
// (consSitNFe, consStatServ, distDFeInt). Los documentos se generan sin
// indentación: la SEFAZ rechaza caracteres de edición entre tags (cStat 588).
package nfexml

import (
	"bytes"
	"encoding/xml"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/Fiscal-api/pkg/nfe"
)

// Formato de fecha-hora UTC con offset exigido por el layout (TDateTimeUTC).
const dateTimeLayout = "2006-01-02T15:04:05-07:00"

var declaration = regexp.MustCompile(`^\s*<\?xml[^>]*\?>\s*`)

// StripDeclaration elimina la declaración <?xml ...?> para incrustar un documento dentro de otro.
func StripDeclaration(doc []byte) []byte {
	return declaration.ReplaceAll(doc, nil)
}

// ── Escritura de tokens ───────────────────────────────────────────────────────

func start(enc *xml.Encoder, local string, attrs ...xml.Attr) {
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Local: local}, Attr: attrs})
}

func end(enc *xml.Encoder, local string) {
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: local}})
}

// writeEl escribe <local>value</local>.
func writeEl(enc *xml.Encoder, local, value string) {
	start(enc, local)
	_ = enc.EncodeToken(xml.CharData(value))
	end(enc, local)
}

// writeOpt omite el elemento si value está vacío (campos opcionales del layout).
func writeOpt(enc *xml.Encoder, local, value string) {
	if value != "" {
		writeEl(enc, local, value)
	}
}

func attr(name, value string) xml.Attr {
	return xml.Attr{Name: xml.Name{Local: name}, Value: value}
}

// rootAttrs son xmlns + versao del elemento raíz de cada mensaje.
func rootAttrs(version string, extra ...xml.Attr) []xml.Attr {
	attrs := []xml.Attr{attr("xmlns", nfe.NamespaceNFe), attr("versao", version)}
	return append(attrs, extra...)
}

// writeTaxID escribe <CNPJ> o <CPF> según la cantidad de dígitos.
func writeTaxID(enc *xml.Encoder, taxID string) {
	digits := nfe.OnlyDigits(taxID)
	if len(digits) == 11 {
		writeEl(enc, "CPF", digits)
		return
	}
	writeEl(enc, "CNPJ", digits)
}

func finish(enc *xml.Encoder, buf *bytes.Buffer) ([]byte, error) {
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ── Formatos ──────────────────────────────────────────────────────────────────

// formatDecimal redondea a places decimales con punto como separador (TDec_1302 y afines).
func formatDecimal(d decimal.Decimal, places int32) string {
	return d.Round(places).StringFixed(places)
}

func formatDateTime(t time.Time) string {
	return t.Format(dateTimeLayout)
}

// text normaliza y recorta a max runas.
func text(s string, max int) string {
	s = nfe.NormalizeText(s)
	r := []rune(s)
	if len(r) > max {
		s = strings.TrimSpace(string(r[:max]))
	}
	return s
}
