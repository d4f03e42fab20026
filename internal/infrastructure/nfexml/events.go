package nfexml

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"time"

	"github.com/jhoicas/Fiscal-api/internal/domain"
	"github.com/jhoicas/Fiscal-api/pkg/nfe"
)

// Evento de cancelamento (leiaute de eventos 1.00).
const (
	EventTypeCancel = "110111"
	cancelDesc      = "Cancelamento"
)

// Límites de xJust tras normalizar (NFC + espacios colapsados).
const (
	MinJustification = 15
	MaxJustification = 255
)

// NormalizeJustification normaliza y verifica el largo de xJust.
func NormalizeJustification(op, s string) (string, error) {
	j := nfe.NormalizeText(s)
	n := nfe.TextLength(j)
	if n < MinJustification || n > MaxJustification {
		return "", domain.NewValidationError(op,
			fmt.Sprintf("la justificativa debe tener entre %d y %d caracteres (tiene %d)", MinJustification, MaxJustification, n), nil)
	}
	return j, nil
}

// ── Cancelamento ─────────────────────────────────────────────────────────────

// CancelEvent son los datos del envEvento de cancelamento.
type CancelEvent struct {
	LotID         string
	AccessKey     string
	Protocol      string // nProt de autorização, 15 dígitos
	Justification string
	TaxID         string // autor del evento (CNPJ/CPF del emitente)
	Environment   nfe.Environment
	Sequence      int // nSeqEvento, 1 para el primer cancelamento
	At            time.Time
}

// EventID arma el Id del infEvento: ID + tpEvento + chave + nSeqEvento(2).
func EventID(eventType, accessKey string, seq int) string {
	return fmt.Sprintf("ID%s%s%02d", eventType, accessKey, seq)
}

// BuildCancelEvent genera el envEvento sin firma; el signer firma infEvento.
func BuildCancelEvent(ev CancelEvent) ([]byte, error) {
	const op = "nfexml.BuildCancelEvent"
	if !nfe.Verify(ev.AccessKey) {
		return nil, domain.NewValidationError(op, "chave de acesso inválida", nil)
	}
	if p := nfe.OnlyDigits(ev.Protocol); len(p) != 15 || p != ev.Protocol {
		return nil, domain.NewValidationError(op, "el protocolo de autorización debe tener 15 dígitos", nil)
	}
	just, err := NormalizeJustification(op, ev.Justification)
	if err != nil {
		return nil, err
	}
	if ev.Sequence < 1 || ev.Sequence > 20 {
		return nil, domain.NewValidationError(op, "nSeqEvento fuera del intervalo 1-20", nil)
	}
	if n := len(nfe.OnlyDigits(ev.TaxID)); n != 11 && n != 14 {
		return nil, domain.NewValidationError(op, "CNPJ/CPF del autor inválido", nil)
	}
	lot := nfe.OnlyDigits(ev.LotID)
	if lot == "" {
		lot = "1"
	}

	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	start(enc, "envEvento", rootAttrs(nfe.VersionEvento)...)
	writeEl(enc, "idLote", lot)
	start(enc, "evento", attr("versao", nfe.VersionEvento))
	start(enc, "infEvento", attr("Id", EventID(EventTypeCancel, ev.AccessKey, ev.Sequence)))
	writeEl(enc, "cOrgao", ev.AccessKey[0:2])
	writeEl(enc, "tpAmb", string(ev.Environment))
	writeTaxID(enc, ev.TaxID)
	writeEl(enc, "chNFe", ev.AccessKey)
	writeEl(enc, "dhEvento", formatDateTime(ev.At))
	writeEl(enc, "tpEvento", EventTypeCancel)
	writeEl(enc, "nSeqEvento", strconv.Itoa(ev.Sequence))
	writeEl(enc, "verEvento", nfe.VersionEvento)
	start(enc, "detEvento", attr("versao", nfe.VersionEvento))
	writeEl(enc, "descEvento", cancelDesc)
	writeEl(enc, "nProt", ev.Protocol)
	writeEl(enc, "xJust", just)
	end(enc, "detEvento")
	end(enc, "infEvento")
	end(enc, "evento")
	end(enc, "envEvento")
	return finish(enc, &buf)
}

// ── Inutilização ─────────────────────────────────────────────────────────────

// Invalidation son los datos del inutNFe.
type Invalidation struct {
	UF            string // sigla
	Environment   nfe.Environment
	Year          int // año de la numeración; se usan los dos últimos dígitos
	TaxID         string
	Model         string
	Series        int
	From, To      int
	Justification string
}

// InvalidationID arma ID + cUF + AA + CNPJ + mod + serie(3) + nNFIni(9) + nNFFin(9).
func InvalidationID(ufCode string, year int, taxID, model string, series, from, to int) string {
	return fmt.Sprintf("ID%s%02d%s%s%03d%09d%09d", ufCode, year%100, nfe.OnlyDigits(taxID), model, series, from, to)
}

// BuildInvalidation genera el inutNFe sin firma; el signer firma infInut.
func BuildInvalidation(in Invalidation) ([]byte, error) {
	const op = "nfexml.BuildInvalidation"
	ufCode, ok := nfe.UFCode(in.UF)
	if !ok || ufCode == "91" {
		return nil, domain.NewValidationError(op, fmt.Sprintf("UF desconhecida %q", in.UF), nil)
	}
	if len(nfe.OnlyDigits(in.TaxID)) != 14 {
		return nil, domain.NewValidationError(op, "el CNPJ del emisor debe tener 14 dígitos", nil)
	}
	if in.Model != "55" && in.Model != "65" {
		return nil, domain.NewValidationError(op, fmt.Sprintf("el modelo %q no admite inutilización", in.Model), nil)
	}
	if in.Series < 0 || in.Series > 999 {
		return nil, domain.NewValidationError(op, "serie fuera del intervalo 0-999", nil)
	}
	if in.From < 1 || in.To > 999999999 || in.From > in.To {
		return nil, domain.NewValidationError(op, "intervalo de numeración inválido (1 <= inicial <= final)", nil)
	}
	just, err := NormalizeJustification(op, in.Justification)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	start(enc, "inutNFe", rootAttrs(nfe.VersionNFe)...)
	start(enc, "infInut", attr("Id", InvalidationID(ufCode, in.Year, in.TaxID, in.Model, in.Series, in.From, in.To)))
	writeEl(enc, "tpAmb", string(in.Environment))
	writeEl(enc, "xServ", "INUTILIZAR")
	writeEl(enc, "cUF", ufCode)
	writeEl(enc, "ano", fmt.Sprintf("%02d", in.Year%100))
	writeEl(enc, "CNPJ", nfe.OnlyDigits(in.TaxID))
	writeEl(enc, "mod", in.Model)
	writeEl(enc, "serie", strconv.Itoa(in.Series))
	writeEl(enc, "nNFIni", strconv.Itoa(in.From))
	writeEl(enc, "nNFFin", strconv.Itoa(in.To))
	writeEl(enc, "xJust", just)
	end(enc, "infInut")
	end(enc, "inutNFe")
	return finish(enc, &buf)
}
