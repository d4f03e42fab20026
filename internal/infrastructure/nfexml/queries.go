package nfexml

import (
	"bytes"
	"encoding/xml"
	"fmt"

	"github.com/jhoicas/Fiscal-api/internal/domain"
	"github.com/jhoicas/Fiscal-api/internal/domain/entity"
	"github.com/jhoicas/Fiscal-api/pkg/nfe"
)

// BuildConsSit genera la consulta de situação por chave.
func BuildConsSit(env nfe.Environment, accessKey string) ([]byte, error) {
	if !nfe.Verify(accessKey) {
		return nil, domain.NewValidationError("nfexml.BuildConsSit", "chave de acesso inválida", nil)
	}
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	start(enc, "consSitNFe", rootAttrs(nfe.VersionNFe)...)
	writeEl(enc, "tpAmb", string(env))
	writeEl(enc, "xServ", "CONSULTAR")
	writeEl(enc, "chNFe", accessKey)
	end(enc, "consSitNFe")
	return finish(enc, &buf)
}

// BuildStatusService genera consStatServ para la UF (sigla).
func BuildStatusService(env nfe.Environment, uf string) ([]byte, error) {
	code, ok := nfe.UFCode(uf)
	if !ok {
		return nil, domain.NewValidationError("nfexml.BuildStatusService", fmt.Sprintf("UF desconhecida %q", uf), nil)
	}
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	start(enc, "consStatServ", rootAttrs(nfe.VersionNFe)...)
	writeEl(enc, "tpAmb", string(env))
	writeEl(enc, "cUF", code)
	writeEl(enc, "xServ", "STATUS")
	end(enc, "consStatServ")
	return finish(enc, &buf)
}

// DistributionQuery es una consulta distDFeInt: por último NSU o por chave (consChNFe).
type DistributionQuery struct {
	Environment nfe.Environment
	AuthorUF    string // sigla de la UF del interessado
	TaxID       string
	LastNSU     string
	AccessKey   string
}

// BuildDistribution genera distDFeInt versão 1.01. Con AccessKey usa consChNFe; si no, distNSU/ultNSU.
func BuildDistribution(q DistributionQuery) ([]byte, error) {
	const op = "nfexml.BuildDistribution"
	code, ok := nfe.UFCode(q.AuthorUF)
	if !ok {
		return nil, domain.NewValidationError(op, fmt.Sprintf("UF desconhecida %q", q.AuthorUF), nil)
	}
	if n := len(nfe.OnlyDigits(q.TaxID)); n != 11 && n != 14 {
		return nil, domain.NewValidationError(op, "CNPJ/CPF del interesado inválido", nil)
	}
	if q.AccessKey != "" && !nfe.Verify(q.AccessKey) {
		return nil, domain.NewValidationError(op, "chave de acesso inválida", nil)
	}
	nsu := q.LastNSU
	if nsu == "" {
		nsu = entity.NSUZero
	}
	if len(nfe.OnlyDigits(nsu)) != len(nsu) || len(nsu) > 15 {
		return nil, domain.NewValidationError(op, fmt.Sprintf("NSU inválido %q", nsu), nil)
	}

	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	start(enc, "distDFeInt", rootAttrs(nfe.VersionDistribuicao)...)
	writeEl(enc, "tpAmb", string(q.Environment))
	writeEl(enc, "cUFAutor", code)
	writeTaxID(enc, q.TaxID)
	if q.AccessKey != "" {
		start(enc, "consChNFe")
		writeEl(enc, "chNFe", q.AccessKey)
		end(enc, "consChNFe")
	} else {
		start(enc, "distNSU")
		writeEl(enc, "ultNSU", entity.PadNSU(nsu))
		end(enc, "distNSU")
	}
	end(enc, "distDFeInt")
	return finish(enc, &buf)
}
