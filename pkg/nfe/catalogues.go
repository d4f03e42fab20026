// Package nfe contiene los catálogos, la chave de acesso y los tipos básicos del
// ecosistema NF-e (Portal Nacional da Nota Fiscal Eletrônica, layout 4.00).
package nfe

import (
	"fmt"
	"strings"
)

// Namespace del layout NF-e.
const NamespaceNFe = "http://www.portalfiscal.inf.br/nfe"

// Versiones de layout por servicio.
const (
	VersionNFe          = "4.00"
	VersionEvento       = "1.00"
	VersionDistribuicao = "1.01"
)

// =============================================================================
// Ambiente (tpAmb)
// =============================================================================

// Environment es el tpAmb: "1" producción, "2" homologación.
type Environment string

const (
	Production   Environment = "1"
	Homologation Environment = "2"
)

// ParseEnvironment acepta el código numérico o su nombre.
func ParseEnvironment(s string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "producao", "produção", "production", "prod":
		return Production, nil
	case "2", "homologacao", "homologação", "homologation", "staging", "test":
		return Homologation, nil
	}
	return "", fmt.Errorf("nfe: ambiente desconocido %q (usar 1=producao o 2=homologacao)", s)
}

// Valid indica si el ambiente es uno de los dos soportados.
func (e Environment) Valid() bool { return e == Production || e == Homologation }

// Dir es el subdirectorio de esquemas XSD del ambiente.
func (e Environment) Dir() string {
	if e == Production {
		return "producao"
	}
	return "homologacao"
}

func (e Environment) String() string {
	switch e {
	case Production:
		return "producao"
	case Homologation:
		return "homologacao"
	}
	return string(e)
}

// =============================================================================
// Modelos de documento
// =============================================================================

// DocumentKind identifica el tipo de documento fiscal.
type DocumentKind string

const (
	KindNFe  DocumentKind = "NFe"
	KindNFCe DocumentKind = "NFCe"
	KindCTe  DocumentKind = "CTe"
	KindMDFe DocumentKind = "MDFe"
)

var modelByKind = map[DocumentKind]string{
	KindNFe:  "55",
	KindNFCe: "65",
	KindCTe:  "57",
	KindMDFe: "58",
}

// Model devuelve el código de modelo (mod) de la chave.
func (k DocumentKind) Model() (string, error) {
	m, ok := modelByKind[k]
	if !ok {
		return "", fmt.Errorf("nfe: tipo de documento desconocido %q", k)
	}
	return m, nil
}

// =============================================================================
// Operaciones del Web Service
// =============================================================================

// Operation identifica un servicio SEFAZ; determina endpoint, esquema y parser.
type Operation string

const (
	OpAuthorization Operation = "autorizacao"
	OpConsultation  Operation = "consulta"
	OpCancellation  Operation = "cancelamento"
	OpInvalidation  Operation = "inutilizacao"
	OpDistribution  Operation = "distribuicao"
	OpStatusService Operation = "status"
)

// Operations lista todas las operaciones en orden estable.
var Operations = []Operation{
	OpAuthorization, OpConsultation, OpCancellation, OpInvalidation, OpDistribution, OpStatusService,
}

// =============================================================================
// Unidades federativas (códigos IBGE)
// =============================================================================

var ufCodes = map[string]string{
	"RO": "11", "AC": "12", "AM": "13", "RR": "14", "PA": "15", "AP": "16", "TO": "17",
	"MA": "21", "PI": "22", "CE": "23", "RN": "24", "PB": "25", "PE": "26", "AL": "27",
	"SE": "28", "BA": "29", "MG": "31", "ES": "32", "RJ": "33", "SP": "35", "PR": "41",
	"SC": "42", "RS": "43", "MS": "50", "MT": "51", "GO": "52", "DF": "53",
}

// Autorizadores virtuales. AN es el Ambiente Nacional (distribución DF-e).
const (
	UFSVRS = "SVRS"
	UFAN   = "AN"
	codeAN = "91"
)

var ufByCode = func() map[string]string {
	m := make(map[string]string, len(ufCodes))
	for sigla, code := range ufCodes {
		m[code] = sigla
	}
	return m
}()

// UFCode devuelve el código IBGE de la sigla (SP → 35). SVRS usa el de RS y AN el 91.
func UFCode(sigla string) (string, bool) {
	s := strings.ToUpper(strings.TrimSpace(sigla))
	switch s {
	case UFSVRS:
		return ufCodes["RS"], true
	case UFAN:
		return codeAN, true
	}
	code, ok := ufCodes[s]
	return code, ok
}

// UFSiglaByCode es la operación inversa de UFCode para las 27 unidades.
func UFSiglaByCode(code string) (string, bool) {
	s, ok := ufByCode[code]
	return s, ok
}

// UFs devuelve las 27 siglas.
func UFs() []string {
	out := make([]string, 0, len(ufCodes))
	for s := range ufCodes {
		out = append(out, s)
	}
	return out
}
