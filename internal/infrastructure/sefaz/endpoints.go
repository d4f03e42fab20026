// Package sefaz implementa el transporte SOAP 1.2 sobre TLS mutuo con los Web
// Services de la SEFAZ, el registro de clientes por autorizador y el parser de
// respuestas.
package sefaz

import (
	"fmt"
	"strings"

	"github.com/jhoicas/Fiscal-api/internal/domain"
	"github.com/jhoicas/Fiscal-api/internal/domain/entity"
	"github.com/jhoicas/Fiscal-api/pkg/nfe"
)

// ── Servicios WSDL ────────────────────────────────────────────────────────────

const wsdlBase = "http://www.portalfiscal.inf.br/nfe/wsdl/"

// Service es el par servicio/método del WSDL de cada operación.
type Service struct {
	Name   string
	Method string
}

var services = map[nfe.Operation]Service{
	nfe.OpAuthorization: {Name: "NFeAutorizacao4", Method: "nfeAutorizacaoLote"},
	nfe.OpConsultation:  {Name: "NFeConsultaProtocolo4", Method: "nfeConsultaNF"},
	nfe.OpCancellation:  {Name: "NFeRecepcaoEvento4", Method: "nfeRecepcaoEvento"},
	nfe.OpInvalidation:  {Name: "NFeInutilizacao4", Method: "nfeInutilizacaoNF"},
	nfe.OpStatusService: {Name: "NFeStatusServico4", Method: "nfeStatusServicoNF"},
	nfe.OpDistribution:  {Name: "NFeDistribuicaoDFe", Method: "nfeDistDFeInteresse"},
}

// Endpoint es el destino resuelto de una operación.
type Endpoint struct {
	Operation  nfe.Operation
	Authorizer string // SP, SVRS, AN...
	URL        string
	Service    Service
}

// Namespace del elemento nfeDadosMsg.
func (e Endpoint) Namespace() string { return wsdlBase + e.Service.Name }

// Action es el parámetro action del Content-Type SOAP 1.2.
func (e Endpoint) Action() string { return e.Namespace() + "/" + e.Service.Method }

// ── Tabla de autorizadores ───────────────────────────────────────────────────

// ServiceURLs asocia cada operación a su URL en un autorizador y ambiente.
type ServiceURLs map[nfe.Operation]string

// Table es la tabla inmutable de endpoints. Las claves son bindings de
// autorizador (SP, SVRS, AN...) y no de UF; byUF traduce UF → autorizador.
type Table struct {
	urls map[entity.EndpointBinding]ServiceURLs
	byUF map[string]string
}

// UFs atendidas por la SEFAZ Virtual do Rio Grande do Sul.
var svrsUFs = []string{"AL", "AP", "DF", "ES", "PB", "RJ", "RN", "RO", "RR", "SC", "SE", "TO"}

// NewTable arma una tabla con las URLs dadas; cada autorizador atiende su propia sigla.
func NewTable(urls map[entity.EndpointBinding]ServiceURLs, byUF map[string]string) *Table {
	t := &Table{urls: map[entity.EndpointBinding]ServiceURLs{}, byUF: map[string]string{}}
	for b, svc := range urls {
		cp := ServiceURLs{}
		for op, u := range svc {
			cp[op] = u
		}
		t.urls[entity.EndpointBinding{UF: strings.ToUpper(b.UF), Environment: b.Environment}] = cp
	}
	for uf, auth := range byUF {
		t.byUF[strings.ToUpper(uf)] = strings.ToUpper(auth)
	}
	return t
}

// DefaultTable devuelve los Web Services 4.00 publicados por el Portal Nacional.
func DefaultTable() *Table {
	urls := map[entity.EndpointBinding]ServiceURLs{}
	add := func(auth string, env nfe.Environment, svc ServiceURLs) {
		urls[entity.EndpointBinding{UF: auth, Environment: env}] = svc
	}

	asmx := func(base string) ServiceURLs {
		return ServiceURLs{
			nfe.OpAuthorization: base + "nfeautorizacao4.asmx",
			nfe.OpConsultation:  base + "nfeconsultaprotocolo4.asmx",
			nfe.OpStatusService: base + "nfestatusservico4.asmx",
			nfe.OpCancellation:  base + "nferecepcaoevento4.asmx",
			nfe.OpInvalidation:  base + "nfeinutilizacao4.asmx",
		}
	}
	add("SP", nfe.Production, asmx("https://nfe.fazenda.sp.gov.br/ws/"))
	add("SP", nfe.Homologation, asmx("https://homologacao.nfe.fazenda.sp.gov.br/ws/"))

	svrs := func(base string) ServiceURLs {
		return ServiceURLs{
			nfe.OpAuthorization: base + "NfeAutorizacao/NFeAutorizacao4.asmx",
			nfe.OpConsultation:  base + "NfeConsulta/NfeConsulta4.asmx",
			nfe.OpStatusService: base + "NfeStatusServico/NfeStatusServico4.asmx",
			nfe.OpCancellation:  base + "recepcaoevento/recepcaoevento4.asmx",
			nfe.OpInvalidation:  base + "nfeinutilizacao/nfeinutilizacao4.asmx",
		}
	}
	add(nfe.UFSVRS, nfe.Production, svrs("https://nfe.svrs.rs.gov.br/ws/"))
	add(nfe.UFSVRS, nfe.Homologation, svrs("https://nfe-homologacao.svrs.rs.gov.br/ws/"))

	named := func(base string) ServiceURLs {
		return ServiceURLs{
			nfe.OpAuthorization: base + "NFeAutorizacao4",
			nfe.OpConsultation:  base + "NFeConsultaProtocolo4",
			nfe.OpStatusService: base + "NFeStatusServico4",
			nfe.OpCancellation:  base + "NFeRecepcaoEvento4",
			nfe.OpInvalidation:  base + "NFeInutilizacao4",
		}
	}
	add("AC", nfe.Production, named("https://nfe.sefaz.ac.gov.br/ws/"))
	add("AC", nfe.Homologation, named("https://hom.nfe.sefaz.ac.gov.br/ws/"))
	add("MS", nfe.Production, named("https://nfe.sefaz.ms.gov.br/ws/"))
	add("MS", nfe.Homologation, named("https://hom.nfe.sefaz.ms.gov.br/ws/"))
	add("PE", nfe.Production, named("https://nfe.sefaz.pe.gov.br/nfe-service/services/"))
	add("PE", nfe.Homologation, named("https://nfehomolog.sefaz.pe.gov.br/nfe-service/services/"))

	add(nfe.UFAN, nfe.Production, ServiceURLs{
		nfe.OpDistribution: "https://www1.nfe.fazenda.gov.br/NFeDistribuicaoDFe/NFeDistribuicaoDFe.asmx",
	})
	add(nfe.UFAN, nfe.Homologation, ServiceURLs{
		nfe.OpDistribution: "https://hom1.nfe.fazenda.gov.br/NFeDistribuicaoDFe/NFeDistribuicaoDFe.asmx",
	})

	byUF := map[string]string{}
	for _, uf := range svrsUFs {
		byUF[uf] = nfe.UFSVRS
	}
	return NewTable(urls, byUF)
}

// Authorizer devuelve el autorizador que atiende la UF para la operación.
// La distribución DF-e es siempre del Ambiente Nacional.
func (t *Table) Authorizer(uf string, op nfe.Operation) string {
	if op == nfe.OpDistribution {
		return nfe.UFAN
	}
	uf = strings.ToUpper(strings.TrimSpace(uf))
	if auth, ok := t.byUF[uf]; ok {
		return auth
	}
	return uf
}

// Resolve es una función pura: no hace I/O. Un par UF/ambiente u operación sin
// URL devuelve ConfigurationError.
func (t *Table) Resolve(b entity.EndpointBinding, op nfe.Operation) (Endpoint, error) {
	const opName = "sefaz.Resolve"
	svc, ok := services[op]
	if !ok {
		return Endpoint{}, domain.NewConfigurationError(opName, fmt.Sprintf("operación desconocida %q", op), nil)
	}
	if !b.Environment.Valid() {
		return Endpoint{}, domain.NewConfigurationError(opName, fmt.Sprintf("ambiente inválido %q", b.Environment), nil)
	}
	auth := t.Authorizer(b.UF, op)
	urls, ok := t.urls[entity.EndpointBinding{UF: auth, Environment: b.Environment}]
	if !ok {
		return Endpoint{}, domain.NewConfigurationError(opName,
			fmt.Sprintf("sin Web Service configurado para %s", b), nil)
	}
	u, ok := urls[op]
	if !ok || u == "" {
		return Endpoint{}, domain.NewConfigurationError(opName,
			fmt.Sprintf("el autorizador %s no atiende %s", auth, op), nil)
	}
	return Endpoint{Operation: op, Authorizer: auth, URL: u, Service: svc}, nil
}
