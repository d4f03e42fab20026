package testutil

import (
	"bytes"
	"compress/gzip"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// SefazServer es un autorizador falso sobre TLS mutuo. Handler recibe el
// envelope SOAP completo y el action del Content-Type.
type SefazServer struct {
	*httptest.Server
	CA         *CA
	CADir      string
	ClientCert tls.Certificate

	hits      atomic.Int64
	mu        sync.Mutex
	actions   []string
	envelopes []string
}

// SefazHandler responde a una requisición; status 0 equivale a 200.
type SefazHandler func(action string, envelope []byte) (status int, body string)

// NewSefazServer levanta el servidor exigiendo certificado de cliente emitido por la misma AC.
func NewSefazServer(t *testing.T, handler SefazHandler) *SefazServer {
	t.Helper()
	ca := NewCA(t)
	server := ca.IssueServer(t)
	client := ca.IssueClient(t, time.Now().Add(-time.Hour), time.Now().AddDate(1, 0, 0))

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "ac-teste.pem"), ca.PEM(), 0o600); err != nil {
		t.Fatalf("escribir AC: %v", err)
	}

	s := &SefazServer{CA: ca, CADir: dir, ClientCert: client.TLS(ca)}
	s.Server = httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		action := soapAction(r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.actions = append(s.actions, action)
		s.envelopes = append(s.envelopes, string(body))
		s.mu.Unlock()

		status, resp := handler(action, body)
		if status == 0 {
			status = http.StatusOK
		}
		w.Header().Set("Content-Type", "application/soap+xml; charset=utf-8")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, resp)
	}))
	s.Server.TLS = &tls.Config{
		Certificates: []tls.Certificate{server.TLS(ca)},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    ca.Pool(),
		MinVersion:   tls.VersionTLS12,
	}
	s.StartTLS()
	t.Cleanup(s.Close)
	return s
}

// Hits es la cantidad de requisiciones recibidas.
func (s *SefazServer) Hits() int { return int(s.hits.Load()) }

// Actions devuelve los actions SOAP recibidos, en orden.
func (s *SefazServer) Actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.actions...)
}

// Envelopes devuelve los cuerpos SOAP recibidos, en orden.
func (s *SefazServer) Envelopes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.envelopes...)
}

func soapAction(contentType string) string {
	for _, part := range strings.Split(contentType, ";") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "action=") {
			return strings.Trim(strings.TrimPrefix(part, "action="), `"`)
		}
	}
	return ""
}

// ── Respuestas SOAP ──────────────────────────────────────────────────────────

// SoapResponse envuelve el XML de retorno como lo hacen los autorizadores (nfeResultMsg).
func SoapResponse(service, inner string) string {
	return `<?xml version="1.0" encoding="utf-8"?>` +
		`<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope">` +
		`<soap:Body><nfeResultMsg xmlns="http://www.portalfiscal.inf.br/nfe/wsdl/` + service + `">` +
		inner + `</nfeResultMsg></soap:Body></soap:Envelope>`
}

// SoapFault arma un Fault SOAP 1.2 con el código indicado (Receiver, Sender).
func SoapFault(code, reason string) string {
	return `<?xml version="1.0" encoding="utf-8"?>` +
		`<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope"><soap:Body>` +
		`<soap:Fault><soap:Code><soap:Value>soap:` + code + `</soap:Value></soap:Code>` +
		`<soap:Reason><soap:Text xml:lang="pt">` + reason + `</soap:Text></soap:Reason></soap:Fault>` +
		`</soap:Body></soap:Envelope>`
}

// RetEnviNFe es un retorno síncrono de autorização con protNFe.
func RetEnviNFe(accessKey, cStat, reason, protocol string) string {
	return `<retEnviNFe xmlns="http://www.portalfiscal.inf.br/nfe" versao="4.00">` +
		`<tpAmb>2</tpAmb><verAplic>SP_NFE_PL009_V4</verAplic><cStat>104</cStat><xMotivo>Lote processado</xMotivo>` +
		`<cUF>35</cUF><dhRecbto>2025-07-10T14:30:05-03:00</dhRecbto>` +
		`<protNFe versao="4.00"><infProt><tpAmb>2</tpAmb><verAplic>SP_NFE_PL009_V4</verAplic>` +
		`<chNFe>` + accessKey + `</chNFe><dhRecbto>2025-07-10T14:30:05-03:00</dhRecbto>` +
		optional("nProt", protocol) + `<digVal>dGVzdGU=</digVal>` +
		`<cStat>` + cStat + `</cStat><xMotivo>` + reason + `</xMotivo></infProt></protNFe></retEnviNFe>`
}

// RetConsSitNFe es un retorno de consulta de situação.
func RetConsSitNFe(accessKey, cStat, reason, protocol string) string {
	return `<retConsSitNFe xmlns="http://www.portalfiscal.inf.br/nfe" versao="4.00">` +
		`<tpAmb>2</tpAmb><verAplic>SP_NFE_PL009_V4</verAplic><cStat>` + cStat + `</cStat><xMotivo>` + reason + `</xMotivo>` +
		`<cUF>35</cUF><dhRecbto>2025-07-11T09:00:00-03:00</dhRecbto><chNFe>` + accessKey + `</chNFe>` +
		`<protNFe versao="4.00"><infProt><tpAmb>2</tpAmb><chNFe>` + accessKey + `</chNFe>` +
		`<dhRecbto>2025-07-10T14:30:05-03:00</dhRecbto>` + optional("nProt", protocol) +
		`<cStat>100</cStat><xMotivo>Autorizado o uso da NF-e</xMotivo></infProt></protNFe></retConsSitNFe>`
}

// RetEnvEvento es un retorno de evento.
func RetEnvEvento(accessKey, cStat, reason, protocol string) string {
	return `<retEnvEvento xmlns="http://www.portalfiscal.inf.br/nfe" versao="1.00"><idLote>1</idLote>` +
		`<tpAmb>2</tpAmb><verAplic>SP_EVENTOS_PL_100</verAplic><cOrgao>35</cOrgao><cStat>128</cStat>` +
		`<xMotivo>Lote de Evento Processado</xMotivo><retEvento versao="1.00"><infEvento>` +
		`<tpAmb>2</tpAmb><cOrgao>35</cOrgao><cStat>` + cStat + `</cStat><xMotivo>` + reason + `</xMotivo>` +
		`<chNFe>` + accessKey + `</chNFe><tpEvento>110111</tpEvento><nSeqEvento>1</nSeqEvento>` +
		`<dhRegEvento>2025-07-11T10:00:00-03:00</dhRegEvento>` + optional("nProt", protocol) +
		`</infEvento></retEvento></retEnvEvento>`
}

// RetInutNFe es un retorno de inutilização.
func RetInutNFe(cStat, reason, protocol string) string {
	return `<retInutNFe xmlns="http://www.portalfiscal.inf.br/nfe" versao="4.00"><infInut>` +
		`<tpAmb>2</tpAmb><verAplic>SP_NFE_PL009_V4</verAplic><cStat>` + cStat + `</cStat><xMotivo>` + reason + `</xMotivo>` +
		`<cUF>35</cUF><ano>25</ano><CNPJ>` + TestCNPJ + `</CNPJ><mod>55</mod><serie>1</serie>` +
		`<nNFIni>10</nNFIni><nNFFin>20</nNFFin><dhRecbto>2025-07-11T11:00:00-03:00</dhRecbto>` +
		optional("nProt", protocol) + `</infInut></retInutNFe>`
}

// RetConsStatServ es un retorno de status de servicio.
func RetConsStatServ(cStat, reason string) string {
	return `<retConsStatServ xmlns="http://www.portalfiscal.inf.br/nfe" versao="4.00">` +
		`<tpAmb>2</tpAmb><verAplic>SP_NFE_PL009_V4</verAplic><cStat>` + cStat + `</cStat>` +
		`<xMotivo>` + reason + `</xMotivo><cUF>35</cUF><dhRecbto>2025-07-11T12:00:00-03:00</dhRecbto>` +
		`<tMed>1</tMed></retConsStatServ>`
}

// DistDoc es un documento a incluir en un retDistDFeInt.
type DistDoc struct {
	NSU    string
	Schema string
	XML    string
}

// RetDistDFeInt arma el retorno de distribución con los documentos comprimidos.
func RetDistDFeInt(t *testing.T, cStat, ultNSU, maxNSU string, docs ...DistDoc) string {
	t.Helper()
	reason := "Documento localizado"
	if cStat == "137" {
		reason = "Nenhum documento localizado"
	}
	var b strings.Builder
	fmt.Fprintf(&b, `<retDistDFeInt xmlns="http://www.portalfiscal.inf.br/nfe" versao="1.01">`+
		`<tpAmb>1</tpAmb><verAplic>1.7.6</verAplic><cStat>%s</cStat><xMotivo>%s</xMotivo>`+
		`<dhResp>2025-07-11T13:00:00-03:00</dhResp><ultNSU>%s</ultNSU><maxNSU>%s</maxNSU>`,
		cStat, reason, ultNSU, maxNSU)
	if len(docs) > 0 {
		b.WriteString(`<loteDistDFeInt>`)
		for _, d := range docs {
			fmt.Fprintf(&b, `<docZip NSU="%s" schema="%s">%s</docZip>`, d.NSU, d.Schema, GzipBase64(t, d.XML))
		}
		b.WriteString(`</loteDistDFeInt>`)
	}
	b.WriteString(`</retDistDFeInt>`)
	return b.String()
}

// GzipBase64 comprime y codifica como lo hace el Ambiente Nacional.
func GzipBase64(t *testing.T, s string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(s)); err != nil {
		t.Fatalf("gzip: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// DistributionResponse envuelve retDistDFeInt en el envelope del método de distribución.
func DistributionResponse(inner string) string {
	return `<?xml version="1.0" encoding="utf-8"?>` +
		`<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope"><soap:Body>` +
		`<nfeDistDFeInteresseResponse xmlns="http://www.portalfiscal.inf.br/nfe/wsdl/NFeDistribuicaoDFe">` +
		`<nfeDistDFeInteresseResult>` + inner + `</nfeDistDFeInteresseResult>` +
		`</nfeDistDFeInteresseResponse></soap:Body></soap:Envelope>`
}

func optional(tag, value string) string {
	if value == "" {
		return ""
	}
	return "<" + tag + ">" + value + "</" + tag + ">"
}
