package sefaz

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/jhoicas/Fiscal-api/internal/domain"
	"github.com/jhoicas/Fiscal-api/pkg/nfe"
)

// Response es la respuesta normalizada de cualquier servicio SEFAZ.
type Response struct {
	Operation      nfe.Operation
	StatusCode     string // cStat efectivo (el del protocolo si existe)
	Reason         string // xMotivo literal
	ProtocolNumber string
	AccessKey      string
	ReceivedAt     time.Time
	LotStatusCode  string // cStat del lote (104, 128...) cuando difiere del efectivo
	AverageSeconds int    // tMed del status de servicio
	ProtocolXML    []byte // protNFe / retEvento / retInutNFe para archivar con el documento
	Payload        []byte // elemento de retorno sin envelope, para validar contra el XSD
}

// Success aplica la tabla de éxito por operación.
func (r Response) Success() bool { return nfe.IsSuccess(r.Operation, r.StatusCode) }

// State clasifica el cStat.
func (r Response) State() nfe.State { return nfe.StateOf(r.Operation, r.StatusCode) }

// DistributedDoc es un documento de la caja de entrada DF-e ya descomprimido.
type DistributedDoc struct {
	NSU       string
	Schema    string // resNFe_v1.01.xsd, procNFe_v4.00.xsd, resEvento_v1.01.xsd...
	XML       []byte
	AccessKey string // vacío si el documento no trae chNFe
}

// DistributionBatch es la respuesta retDistDFeInt.
type DistributionBatch struct {
	StatusCode string
	Reason     string
	LastNSU    string
	MaxNSU     string
	ReceivedAt time.Time
	Docs       []DistributedDoc
}

var accessKeyPattern = regexp.MustCompile(`<chNFe>(\d{44})</chNFe>`)

// ExtractAccessKey busca la primera chave en el XML.
func ExtractAccessKey(xmlBytes []byte) string {
	if m := accessKeyPattern.FindSubmatch(xmlBytes); m != nil {
		return string(m[1])
	}
	return ""
}

// ── ParseResponse ────────────────────────────────────────────────────────────

// ParseResponse interpreta la respuesta de op. Tolera envelopes SOAP 1.1/1.2,
// nfeResultMsg, prefijos de namespace y las variantes de raíz de cada servicio.
// Sin cStat devuelve ProtocolRejectionError.
func ParseResponse(op nfe.Operation, raw []byte) (Response, error) {
	opName := "sefaz.ParseResponse"
	root, err := payloadRoot(opName, raw)
	if err != nil {
		return Response{}, err
	}
	resp := Response{Operation: op}

	switch op {
	case nfe.OpAuthorization:
		ret := firstOr(root, "retEnviNFe", "enviNFe")
		resp.LotStatusCode = childText(ret, "cStat")
		fill(&resp, ret)
		if prot := findFirst(ret, "protNFe"); prot != nil {
			if inf := findFirst(prot, "infProt"); inf != nil {
				fill(&resp, inf)
				resp.ProtocolXML = serialize(prot)
			}
		} else if inf := findFirst(ret, "infProt"); inf != nil {
			fill(&resp, inf)
		}
	case nfe.OpConsultation:
		ret := firstOr(root, "retConsSitNFe")
		if inf := findFirst(ret, "infProt"); inf != nil {
			fill(&resp, inf)
			if prot := findFirst(ret, "protNFe"); prot != nil {
				resp.ProtocolXML = serialize(prot)
			}
		}
		if code := childText(ret, "cStat"); code != "" {
			resp.StatusCode = code
			resp.Reason = childText(ret, "xMotivo")
		}
		if k := childText(ret, "chNFe"); k != "" {
			resp.AccessKey = k
		}
	case nfe.OpCancellation:
		ret := firstOr(root, "retEnvEvento", "retEvento", "envEvento")
		resp.LotStatusCode = childText(ret, "cStat")
		fill(&resp, ret)
		if ev := findFirst(ret, "retEvento"); ev != nil {
			if inf := findFirst(ev, "infEvento"); inf != nil {
				fill(&resp, inf)
				resp.ProtocolXML = serialize(ev)
			}
		} else if inf := findFirst(ret, "infEvento"); inf != nil {
			fill(&resp, inf)
		}
	case nfe.OpInvalidation:
		ret := firstOr(root, "retInutNFe", "inutNFe")
		fill(&resp, ret)
		if inf := findFirst(ret, "infInut"); inf != nil {
			fill(&resp, inf)
			resp.ProtocolXML = serialize(ret)
		}
	case nfe.OpStatusService:
		ret := firstOr(root, "retConsStatServ")
		fill(&resp, ret)
		resp.AverageSeconds, _ = strconv.Atoi(childText(ret, "tMed"))
	default:
		return Response{}, domain.NewConfigurationError(opName, fmt.Sprintf("operación sin parser %q", op), nil)
	}

	if resp.StatusCode == "" {
		return Response{}, domain.NewProtocolRejectionError(opName, "", "respuesta sin cStat")
	}
	if resp.LotStatusCode == resp.StatusCode {
		resp.LotStatusCode = ""
	}
	resp.Payload = serialize(root)
	return resp, nil
}

// fill copia los campos presentes en el elemento; los ausentes no pisan los previos.
func fill(r *Response, el *etree.Element) {
	if el == nil {
		return
	}
	if v := childText(el, "cStat"); v != "" {
		r.StatusCode = v
		r.Reason = childText(el, "xMotivo")
	}
	if v := childText(el, "nProt"); v != "" {
		r.ProtocolNumber = v
	}
	if v := childText(el, "chNFe"); v != "" {
		r.AccessKey = v
	}
	for _, tag := range []string{"dhRecbto", "dhRegEvento"} {
		if v := childText(el, tag); v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				r.ReceivedAt = t
			}
		}
	}
}

// ── ParseDistribution ────────────────────────────────────────────────────────

// ParseDistribution interpreta retDistDFeInt y descomprime cada docZip (base64 + gzip).
func ParseDistribution(raw []byte) (DistributionBatch, error) {
	const opName = "sefaz.ParseDistribution"
	root, err := payloadRoot(opName, raw)
	if err != nil {
		return DistributionBatch{}, err
	}
	ret := firstOr(root, "retDistDFeInt")
	batch := DistributionBatch{
		StatusCode: childText(ret, "cStat"),
		Reason:     childText(ret, "xMotivo"),
		LastNSU:    childText(ret, "ultNSU"),
		MaxNSU:     childText(ret, "maxNSU"),
	}
	if batch.StatusCode == "" {
		return DistributionBatch{}, domain.NewProtocolRejectionError(opName, "", "respuesta sin cStat")
	}
	if t, err := time.Parse(time.RFC3339, childText(ret, "dhResp")); err == nil {
		batch.ReceivedAt = t
	}
	if lote := findFirst(ret, "loteDistDFeInt"); lote != nil {
		for _, z := range lote.ChildElements() {
			if z.Tag != "docZip" {
				continue
			}
			doc := DistributedDoc{
				NSU:    z.SelectAttrValue("NSU", ""),
				Schema: z.SelectAttrValue("schema", ""),
			}
			data, err := unzipDoc(z.Text())
			if err != nil {
				return DistributionBatch{}, domain.NewProtocolRejectionError(opName, batch.StatusCode,
					fmt.Sprintf("docZip NSU %s ilegible: %v", doc.NSU, err))
			}
			doc.XML = data
			doc.AccessKey = ExtractAccessKey(data)
			batch.Docs = append(batch.Docs, doc)
		}
	}
	return batch, nil
}

func unzipDoc(b64 string) ([]byte, error) {
	compressed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		return nil, err
	}
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(io.LimitReader(zr, maxResponseSize))
}

// ── SOAP Fault ───────────────────────────────────────────────────────────────

type fault struct {
	Code   string
	Reason string
}

// retryable: Receiver (1.2) / Server (1.1) indican falla del lado del autorizador.
func (f fault) retryable() bool {
	c := strings.ToLower(f.Code)
	return strings.Contains(c, "receiver") || strings.Contains(c, "server")
}

func detectFault(raw []byte) (fault, bool) {
	if !bytes.Contains(raw, []byte("Fault")) {
		return fault{}, false
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil || doc.Root() == nil {
		return fault{}, false
	}
	body := findFirst(doc.Root(), "Body")
	if body == nil {
		return fault{}, false
	}
	el := findFirst(body, "Fault")
	if el == nil {
		return fault{}, false
	}
	f := fault{}
	if code := findFirst(el, "Code"); code != nil { // SOAP 1.2
		f.Code = localName(strings.TrimSpace(childText(code, "Value")))
		if reason := findFirst(el, "Reason"); reason != nil {
			f.Reason = childText(reason, "Text")
		}
	} else { // SOAP 1.1
		f.Code = localName(childText(el, "faultcode"))
		f.Reason = childText(el, "faultstring")
	}
	return f, true
}

// ── Utilidades etree ─────────────────────────────────────────────────────────

// payloadRoot devuelve el contenido útil: el hijo de nfeResultMsg o del Body, o la raíz.
func payloadRoot(op string, raw []byte) (*etree.Element, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil || doc.Root() == nil {
		return nil, domain.NewProtocolRejectionError(op, "", "la respuesta no es XML válido")
	}
	if f, ok := detectFault(raw); ok {
		return nil, domain.NewProtocolRejectionError(op, "", "SOAP Fault "+f.Code+": "+f.Reason)
	}
	root := doc.Root()
	if msg := findFirst(root, "nfeResultMsg"); msg != nil {
		root = msg
	} else if body := findFirst(root, "Body"); body != nil {
		root = body
	}
	if root.Tag != "nfeResultMsg" && root.Tag != "Body" {
		return root, nil
	}
	// nfeResultMsg envuelve a veces un elemento de resultado (nfeAutorizacaoLoteResult).
	// El descenso se detiene en el primer elemento ret*, tenga o no cStat directo.
	for {
		kids := root.ChildElements()
		if len(kids) == 0 || hasChild(root, "cStat") {
			return root, nil
		}
		for _, ch := range kids {
			if isReturnElement(ch) {
				return ch, nil
			}
		}
		if len(kids) != 1 {
			return root, nil
		}
		root = kids[0]
	}
}

// isReturnElement reconoce las raíces de retorno de la SEFAZ (retEnviNFe, retInutNFe...).
func isReturnElement(el *etree.Element) bool {
	return len(el.Tag) > 3 && strings.HasPrefix(el.Tag, "ret") && el.Tag[3] >= 'A' && el.Tag[3] <= 'Z'
}

// firstOr busca la primera de las etiquetas (incluida la propia raíz) o devuelve root.
func firstOr(root *etree.Element, tags ...string) *etree.Element {
	if el := findFirst(root, tags...); el != nil {
		return el
	}
	return root
}

// findFirst recorre en profundidad (preorden) comparando el nombre local.
func findFirst(el *etree.Element, tags ...string) *etree.Element {
	if el == nil {
		return nil
	}
	for _, t := range tags {
		if el.Tag == t {
			return el
		}
	}
	for _, ch := range el.ChildElements() {
		if found := findFirst(ch, tags...); found != nil {
			return found
		}
	}
	return nil
}

func hasChild(el *etree.Element, tag string) bool {
	for _, ch := range el.ChildElements() {
		if ch.Tag == tag {
			return true
		}
	}
	return false
}

func childText(el *etree.Element, tag string) string {
	if el == nil {
		return ""
	}
	for _, ch := range el.ChildElements() {
		if ch.Tag == tag {
			return strings.TrimSpace(ch.Text())
		}
	}
	return ""
}

func serialize(el *etree.Element) []byte {
	doc := etree.NewDocument()
	doc.SetRoot(el.Copy())
	out, err := doc.WriteToBytes()
	if err != nil {
		return nil
	}
	return out
}

func localName(qname string) string {
	if i := strings.LastIndex(qname, ":"); i >= 0 {
		return qname[i+1:]
	}
	return qname
}
