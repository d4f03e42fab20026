// Servicio de assinatura XMLDSig enveloped para NFe, eventos e inutilização.
// Inserta <Signature> como hermano inmediato del elemento firmado.

package signer

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha1" //nolint:gosec // leiautes legados aún exigen SHA-1
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"hash"
	"strings"

	"github.com/beevik/etree"
	"github.com/ucarion/c14n"

	"github.com/jhoicas/Fiscal-api/internal/domain"
	"github.com/jhoicas/Fiscal-api/pkg/nfe"
)

// DigestAlgorithm selecciona el par digest/firma.
type DigestAlgorithm int

const (
	DigestSHA256 DigestAlgorithm = iota
	DigestSHA1
)

type algorithm struct {
	hash      crypto.Hash
	newHash   func() hash.Hash
	digestURI string
	signURI   string
}

var algorithms = map[DigestAlgorithm]algorithm{
	DigestSHA256: {crypto.SHA256, sha256.New, AlgSHA256, AlgRSASHA256},
	DigestSHA1:   {crypto.SHA1, sha1.New, AlgSHA1, AlgRSASHA1},
}

// XMLDSigService firma documentos fiscales con el certificado A1 del emisor.
type XMLDSigService struct {
	alg algorithm
}

// NewXMLDSigService crea el servicio con SHA-256.
func NewXMLDSigService() *XMLDSigService {
	return &XMLDSigService{alg: algorithms[DigestSHA256]}
}

// NewLegacyXMLDSigService usa SHA-1 para leiautes que aún lo exigen.
func NewLegacyXMLDSigService() *XMLDSigService {
	return &XMLDSigService{alg: algorithms[DigestSHA1]}
}

// Sign implementa pkg/nfe.Signer: firma el primer infNFe, infEvento o infInut con Id.
func (s *XMLDSigService) Sign(xmlBytes []byte, cert tls.Certificate) ([]byte, error) {
	doc, err := parse(xmlBytes)
	if err != nil {
		return nil, err
	}
	var target *etree.Element
	for _, tag := range SignableElements {
		if target = findWithID(doc.Root(), tag); target != nil {
			break
		}
	}
	if target == nil {
		return nil, domain.NewSigningError("signer.Sign",
			"no hay elemento firmable con Id ("+strings.Join(SignableElements, ", ")+")", nil)
	}
	return s.sign(doc, target, cert)
}

// SignElement firma el primer elemento con el nombre local indicado.
func (s *XMLDSigService) SignElement(xmlBytes []byte, tag string, cert tls.Certificate) ([]byte, error) {
	doc, err := parse(xmlBytes)
	if err != nil {
		return nil, err
	}
	target := findLocal(doc.Root(), tag)
	if target == nil {
		return nil, domain.NewSigningError("signer.SignElement", "elemento <"+tag+"> no encontrado", nil)
	}
	return s.sign(doc, target, cert)
}

func (s *XMLDSigService) sign(doc *etree.Document, target *etree.Element, cert tls.Certificate) ([]byte, error) {
	const op = "signer.Sign"
	id := target.SelectAttrValue("Id", "")
	if id == "" {
		return nil, domain.NewSigningError(op, "el elemento <"+target.Tag+"> no tiene atributo Id", nil)
	}
	if target.Parent() == nil {
		return nil, domain.NewSigningError(op, "el elemento firmado no puede ser la raíz", nil)
	}
	priv, ok := cert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, domain.NewSigningError(op, "el certificado debe incluir llave privada RSA", nil)
	}
	if len(cert.Certificate) == 0 {
		return nil, domain.NewSigningError(op, "certificado sin cadena X.509", nil)
	}
	if _, err := x509.ParseCertificate(cert.Certificate[0]); err != nil {
		return nil, domain.NewSigningError(op, "parsear certificado", err)
	}

	// 1) Digest del elemento referenciado (C14N con los namespaces heredados)
	canonical, err := canonicalizeElement(target)
	if err != nil {
		return nil, domain.NewSigningError(op, "canonicalizar "+target.Tag, err)
	}
	h := s.alg.newHash()
	h.Write(canonical)
	digestB64 := base64.StdEncoding.EncodeToString(h.Sum(nil))

	// 2) Signature hermana inmediata del elemento firmado, SignatureValue pendiente
	sigXML := buildSignature(s.buildSignedInfo(id, digestB64), "",
		base64.StdEncoding.EncodeToString(cert.Certificate[0]))
	sigDoc := etree.NewDocument()
	if err := sigDoc.ReadFromString(sigXML); err != nil {
		return nil, domain.NewSigningError(op, "parsear Signature", err)
	}
	sig := sigDoc.Root()
	target.Parent().InsertChildAt(target.Index()+1, sig)

	// 3) SignedInfo canonicalizado en su contexto final
	canonicalSI, err := canonicalizeElement(sig.SelectElement("SignedInfo"))
	if err != nil {
		return nil, domain.NewSigningError(op, "canonicalizar SignedInfo", err)
	}
	sh := s.alg.newHash()
	sh.Write(canonicalSI)
	signatureValue, err := rsa.SignPKCS1v15(nil, priv, s.alg.hash, sh.Sum(nil))
	if err != nil {
		return nil, domain.NewSigningError(op, "firmar SignedInfo", err)
	}
	sig.SelectElement("SignatureValue").SetText(base64.StdEncoding.EncodeToString(signatureValue))

	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("signer: serializar: %w", err)
	}
	return out, nil
}

func (s *XMLDSigService) buildSignedInfo(id, digestB64 string) string {
	var sb strings.Builder
	sb.WriteString(`<SignedInfo xmlns="` + NamespaceDS + `">`)
	sb.WriteString(`<CanonicalizationMethod Algorithm="` + AlgC14N + `"/>`)
	sb.WriteString(`<SignatureMethod Algorithm="` + s.alg.signURI + `"/>`)
	sb.WriteString(`<Reference URI="#` + id + `">`)
	sb.WriteString(`<Transforms><Transform Algorithm="` + TransformEnveloped + `"/>`)
	sb.WriteString(`<Transform Algorithm="` + AlgC14N + `"/></Transforms>`)
	sb.WriteString(`<DigestMethod Algorithm="` + s.alg.digestURI + `"/>`)
	sb.WriteString(`<DigestValue>` + digestB64 + `</DigestValue>`)
	sb.WriteString(`</Reference>`)
	sb.WriteString(`</SignedInfo>`)
	return sb.String()
}

func buildSignature(signedInfoXML, signatureValueB64, certB64 string) string {
	var sb strings.Builder
	sb.WriteString(`<Signature xmlns="` + NamespaceDS + `">`)
	sb.WriteString(signedInfoXML)
	sb.WriteString(`<SignatureValue>` + signatureValueB64 + `</SignatureValue>`)
	sb.WriteString(`<KeyInfo><X509Data><X509Certificate>` + certB64 + `</X509Certificate></X509Data></KeyInfo>`)
	sb.WriteString(`</Signature>`)
	return sb.String()
}

// ── Utilidades XML ────────────────────────────────────────────────────────────

func parse(xmlBytes []byte) (*etree.Document, error) {
	if len(bytes.TrimSpace(xmlBytes)) == 0 {
		return nil, domain.NewSigningError("signer.parse", "XML vacío", nil)
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlBytes); err != nil {
		return nil, domain.NewSigningError("signer.parse", "XML mal formado", err)
	}
	if doc.Root() == nil {
		return nil, domain.NewSigningError("signer.parse", "documento sin raíz", nil)
	}
	return doc, nil
}

func canonicalize(data []byte) ([]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Entity = map[string]string{}
	return c14n.Canonicalize(dec)
}

// canonicalizeElement aplica C14N inclusiva al subárbol: copia el elemento y
// declara en él los namespaces visibles desde sus ancestros.
func canonicalizeElement(el *etree.Element) ([]byte, error) {
	cp := el.Copy()
	for _, ns := range inheritedNamespaces(el) {
		if cp.SelectAttr(ns.FullKey()) == nil {
			cp.CreateAttr(ns.FullKey(), ns.Value)
		}
	}
	// Transformación enveloped: una Signature dentro del subárbol no entra en el digest.
	for _, child := range cp.ChildElements() {
		if child.Tag == "Signature" {
			cp.RemoveChild(child)
		}
	}
	doc := etree.NewDocument()
	doc.SetRoot(cp)
	raw, err := doc.WriteToBytes()
	if err != nil {
		return nil, err
	}
	return canonicalize(raw)
}

// inheritedNamespaces devuelve las declaraciones xmlns de los ancestros, la más cercana gana.
func inheritedNamespaces(el *etree.Element) []etree.Attr {
	seen := map[string]bool{}
	var out []etree.Attr
	for p := el.Parent(); p != nil; p = p.Parent() {
		for _, a := range p.Attr {
			if a.Space != "xmlns" && !(a.Space == "" && a.Key == "xmlns") {
				continue
			}
			if seen[a.FullKey()] {
				continue
			}
			seen[a.FullKey()] = true
			out = append(out, a)
		}
	}
	return out
}

func findLocal(root *etree.Element, tag string) *etree.Element {
	if root == nil {
		return nil
	}
	if root.Tag == tag {
		return root
	}
	for _, c := range root.ChildElements() {
		if found := findLocal(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func findWithID(root *etree.Element, tag string) *etree.Element {
	if root == nil {
		return nil
	}
	if root.Tag == tag && root.SelectAttrValue("Id", "") != "" {
		return root
	}
	for _, c := range root.ChildElements() {
		if found := findWithID(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func findByID(root *etree.Element, id string) *etree.Element {
	if root == nil {
		return nil
	}
	if root.SelectAttrValue("Id", "") == id {
		return root
	}
	for _, c := range root.ChildElements() {
		if found := findByID(c, id); found != nil {
			return found
		}
	}
	return nil
}

var _ nfe.Signer = (*XMLDSigService)(nil)
