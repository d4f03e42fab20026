package signer

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"strings"

	"github.com/beevik/etree"

	"github.com/jhoicas/Fiscal-api/internal/domain"
)

// Verify comprueba la primera Signature del documento: recalcula el digest del
// elemento referenciado y valida SignatureValue con el certificado embebido.
func (s *XMLDSigService) Verify(signedXML []byte) error {
	const op = "signer.Verify"
	doc, err := parse(signedXML)
	if err != nil {
		return err
	}
	sig := findLocal(doc.Root(), "Signature")
	if sig == nil {
		return domain.NewSigningError(op, "documento sin Signature", nil)
	}
	signedInfo := sig.SelectElement("SignedInfo")
	if signedInfo == nil {
		return domain.NewSigningError(op, "Signature sin SignedInfo", nil)
	}
	ref := signedInfo.SelectElement("Reference")
	if ref == nil {
		return domain.NewSigningError(op, "SignedInfo sin Reference", nil)
	}

	alg, ok := algorithmFor(signedInfo)
	if !ok {
		return domain.NewSigningError(op, "algoritmo de firma no soportado", nil)
	}

	id := strings.TrimPrefix(ref.SelectAttrValue("URI", ""), "#")
	target := findByID(doc.Root(), id)
	if id == "" || target == nil {
		return domain.NewSigningError(op, "elemento referenciado #"+id+" no encontrado", nil)
	}
	canonical, err := canonicalizeElement(target)
	if err != nil {
		return domain.NewSigningError(op, "canonicalizar "+target.Tag, err)
	}
	h := alg.newHash()
	h.Write(canonical)
	if base64.StdEncoding.EncodeToString(h.Sum(nil)) != strings.TrimSpace(childText(ref, "DigestValue")) {
		return domain.NewSigningError(op, "DigestValue no coincide: el documento fue alterado", nil)
	}

	certB64 := ""
	if x509Data := sig.FindElement("./KeyInfo/X509Data/X509Certificate"); x509Data != nil {
		certB64 = x509Data.Text()
	}
	der, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(certB64), ""))
	if err != nil || len(der) == 0 {
		return domain.NewSigningError(op, "X509Certificate ausente o inválido", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return domain.NewSigningError(op, "parsear X509Certificate", err)
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return domain.NewSigningError(op, "llave pública no RSA", nil)
	}

	canonicalSI, err := canonicalizeElement(signedInfo)
	if err != nil {
		return domain.NewSigningError(op, "canonicalizar SignedInfo", err)
	}
	sigValue, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(childText(sig, "SignatureValue")), ""))
	if err != nil {
		return domain.NewSigningError(op, "SignatureValue inválido", err)
	}
	sh := alg.newHash()
	sh.Write(canonicalSI)
	if err := rsa.VerifyPKCS1v15(pub, alg.hash, sh.Sum(nil), sigValue); err != nil {
		return domain.NewSigningError(op, "SignatureValue no corresponde al certificado", err)
	}
	return nil
}

func algorithmFor(signedInfo *etree.Element) (algorithm, bool) {
	method := signedInfo.SelectElement("SignatureMethod")
	if method == nil {
		return algorithm{}, false
	}
	uri := method.SelectAttrValue("Algorithm", "")
	for _, a := range algorithms {
		if a.signURI == uri {
			return a, true
		}
	}
	return algorithm{}, false
}

func childText(el *etree.Element, tag string) string {
	if c := el.SelectElement(tag); c != nil {
		return c.Text()
	}
	return ""
}
