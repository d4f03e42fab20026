// Constantes XMLDSig del leiaute NFe (Manual de Orientação do Contribuinte, assinatura enveloped).

package signer

// Namespaces y algoritmos XMLDSig.
const (
	NamespaceDS        = "http://www.w3.org/2000/09/xmldsig#"
	AlgC14N            = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315"
	AlgRSASHA256       = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	AlgRSASHA1         = "http://www.w3.org/2000/09/xmldsig#rsa-sha1"
	AlgSHA256          = "http://www.w3.org/2001/04/xmlenc#sha256"
	AlgSHA1            = "http://www.w3.org/2000/09/xmldsig#sha1"
	TransformEnveloped = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"
)

// SignableElements son los elementos con atributo Id que la SEFAZ espera firmados, en orden de búsqueda.
var SignableElements = []string{"infNFe", "infEvento", "infInut"}
