package nfe

import "crypto/tls"

// Signer firma un XML fiscal con el certificado A1 del emisor. La firma queda
// como hermana inmediata del elemento firmado (infNFe, infEvento, infInut).
type Signer interface {
	Sign(xmlBytes []byte, cert tls.Certificate) ([]byte, error)
}
