// Package testutil genera material criptográfico de prueba (AC raíz, certificados
// A1 e-CNPJ y bundles PKCS#12) para los tests del subsistema fiscal.
package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"testing"
	"time"

	"software.sslmate.com/src/go-pkcs12"
)

// TestCNPJ es el CNPJ usado en el CN de los certificados de prueba.
const TestCNPJ = "32409620000175"

// CA es una autoridad certificadora efímera.
type CA struct {
	Cert *x509.Certificate
	Key  *rsa.PrivateKey
}

// NewCA crea una AC raíz autofirmada válida por 10 años.
func NewCA(t *testing.T) *CA {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generar llave AC: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "AC Teste Raiz", Organization: []string{"ICP-Brasil Teste"}, Country: []string{"BR"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("crear AC: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parsear AC: %v", err)
	}
	return &CA{Cert: cert, Key: key}
}

// PEM devuelve el certificado de la AC en PEM (para SEFAZ_CA_DIR).
func (ca *CA) PEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ca.Cert.Raw})
}

// Pool devuelve un pool con la AC.
func (ca *CA) Pool() *x509.CertPool {
	p := x509.NewCertPool()
	p.AddCert(ca.Cert)
	return p
}

// Issued es un certificado emitido por la AC con su llave.
type Issued struct {
	Cert *x509.Certificate
	Key  *rsa.PrivateKey
}

// TLS arma el tls.Certificate con la cadena hoja + AC.
func (i *Issued) TLS(ca *CA) tls.Certificate {
	return tls.Certificate{
		Certificate: [][]byte{i.Cert.Raw, ca.Cert.Raw},
		PrivateKey:  i.Key,
		Leaf:        i.Cert,
	}
}

// PFX codifica el certificado como PKCS#12 moderno protegido con password.
func (i *Issued) PFX(t *testing.T, ca *CA, password string) []byte {
	t.Helper()
	data, err := pkcs12.Modern2023.Encode(i.Key, i.Cert, []*x509.Certificate{ca.Cert}, password)
	if err != nil {
		t.Fatalf("codificar PKCS#12: %v", err)
	}
	return data
}

// IssueClient emite un certificado A1 e-CNPJ (CN "NOME:CNPJ") con la vigencia indicada.
func (ca *CA) IssueClient(t *testing.T, notBefore, notAfter time.Time) *Issued {
	t.Helper()
	return ca.issue(t, &x509.Certificate{
		Subject:     pkix.Name{CommonName: "EMPRESA TESTE LTDA:" + TestCNPJ, Country: []string{"BR"}},
		NotBefore:   notBefore,
		NotAfter:    notAfter,
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	})
}

// IssueServer emite un certificado de servidor para 127.0.0.1/localhost (httptest TLS).
func (ca *CA) IssueServer(t *testing.T) *Issued {
	t.Helper()
	return ca.issue(t, &x509.Certificate{
		Subject:     pkix.Name{CommonName: "localhost"},
		DNSNames:    []string{"localhost"},
		IPAddresses: []net.IP{net.ParseIP("127.0.0.1")},
		NotBefore:   time.Now().Add(-time.Hour),
		NotAfter:    time.Now().AddDate(1, 0, 0),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	})
}

var serial int64 = 100

func (ca *CA) issue(t *testing.T, tmpl *x509.Certificate) *Issued {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generar llave: %v", err)
	}
	serial++
	tmpl.SerialNumber = big.NewInt(serial)
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.Cert, &key.PublicKey, ca.Key)
	if err != nil {
		t.Fatalf("emitir certificado: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parsear certificado: %v", err)
	}
	return &Issued{Cert: cert, Key: key}
}
