package sefaz

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jhoicas/Fiscal-api/internal/domain"
)

// Suites permitidas en TLS 1.2; TLS 1.3 usa las suyas.
var cipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
}

// NewTLSConfig arma la configuración mTLS: certificado A1 del cliente y, como
// raíces, el pool del sistema más la cadena ICP-Brasil de caDir. Sin ninguna
// raíz disponible devuelve TransportSecurityError.
func NewTLSConfig(cert tls.Certificate, caDir string) (*tls.Config, error) {
	const op = "sefaz.NewTLSConfig"
	if len(cert.Certificate) == 0 || cert.PrivateKey == nil {
		return nil, domain.NewTransportSecurityError(op, "falta el certificado del cliente", nil)
	}

	pool, err := x509.SystemCertPool()
	systemOK := err == nil && pool != nil
	if !systemOK {
		pool = x509.NewCertPool()
	}
	added, err := appendCADir(pool, caDir)
	if err != nil {
		return nil, domain.NewTransportSecurityError(op, "cadena ICP-Brasil ilegible", err)
	}
	if !systemOK && added == 0 {
		return nil, domain.NewTransportSecurityError(op,
			fmt.Sprintf("ninguna AC raíz disponible (sistema no disponible y %q vacío)", caDir), nil)
	}

	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		CipherSuites: cipherSuites,
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
	}, nil
}

// appendCADir agrega los .cer/.crt/.pem de dir, en PEM o DER. Un dir inexistente no es error.
func appendCADir(pool *x509.CertPool, dir string) (int, error) {
	if dir == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	added := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".cer", ".crt", ".pem":
		default:
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return added, err
		}
		certs, err := parseCertificates(data)
		if err != nil {
			return added, fmt.Errorf("%s: %w", e.Name(), err)
		}
		for _, c := range certs {
			pool.AddCert(c)
			added++
		}
	}
	return added, nil
}

func parseCertificates(data []byte) ([]*x509.Certificate, error) {
	var out []*x509.Certificate
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		c, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if len(out) > 0 {
		return out, nil
	}
	// DER (formato habitual de los .cer publicados por el ITI)
	return x509.ParseCertificates(data)
}
