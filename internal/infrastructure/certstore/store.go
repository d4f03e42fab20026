// Package certstore carga, valida y guarda cifrados los certificados digitales
// A1 (PKCS#12) de los emisores. El bundle y la senha se persisten con AES-256-GCM
// bajo {DataDir}/certs; la senha en claro nunca toca el disco.
package certstore

import (
	"context"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"software.sslmate.com/src/go-pkcs12"

	"github.com/jhoicas/Fiscal-api/internal/domain"
	"github.com/jhoicas/Fiscal-api/internal/domain/entity"
	"github.com/jhoicas/Fiscal-api/pkg/fsutil"
	"github.com/jhoicas/Fiscal-api/pkg/metrics"
	"github.com/jhoicas/Fiscal-api/pkg/nfe"
)

// MaxUploadSize es el tamaño máximo aceptado para un .pfx/.p12.
const MaxUploadSize = 5 << 20

// recordExt es el archivo por titular: senha y bundle cifrados en un solo registro,
// así una escritura nunca deja una senha que no corresponda al bundle.
const recordExt = ".cert"

var ownerPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Store guarda certificados por OwnerID.
type Store struct {
	dir       string
	bundleKey []byte
	passKey   []byte
	metrics   *metrics.Registry
	log       zerolog.Logger

	// Now permite fijar el reloj en tests.
	Now func() time.Time
}

// New crea el directorio (0700) y deriva las llaves de cifrado desde la llave maestra.
func New(dir string, masterKey []byte, m *metrics.Registry, log zerolog.Logger) (*Store, error) {
	bundleKey, err := deriveKey(masterKey, purposeBundle)
	if err != nil {
		return nil, domain.NewConfigurationError("certstore.New", "llave maestra inválida", err)
	}
	passKey, err := deriveKey(masterKey, purposePassphrase)
	if err != nil {
		return nil, domain.NewConfigurationError("certstore.New", "llave maestra inválida", err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("certstore: crear directorio: %w", err)
	}
	return &Store{
		dir:       dir,
		bundleKey: bundleKey,
		passKey:   passKey,
		metrics:   m,
		log:       log.With().Str("component", "certstore").Logger(),
		Now:       time.Now,
	}, nil
}

// ── Carga y validación ────────────────────────────────────────────────────────

// Load decodifica y valida un PKCS#12 sin persistirlo. Falla con CertificateError
// ante senha incorrecta, bundle corrupto, certificado fuera de vigencia o llave no RSA.
func (s *Store) Load(ctx context.Context, ownerID string, pfx []byte, passphrase string) (*entity.Certificate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cert, err := decode(ownerID, pfx, passphrase)
	if err != nil {
		return nil, err
	}
	now := s.Now()
	if now.Before(cert.NotBefore) {
		return nil, domain.NewCertificateError("certstore.Load",
			fmt.Sprintf("certificado aún no vigente (válido desde %s)", cert.NotBefore.Format(time.RFC3339)), nil)
	}
	if now.After(cert.NotAfter) {
		return nil, domain.NewCertificateError("certstore.Load",
			fmt.Sprintf("certificado vencido el %s", cert.NotAfter.Format(time.RFC3339)), nil)
	}
	days := cert.DaysUntilExpiry(now)
	s.metrics.SetCertificateExpiry(ownerID, cert.HolderName, days)
	if days <= entity.ExpiringSoonDays {
		s.log.Warn().Str("owner", ownerID).Int("dias", days).Msg("certificado próximo a vencer")
	}
	return cert, nil
}

// LoadFile es Load leyendo el bundle desde disco (CERT_PATH).
func (s *Store) LoadFile(ctx context.Context, ownerID, path, passphrase string) (*entity.Certificate, error) {
	pfx, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.NewCertificateError("certstore.LoadFile", "no se pudo leer "+filepath.Base(path), err)
	}
	return s.Load(ctx, ownerID, pfx, passphrase)
}

func decode(ownerID string, pfx []byte, passphrase string) (*entity.Certificate, error) {
	const op = "certstore.decode"
	if len(pfx) == 0 {
		return nil, domain.NewCertificateError(op, "bundle vacío", nil)
	}
	key, leaf, chain, err := pkcs12.DecodeChain(pfx, passphrase)
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) {
			return nil, domain.NewCertificateError(op, "senha del certificado incorrecta", err)
		}
		return nil, domain.NewCertificateError(op, "bundle PKCS#12 inválido", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, domain.NewCertificateError(op, fmt.Sprintf("llave privada %T no soportada, se requiere RSA", key), nil)
	}

	raw := [][]byte{leaf.Raw}
	for _, c := range chain {
		raw = append(raw, c.Raw)
	}
	holder, taxID := parseCommonName(leaf)

	return &entity.Certificate{
		OwnerID:    ownerID,
		TLS:        tls.Certificate{Certificate: raw, PrivateKey: rsaKey, Leaf: leaf},
		Leaf:       leaf,
		Chain:      chain,
		NotBefore:  leaf.NotBefore,
		NotAfter:   leaf.NotAfter,
		HolderName: holder,
		TaxID:      taxID,
		Serial:     leaf.SerialNumber.Text(16),
		Issuer:     leaf.Issuer.CommonName,
		KeyUsage:   usageNames(leaf),
	}, nil
}

// parseCommonName separa "RAZAO SOCIAL:12345678000199" en titular y documento.
// Sin sufijo numérico se usa el SerialNumber del sujeto.
func parseCommonName(c *x509.Certificate) (holder, taxID string) {
	cn := c.Subject.CommonName
	if i := strings.LastIndex(cn, ":"); i > 0 {
		digits := nfe.OnlyDigits(cn[i+1:])
		if len(digits) == 14 || len(digits) == 11 {
			return strings.TrimSpace(cn[:i]), digits
		}
	}
	return strings.TrimSpace(cn), nfe.OnlyDigits(c.Subject.SerialNumber)
}

func usageNames(c *x509.Certificate) []string {
	var out []string
	if c.KeyUsage&x509.KeyUsageDigitalSignature != 0 {
		out = append(out, "digitalSignature")
	}
	if c.KeyUsage&x509.KeyUsageKeyEncipherment != 0 {
		out = append(out, "keyEncipherment")
	}
	for _, u := range c.ExtKeyUsage {
		if u == x509.ExtKeyUsageClientAuth {
			out = append(out, "clientAuth")
		}
	}
	return out
}

// ── Persistencia cifrada ─────────────────────────────────────────────────────

// CheckUpload aplica las reglas de subida: extensión .pfx/.p12 y hasta 5 MB.
func CheckUpload(filename string, size int64) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext != ".pfx" && ext != ".p12" {
		return domain.NewCertificateError("certstore.CheckUpload", "solo se aceptan archivos .pfx o .p12", nil)
	}
	if size <= 0 || size > MaxUploadSize {
		return domain.NewCertificateError("certstore.CheckUpload",
			fmt.Sprintf("tamaño %d fuera del rango permitido (máx. %d bytes)", size, MaxUploadSize), nil)
	}
	return nil
}

// Save valida el bundle y lo persiste cifrado junto con la senha.
func (s *Store) Save(ctx context.Context, ownerID string, pfx []byte, passphrase string) (*entity.Certificate, error) {
	if !ownerPattern.MatchString(ownerID) {
		return nil, fmt.Errorf("certstore: owner %q: %w", ownerID, domain.ErrInvalidInput)
	}
	cert, err := s.Load(ctx, ownerID, pfx, passphrase)
	if err != nil {
		return nil, err
	}
	sealedBundle, err := seal(pfx, s.bundleKey, ownerID)
	if err != nil {
		return nil, err
	}
	sealedPass, err := seal([]byte(passphrase), s.passKey, ownerID)
	if err != nil {
		return nil, err
	}
	if err := fsutil.WriteFile(s.path(ownerID), encodeRecord(sealedPass, sealedBundle), 0o600); err != nil {
		return nil, fmt.Errorf("certstore: guardar: %w", err)
	}
	s.log.Info().Str("owner", ownerID).Str("titular", cert.HolderName).
		Time("vence", cert.NotAfter).Msg("certificado guardado")
	return cert, nil
}

// Open descifra el certificado guardado y lo revalida contra el reloj actual.
func (s *Store) Open(ctx context.Context, ownerID string) (*entity.Certificate, error) {
	pfx, pass, err := s.read(ownerID)
	if err != nil {
		return nil, err
	}
	return s.Load(ctx, ownerID, pfx, pass)
}

// Delete elimina bundle y senha; es idempotente.
func (s *Store) Delete(_ context.Context, ownerID string) error {
	if !ownerPattern.MatchString(ownerID) {
		return fmt.Errorf("certstore: owner %q: %w", ownerID, domain.ErrInvalidInput)
	}
	if err := os.Remove(s.path(ownerID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("certstore: eliminar: %w", err)
	}
	return nil
}

// List devuelve la vista pública de todos los certificados guardados, incluidos los vencidos.
func (s *Store) List(ctx context.Context) ([]entity.CertificateInfo, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+recordExt))
	if err != nil {
		return nil, fmt.Errorf("certstore: listar: %w", err)
	}
	now := s.Now()
	out := make([]entity.CertificateInfo, 0, len(matches))
	for _, m := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		owner := strings.TrimSuffix(filepath.Base(m), recordExt)
		pfx, pass, err := s.read(owner)
		if err != nil {
			s.log.Warn().Err(err).Str("owner", owner).Msg("certificado ilegible, se omite")
			continue
		}
		cert, err := decode(owner, pfx, pass)
		if err != nil {
			s.log.Warn().Err(err).Str("owner", owner).Msg("certificado inválido, se omite")
			continue
		}
		info := cert.Info(now)
		s.metrics.SetCertificateExpiry(owner, cert.HolderName, info.DaysLeft)
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NotAfter.Before(out[j].NotAfter) })
	return out, nil
}

// ExpiringSoon lista los certificados que vencen en withinDays días o menos (vencidos incluidos).
func (s *Store) ExpiringSoon(ctx context.Context, withinDays int) ([]entity.CertificateInfo, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []entity.CertificateInfo
	for _, info := range all {
		if info.DaysLeft <= withinDays {
			out = append(out, info)
		}
	}
	return out, nil
}

func (s *Store) read(ownerID string) ([]byte, string, error) {
	const op = "certstore.Open"
	if !ownerPattern.MatchString(ownerID) {
		return nil, "", fmt.Errorf("certstore: owner %q: %w", ownerID, domain.ErrInvalidInput)
	}
	raw, err := os.ReadFile(s.path(ownerID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, "", fmt.Errorf("certstore: certificado de %s: %w", ownerID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, "", fmt.Errorf("certstore: leer registro: %w", err)
	}
	sealedPass, sealedBundle, err := decodeRecord(raw)
	if err != nil {
		return nil, "", domain.NewCertificateError(op, "registro cifrado truncado", err)
	}
	pfx, err := open(sealedBundle, s.bundleKey, ownerID)
	if err != nil {
		return nil, "", domain.NewCertificateError(op, "bundle cifrado ilegible", err)
	}
	pass, err := open(sealedPass, s.passKey, ownerID)
	if err != nil {
		return nil, "", domain.NewCertificateError(op, "senha cifrada ilegible", err)
	}
	return pfx, string(pass), nil
}

func (s *Store) path(ownerID string) string {
	return filepath.Join(s.dir, ownerID+recordExt)
}

// encodeRecord concatena len(senha) (uint32 big-endian), senha cifrada y bundle cifrado.
func encodeRecord(sealedPass, sealedBundle []byte) []byte {
	out := make([]byte, 4, 4+len(sealedPass)+len(sealedBundle))
	binary.BigEndian.PutUint32(out, uint32(len(sealedPass)))
	out = append(out, sealedPass...)
	return append(out, sealedBundle...)
}

func decodeRecord(raw []byte) (sealedPass, sealedBundle []byte, err error) {
	if len(raw) < 4 {
		return nil, nil, fmt.Errorf("certstore: registro de %d bytes", len(raw))
	}
	n := binary.BigEndian.Uint32(raw)
	if uint64(n) > uint64(len(raw)-4) {
		return nil, nil, fmt.Errorf("certstore: longitud de senha %d fuera del registro", n)
	}
	return raw[4 : 4+n], raw[4+n:], nil
}
