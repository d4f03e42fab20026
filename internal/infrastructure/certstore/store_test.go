package certstore_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/Fiscal-api/internal/domain"
	"github.com/jhoicas/Fiscal-api/internal/domain/entity"
	"github.com/jhoicas/Fiscal-api/internal/infrastructure/certstore"
	"github.com/jhoicas/Fiscal-api/internal/testutil"
)

var masterKey = bytes.Repeat([]byte{0x42}, 32)

func newStore(t *testing.T) (*certstore.Store, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "certs")
	s, err := certstore.New(dir, masterKey, nil, zerolog.Nop())
	require.NoError(t, err)
	return s, dir
}

func TestLoad_CertificadoDe400Dias(t *testing.T) {
	ca := testutil.NewCA(t)
	now := time.Now()
	issued := ca.IssueClient(t, now.Add(-time.Hour), now.Add(400*24*time.Hour))
	pfx := issued.PFX(t, ca, "senha123")

	s, _ := newStore(t)
	s.Now = func() time.Time { return now }

	cert, err := s.Load(context.Background(), "empresa1", pfx, "senha123")
	require.NoError(t, err)
	assert.Equal(t, 400, cert.DaysUntilExpiry(now))
	assert.Equal(t, entity.CertStatusValid, cert.Status(now))
	assert.Equal(t, "EMPRESA TESTE LTDA", cert.HolderName)
	assert.Equal(t, testutil.TestCNPJ, cert.TaxID)
	assert.Contains(t, cert.KeyUsage, "clientAuth")
	assert.Len(t, cert.TLS.Certificate, 2, "la cadena incluye la AC")
	assert.NotNil(t, cert.TLS.PrivateKey)
}

func TestLoad_CertificadoVencidoFallaConCertificateError(t *testing.T) {
	ca := testutil.NewCA(t)
	now := time.Now()
	issued := ca.IssueClient(t, now.Add(-48*time.Hour), now.Add(-24*time.Hour))
	pfx := issued.PFX(t, ca, "senha")

	s, _ := newStore(t)
	_, err := s.Load(context.Background(), "empresa1", pfx, "senha")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCertificate))
	assert.Contains(t, err.Error(), "vencido")
}

func TestLoad_CertificadoAunNoVigente(t *testing.T) {
	ca := testutil.NewCA(t)
	now := time.Now()
	issued := ca.IssueClient(t, now.Add(24*time.Hour), now.Add(48*time.Hour))

	s, _ := newStore(t)
	_, err := s.Load(context.Background(), "empresa1", issued.PFX(t, ca, "x"), "x")
	assert.ErrorIs(t, err, domain.ErrCertificate)
}

func TestLoad_SenhaIncorrecta(t *testing.T) {
	ca := testutil.NewCA(t)
	issued := ca.IssueClient(t, time.Now().Add(-time.Hour), time.Now().AddDate(1, 0, 0))

	s, _ := newStore(t)
	_, err := s.Load(context.Background(), "empresa1", issued.PFX(t, ca, "correcta"), "errada")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCertificate)
	assert.Contains(t, err.Error(), "senha")
}

func TestLoad_BundleCorrupto(t *testing.T) {
	s, _ := newStore(t)
	_, err := s.Load(context.Background(), "empresa1", []byte("no es pkcs12"), "x")
	assert.ErrorIs(t, err, domain.ErrCertificate)
}

func TestSaveOpen_PersisteCifradoSinSenhaEnClaro(t *testing.T) {
	ca := testutil.NewCA(t)
	issued := ca.IssueClient(t, time.Now().Add(-time.Hour), time.Now().AddDate(1, 0, 0))
	pfx := issued.PFX(t, ca, "senha-secreta")

	s, dir := newStore(t)
	ctx := context.Background()
	_, err := s.Save(ctx, "empresa1", pfx, "senha-secreta")
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		assert.NotContains(t, string(raw), "senha-secreta", "la senha no debe quedar en claro en %s", e.Name())
		assert.False(t, bytes.Contains(raw, pfx), "el bundle no debe quedar en claro")
	}

	cert, err := s.Open(ctx, "empresa1")
	require.NoError(t, err)
	assert.Equal(t, issued.Cert.SerialNumber, cert.Leaf.SerialNumber)
}

func TestSave_ReemplazoEsUnSoloRegistroAtomico(t *testing.T) {
	ca := testutil.NewCA(t)
	first := ca.IssueClient(t, time.Now().Add(-time.Hour), time.Now().AddDate(1, 0, 0))
	second := ca.IssueClient(t, time.Now().Add(-time.Hour), time.Now().AddDate(2, 0, 0))

	s, dir := newStore(t)
	ctx := context.Background()
	_, err := s.Save(ctx, "empresa1", first.PFX(t, ca, "senha-um"), "senha-um")
	require.NoError(t, err)
	_, err = s.Save(ctx, "empresa1", second.PFX(t, ca, "senha-dois"), "senha-dois")
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "senha y bundle viven en el mismo archivo")
	assert.Equal(t, "empresa1.cert", entries[0].Name())

	cert, err := s.Open(ctx, "empresa1")
	require.NoError(t, err, "la senha guardada corresponde al bundle reemplazado")
	assert.Equal(t, second.Cert.SerialNumber, cert.Leaf.SerialNumber)
}

func TestOpen_RegistroTruncado(t *testing.T) {
	s, dir := newStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empresa1.cert"), []byte{0, 0, 0xff, 0xff, 1}, 0o600))

	_, err := s.Open(context.Background(), "empresa1")
	assert.ErrorIs(t, err, domain.ErrCertificate)
}

func TestOpen_OtraLlaveMaestraNoDescifra(t *testing.T) {
	ca := testutil.NewCA(t)
	issued := ca.IssueClient(t, time.Now().Add(-time.Hour), time.Now().AddDate(1, 0, 0))

	s, dir := newStore(t)
	_, err := s.Save(context.Background(), "empresa1", issued.PFX(t, ca, "p"), "p")
	require.NoError(t, err)

	other, err := certstore.New(dir, bytes.Repeat([]byte{0x07}, 32), nil, zerolog.Nop())
	require.NoError(t, err)
	_, err = other.Open(context.Background(), "empresa1")
	assert.ErrorIs(t, err, domain.ErrCertificate)
}

func TestOpen_Inexistente(t *testing.T) {
	s, _ := newStore(t)
	_, err := s.Open(context.Background(), "nadie")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestExpiringSoon_FiltraPorDias(t *testing.T) {
	ca := testutil.NewCA(t)
	now := time.Now()
	s, _ := newStore(t)
	ctx := context.Background()

	soon := ca.IssueClient(t, now.Add(-time.Hour), now.Add(10*24*time.Hour))
	_, err := s.Save(ctx, "vence-pronto", soon.PFX(t, ca, "a"), "a")
	require.NoError(t, err)
	later := ca.IssueClient(t, now.Add(-time.Hour), now.Add(300*24*time.Hour))
	_, err = s.Save(ctx, "vence-tarde", later.PFX(t, ca, "b"), "b")
	require.NoError(t, err)

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	expiring, err := s.ExpiringSoon(ctx, entity.ExpiringSoonDays)
	require.NoError(t, err)
	require.Len(t, expiring, 1)
	assert.Equal(t, "vence-pronto", expiring[0].OwnerID)
	assert.Equal(t, entity.CertStatusExpiring, expiring[0].Status)

	require.NoError(t, s.Delete(ctx, "vence-pronto"))
	require.NoError(t, s.Delete(ctx, "vence-pronto"), "Delete es idempotente")
	all, err = s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSave_OwnerInvalido(t *testing.T) {
	s, _ := newStore(t)
	_, err := s.Save(context.Background(), "../fuera", []byte("x"), "x")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestCheckUpload(t *testing.T) {
	assert.NoError(t, certstore.CheckUpload("empresa.PFX", 2048))
	assert.NoError(t, certstore.CheckUpload("empresa.p12", certstore.MaxUploadSize))
	assert.ErrorIs(t, certstore.CheckUpload("empresa.pem", 100), domain.ErrCertificate)
	assert.ErrorIs(t, certstore.CheckUpload("empresa.pfx", certstore.MaxUploadSize+1), domain.ErrCertificate)
	assert.ErrorIs(t, certstore.CheckUpload("empresa.pfx", 0), domain.ErrCertificate)
}

func TestNew_LlaveMaestraCorta(t *testing.T) {
	_, err := certstore.New(t.TempDir(), []byte("corta"), nil, zerolog.Nop())
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}
