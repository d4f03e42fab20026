package cache_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/Fiscal-api/internal/domain"
	"github.com/jhoicas/Fiscal-api/internal/infrastructure/cache"
	"github.com/jhoicas/Fiscal-api/pkg/metrics"
)

const chave = "35250732409620000175550010000037471011544648"

func newCache(t *testing.T, m *metrics.Registry) *cache.DocumentCache {
	t.Helper()
	c, err := cache.New(filepath.Join(t.TempDir(), "cache"), m, zerolog.Nop())
	require.NoError(t, err)
	return c
}

// putAged escribe un archivo y fija su mtime a age atrás.
func putAged(t *testing.T, c *cache.DocumentCache, key string, size int, age time.Duration) {
	t.Helper()
	require.NoError(t, c.Put(key, bytes.Repeat([]byte("x"), size)))
	ts := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(filepath.Join(c.Dir(), key), ts, ts))
}

func gauge(t *testing.T, m *metrics.Registry, name string) float64 {
	t.Helper()
	families, err := m.Gatherer().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name && len(f.GetMetric()) > 0 {
			return f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("métrica %s no encontrada", name)
	return 0
}

func TestPutGet_RoundTrip(t *testing.T) {
	c := newCache(t, nil)
	key := cache.DocumentKey(chave)

	_, ok, err := c.Get(key)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, c.Has(key))

	require.NoError(t, c.Put(key, []byte("<nfeProc/>")))
	require.NoError(t, c.Put(key, []byte("<nfeProc/>")), "Put es idempotente")

	data, ok, err := c.Get(key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "<nfeProc/>", string(data))
	assert.True(t, c.Has(key))

	entries, err := c.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1, "no quedan temporales")
	assert.Equal(t, "NFe_"+chave+".xml", entries[0].Key)
}

func TestPutIfAbsent_NoPisaExistente(t *testing.T) {
	c := newCache(t, nil)
	wrote, err := c.PutIfAbsent("DFE_1.xml", []byte("primero"))
	require.NoError(t, err)
	assert.True(t, wrote)

	wrote, err = c.PutIfAbsent("DFE_1.xml", []byte("segundo"))
	require.NoError(t, err)
	assert.False(t, wrote)

	data, _, _ := c.Get("DFE_1.xml")
	assert.Equal(t, "primero", string(data))
}

func TestSanitizeKey(t *testing.T) {
	cases := map[string]string{
		"NFe_123.xml":      "NFe_123.xml",
		"../../etc/passwd": "_.._etc_passwd",
		"a b/c.xml":        "a_b_c.xml",
		".oculto":          "oculto",
	}
	for in, want := range cases {
		got, err := cache.SanitizeKey(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "..", "///"} {
		_, err := cache.SanitizeKey(bad)
		assert.ErrorIs(t, err, domain.ErrInvalidInput, bad)
	}
}

func TestPut_ClaveConRutaQuedaDentroDelDirectorio(t *testing.T) {
	c := newCache(t, nil)
	require.NoError(t, c.Put("../fuera.xml", []byte("x")))
	_, err := os.Stat(filepath.Join(filepath.Dir(c.Dir()), "fuera.xml"))
	assert.True(t, os.IsNotExist(err), "la clave no escapa del directorio")
	assert.True(t, c.Has("../fuera.xml"))
}

func TestEvict_PorEdadYLuegoPorTamano(t *testing.T) {
	m := metrics.New()
	c := newCache(t, m)
	const mb = 1024 * 1024

	putAged(t, c, "viejo.xml", 10, 40*24*time.Hour)
	putAged(t, c, "a.xml", mb, 5*time.Hour)
	putAged(t, c, "b.xml", mb, 4*time.Hour)
	putAged(t, c, "c.xml", mb, 3*time.Hour)

	rep, err := c.Evict(30, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, rep.Scanned)
	assert.Equal(t, 1, rep.RemovedByAge)
	assert.Equal(t, 1, rep.RemovedBySize)
	assert.Equal(t, 2, rep.Remaining)
	assert.LessOrEqual(t, rep.RemainingBytes, int64(2*mb))
	assert.Equal(t, int64(mb+10), rep.FreedBytes)

	assert.False(t, c.Has("viejo.xml"))
	assert.False(t, c.Has("a.xml"), "se elimina primero el de mtime más antiguo")
	assert.True(t, c.Has("b.xml"))
	assert.True(t, c.Has("c.xml"))

	assert.Equal(t, float64(2*mb), gauge(t, m, "fiscal_document_cache_bytes"))
	assert.Equal(t, float64(2), gauge(t, m, "fiscal_document_cache_entries"))
}

func TestEvict_DejaTodoBajoLosLimites(t *testing.T) {
	c := newCache(t, nil)
	for i, key := range []string{"1.xml", "2.xml", "3.xml", "4.xml", "5.xml"} {
		putAged(t, c, key, 300*1024, time.Duration(10-i)*time.Hour)
	}

	rep, err := c.Evict(30, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.RemovedByAge)
	assert.Equal(t, 2, rep.RemovedBySize)

	total, n, err := c.Usage()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.LessOrEqual(t, total, int64(1024*1024))
}

func TestEvict_LimitesDesactivados(t *testing.T) {
	c := newCache(t, nil)
	putAged(t, c, "antigo.xml", 100, 400*24*time.Hour)

	rep, err := c.Evict(0, 0)
	require.NoError(t, err)
	assert.Zero(t, rep.Removed())
	assert.True(t, c.Has("antigo.xml"))
}

func TestSize_ContabilidadIncrementalCoincideConElDirectorio(t *testing.T) {
	m := metrics.New()
	c := newCache(t, m)

	assertSize := func(msg string) {
		t.Helper()
		total, n, err := c.Usage()
		require.NoError(t, err)
		gotBytes, gotFiles := c.Size()
		assert.Equal(t, total, gotBytes, msg)
		assert.Equal(t, n, gotFiles, msg)
		assert.Equal(t, float64(total), gauge(t, m, "fiscal_document_cache_bytes"), msg)
	}

	putAged(t, c, "a.xml", 100, 50*24*time.Hour)
	putAged(t, c, "b.xml", 200, time.Hour)
	assertSize("tras dos Put")

	require.NoError(t, c.Put("b.xml", bytes.Repeat([]byte("y"), 50)))
	assertSize("sobrescribir descuenta el tamaño anterior")

	inserted, err := c.PutIfAbsent("b.xml", []byte("zzz"))
	require.NoError(t, err)
	assert.False(t, inserted)
	assertSize("PutIfAbsent sin escritura no altera el uso")

	_, err = c.Evict(30, 0)
	require.NoError(t, err)
	assertSize("tras Evict por edad")

	bytesNow, files := c.Size()
	assert.Equal(t, int64(50), bytesNow)
	assert.Equal(t, 1, files)
}

func TestNew_ContabilizaArchivosExistentes(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "NFe_"+chave+".xml"), []byte("<NFe/>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".tmp-abandonado"), []byte("xxxx"), 0o644))

	c, err := cache.New(dir, nil, zerolog.Nop())
	require.NoError(t, err)
	total, n := c.Size()
	assert.Equal(t, int64(len("<NFe/>")), total)
	assert.Equal(t, 1, n, "los temporales no cuentan")
}

func TestNew_DirectorioVacio(t *testing.T) {
	_, err := cache.New("  ", nil, zerolog.Nop())
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}
