package metrics_test

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/Fiscal-api/pkg/metrics"
)

func TestRegistry_ExponeMetricasSefaz(t *testing.T) {
	reg := metrics.New()
	reg.ObserveSefazRequest("SP", "autorizacao", "sucesso", 300*time.Millisecond)
	reg.SetCertificateExpiry("empresa-1", "EMPRESA LTDA", 42)
	reg.AddEvicted("idade", 3)

	count, err := testutil.GatherAndCount(reg.Gatherer(), "fiscal_sefaz_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	srv := httptest.NewServer(reg.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Contains(t, string(body), `fiscal_certificate_expiry_days{owner="empresa-1",subject="EMPRESA LTDA"} 42`)
	assert.Contains(t, string(body), `fiscal_document_cache_evicted_total{reason="idade"} 3`)
}

func TestRegistry_NilEsSeguro(t *testing.T) {
	var reg *metrics.Registry
	assert.NotPanics(t, func() {
		reg.ObserveSefazRequest("SP", "consulta", "erro", time.Second)
		reg.RecordDFeFetch("SP", true, 1, time.Second)
		reg.SetCacheUsage(10, 1)
		reg.IncDocument("autorizacao", "sucesso")
	})
}
