// Package metrics expone las métricas Prometheus del intercambio con la SEFAZ.
// Todos los métodos toleran receptor nil para que los componentes funcionen sin métricas.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fiscal"

// Registry agrupa los colectores en un registro propio (sin el global de Prometheus).
type Registry struct {
	reg *prometheus.Registry

	sefazRequests    *prometheus.CounterVec
	sefazDuration    *prometheus.HistogramVec
	sefazRetries     *prometheus.CounterVec
	dfeFetches       *prometheus.CounterVec
	dfeDuration      *prometheus.HistogramVec
	schemaFailures   *prometheus.CounterVec
	checksumMismatch *prometheus.CounterVec
	certExpiryDays   *prometheus.GaugeVec
	cacheBytes       prometheus.Gauge
	cacheEntries     prometheus.Gauge
	cacheEvicted     *prometheus.CounterVec
	documents        *prometheus.CounterVec
}

// New registra todos los colectores, incluidos los de proceso y runtime de Go.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		sefazRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sefaz_requests_total",
			Help: "Peticiones al Web Service SEFAZ por UF, servicio y resultado.",
		}, []string{"uf", "service", "result"}),
		sefazDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "sefaz_request_duration_seconds",
			Help:    "Duración de las peticiones SEFAZ.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"uf", "service"}),
		sefazRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sefaz_retries_total",
			Help: "Reintentos de transporte por UF y servicio.",
		}, []string{"uf", "service"}),
		dfeFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "dfe_fetch_total",
			Help: "Consultas de distribución DF-e por UF, resultado e intento.",
		}, []string{"uf", "result", "attempt"}),
		dfeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "dfe_fetch_duration_seconds",
			Help:    "Duración de las consultas de distribución DF-e.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"uf"}),
		schemaFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "xsd_validation_failures_total",
			Help: "Fallos de validación XSD por operación y ambiente.",
		}, []string{"operation", "environment"}),
		checksumMismatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "xsd_checksum_mismatch_total",
			Help: "Archivos XSD cuyo SHA-256 difiere del registrado.",
		}, []string{"file"}),
		certExpiryDays: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "certificate_expiry_days",
			Help: "Días hasta el vencimiento del certificado digital.",
		}, []string{"owner", "subject"}),
		cacheBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "document_cache_bytes",
			Help: "Tamaño total de la caché de XML en bytes.",
		}),
		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "document_cache_entries",
			Help: "Cantidad de archivos en la caché de XML.",
		}),
		cacheEvicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "document_cache_evicted_total",
			Help: "Archivos eliminados de la caché por motivo (idade, tamanho).",
		}, []string{"reason"}),
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "documents_total",
			Help: "Documentos procesados por el orquestador por operación y resultado.",
		}, []string{"operation", "result"}),
	}

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.sefazRequests, r.sefazDuration, r.sefazRetries,
		r.dfeFetches, r.dfeDuration,
		r.schemaFailures, r.checksumMismatch,
		r.certExpiryDays,
		r.cacheBytes, r.cacheEntries, r.cacheEvicted,
		r.documents,
	)
	return r
}

// Handler devuelve el handler HTTP de exposición (/metrics).
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Gatherer expone el registro para tests.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

func (r *Registry) ObserveSefazRequest(uf, service, result string, d time.Duration) {
	if r == nil {
		return
	}
	r.sefazRequests.WithLabelValues(uf, service, result).Inc()
	r.sefazDuration.WithLabelValues(uf, service).Observe(d.Seconds())
}

func (r *Registry) IncSefazRetry(uf, service string) {
	if r == nil {
		return
	}
	r.sefazRetries.WithLabelValues(uf, service).Inc()
}

func (r *Registry) RecordDFeFetch(uf string, ok bool, attempt int, d time.Duration) {
	if r == nil {
		return
	}
	result := "erro"
	if ok {
		result = "sucesso"
		r.dfeDuration.WithLabelValues(uf).Observe(d.Seconds())
	}
	r.dfeFetches.WithLabelValues(uf, result, strconv.Itoa(attempt)).Inc()
}

func (r *Registry) IncSchemaFailure(operation, environment string) {
	if r == nil {
		return
	}
	r.schemaFailures.WithLabelValues(operation, environment).Inc()
}

func (r *Registry) IncChecksumMismatch(file string) {
	if r == nil {
		return
	}
	r.checksumMismatch.WithLabelValues(file).Inc()
}

func (r *Registry) SetCertificateExpiry(owner, subject string, days int) {
	if r == nil {
		return
	}
	r.certExpiryDays.WithLabelValues(owner, subject).Set(float64(days))
}

func (r *Registry) SetCacheUsage(bytes int64, entries int) {
	if r == nil {
		return
	}
	r.cacheBytes.Set(float64(bytes))
	r.cacheEntries.Set(float64(entries))
}

func (r *Registry) AddEvicted(reason string, n int) {
	if r == nil || n == 0 {
		return
	}
	r.cacheEvicted.WithLabelValues(reason).Add(float64(n))
}

func (r *Registry) IncDocument(operation, result string) {
	if r == nil {
		return
	}
	r.documents.WithLabelValues(operation, result).Inc()
}
