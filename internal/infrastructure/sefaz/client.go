package sefaz

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jhoicas/Fiscal-api/internal/domain"
	"github.com/jhoicas/Fiscal-api/internal/domain/entity"
	"github.com/jhoicas/Fiscal-api/internal/infrastructure/nfexml"
	"github.com/jhoicas/Fiscal-api/pkg/config"
	"github.com/jhoicas/Fiscal-api/pkg/metrics"
	"github.com/jhoicas/Fiscal-api/pkg/nfe"
)

const (
	soap12NS        = "http://www.w3.org/2003/05/soap-envelope"
	xsiNS           = "http://www.w3.org/2001/XMLSchema-instance"
	xsdNS           = "http://www.w3.org/2001/XMLSchema"
	maxResponseSize = 10 << 20
)

// ── Opciones ──────────────────────────────────────────────────────────────────

// Options son los parámetros de transporte de un cliente.
type Options struct {
	Timeout       time.Duration // por intento
	RetryAttempts int           // intentos totales, >= 1
	BackoffBase   time.Duration
	BackoffCap    time.Duration
	RatePerSecond float64 // 0 = sin límite
	RateBurst     int
	MaxBodyBytes  int64
}

// OptionsFromConfig toma los valores de SefazConfig, único origen de retry/backoff/timeout.
func OptionsFromConfig(cfg config.SefazConfig) Options {
	return Options{
		Timeout:       cfg.Timeout,
		RetryAttempts: cfg.RetryAttempts,
		BackoffBase:   cfg.BackoffBase,
		BackoffCap:    cfg.BackoffCap,
		RatePerSecond: cfg.RatePerSecond,
		RateBurst:     cfg.RateBurst,
	}
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.RetryAttempts < 1 {
		o.RetryAttempts = 1
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 2 * time.Second
	}
	if o.BackoffCap < o.BackoffBase {
		o.BackoffCap = o.BackoffBase
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = maxResponseSize
	}
	if o.RateBurst < 1 {
		o.RateBurst = 1
	}
	return o
}

// ── Backoff ───────────────────────────────────────────────────────────────────

// NewBackOff devuelve la política exponencial sin jitter: el intervalo n (1-based)
// es min(base·2^(n−1), cap) y nunca se detiene por tiempo total.
func NewBackOff(base, cap time.Duration) *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         cap,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

// BackoffDelay es la espera antes del reintento n (1-based): min(base·2^(n−1), cap).
func BackoffDelay(attempt int, base, cap time.Duration) time.Duration {
	if attempt < 1 {
		return 0
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	if d > cap {
		return cap
	}
	return d
}

// ── Cliente ───────────────────────────────────────────────────────────────────

// Client es el cliente SOAP de un binding UF/ambiente. Es seguro para uso concurrente.
type Client struct {
	binding   entity.EndpointBinding
	table     *Table
	http      *http.Client
	transport *http.Transport
	limiter   *rate.Limiter
	opts      Options
	metrics   *metrics.Registry
	log       zerolog.Logger
}

// NewClient crea el cliente con la configuración TLS ya armada (ver NewTLSConfig).
func NewClient(b entity.EndpointBinding, table *Table, tlsCfg *tls.Config, opts Options, m *metrics.Registry, log zerolog.Logger) *Client {
	opts = opts.withDefaults()
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		TLSClientConfig:     tlsCfg,
		TLSHandshakeTimeout: 15 * time.Second,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	return &Client{
		binding:   b,
		table:     table,
		http:      &http.Client{Transport: tr},
		transport: tr,
		limiter:   rate.NewLimiter(limit, opts.RateBurst),
		opts:      opts,
		metrics:   m,
		log:       log.With().Str("uf", b.UF).Str("ambiente", b.Environment.String()).Logger(),
	}
}

// Binding devuelve el par UF/ambiente del cliente.
func (c *Client) Binding() entity.EndpointBinding { return c.binding }

// Close libera las conexiones ociosas.
func (c *Client) Close() { c.transport.CloseIdleConnections() }

// SubmitBatch envía un enviNFe firmado (NFeAutorizacao4).
func (c *Client) SubmitBatch(ctx context.Context, enviNFe []byte) ([]byte, error) {
	return c.invoke(ctx, nfe.OpAuthorization, enviNFe)
}

// Query consulta la situación de una chave (NFeConsultaProtocolo4).
func (c *Client) Query(ctx context.Context, accessKey string) ([]byte, error) {
	payload, err := nfexml.BuildConsSit(c.binding.Environment, accessKey)
	if err != nil {
		return nil, err
	}
	return c.invoke(ctx, nfe.OpConsultation, payload)
}

// CancelEvent envía un envEvento de cancelamento firmado (NFeRecepcaoEvento4).
func (c *Client) CancelEvent(ctx context.Context, envEvento []byte) ([]byte, error) {
	return c.invoke(ctx, nfe.OpCancellation, envEvento)
}

// InvalidateRange envía un inutNFe firmado (NFeInutilizacao4).
func (c *Client) InvalidateRange(ctx context.Context, inutNFe []byte) ([]byte, error) {
	return c.invoke(ctx, nfe.OpInvalidation, inutNFe)
}

// DistributionRequest pide documentos por último NSU o por chave.
type DistributionRequest struct {
	TaxID     string
	AuthorUF  string // vacío = UF del binding
	LastNSU   string
	AccessKey string
}

// PullDistribution consulta la distribución DF-e del Ambiente Nacional.
func (c *Client) PullDistribution(ctx context.Context, req DistributionRequest) ([]byte, error) {
	uf := req.AuthorUF
	if uf == "" {
		uf = c.binding.UF
	}
	payload, err := nfexml.BuildDistribution(nfexml.DistributionQuery{
		Environment: c.binding.Environment,
		AuthorUF:    uf,
		TaxID:       req.TaxID,
		LastNSU:     req.LastNSU,
		AccessKey:   req.AccessKey,
	})
	if err != nil {
		return nil, err
	}
	return c.invoke(ctx, nfe.OpDistribution, payload)
}

// ServiceStatus consulta NFeStatusServico4 de la UF del binding.
func (c *Client) ServiceStatus(ctx context.Context) ([]byte, error) {
	payload, err := nfexml.BuildStatusService(c.binding.Environment, c.binding.UF)
	if err != nil {
		return nil, err
	}
	return c.invoke(ctx, nfe.OpStatusService, payload)
}

// invoke resuelve el endpoint (sin I/O), arma el envelope y ejecuta el round trip
// con reintentos solo para timeout y fallos de red.
func (c *Client) invoke(ctx context.Context, op nfe.Operation, payload []byte) ([]byte, error) {
	ep, err := c.table.Resolve(c.binding, op)
	if err != nil {
		return nil, err
	}
	envelope, err := buildEnvelope(ep, payload)
	if err != nil {
		return nil, domain.NewValidationError("sefaz.invoke", "serializar envelope SOAP", err)
	}

	attempt := 0
	policy := backoff.WithContext(
		backoff.WithMaxRetries(NewBackOff(c.opts.BackoffBase, c.opts.BackoffCap), uint64(c.opts.RetryAttempts-1)),
		ctx)

	body, err := backoff.RetryNotifyWithData(func() ([]byte, error) {
		attempt++
		raw, err := c.roundTrip(ctx, ep, envelope)
		if err == nil {
			return raw, nil
		}
		if ctx.Err() != nil || !domain.IsRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}, policy, func(err error, wait time.Duration) {
		c.metrics.IncSefazRetry(c.binding.UF, string(op))
		c.log.Warn().Err(err).Str("operacao", string(op)).Int("tentativa", attempt).
			Dur("espera", wait).Msg("reintentando petición SEFAZ")
	})
	if err != nil {
		if domain.KindOf(err) == "" && ctx.Err() != nil {
			return nil, domain.NewTransportTimeoutError("sefaz."+string(op), "contexto encerrado", ctx.Err())
		}
		return nil, err
	}
	return body, nil
}

func (c *Client) roundTrip(ctx context.Context, ep Endpoint, envelope []byte) (body []byte, err error) {
	opName := "sefaz." + string(ep.Operation)
	started := time.Now()
	defer func() {
		result := "sucesso"
		if err != nil {
			result = strings.ToLower(string(domain.KindOf(err)))
		}
		c.metrics.ObserveSefazRequest(c.binding.UF, string(ep.Operation), result, time.Since(started))
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, domain.NewTransportTimeoutError(opName, "límite de peticiones", err)
	}

	actx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodPost, ep.URL, bytes.NewReader(envelope))
	if err != nil {
		return nil, domain.NewConfigurationError(opName, "URL inválida "+ep.URL, err)
	}
	req.Header.Set("Content-Type", fmt.Sprintf(`application/soap+xml; charset=utf-8; action="%s"`, ep.Action()))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classify(opName, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.opts.MaxBodyBytes+1))
	if err != nil {
		return nil, classify(opName, err)
	}
	if int64(len(raw)) > c.opts.MaxBodyBytes {
		return nil, domain.NewProtocolRejectionError(opName, "", fmt.Sprintf("la respuesta excede %d bytes", c.opts.MaxBodyBytes))
	}

	if f, ok := detectFault(raw); ok {
		if f.retryable() {
			return nil, domain.NewTransportNetworkError(opName, "SOAP Fault "+f.Code+": "+f.Reason, nil)
		}
		return nil, domain.NewProtocolRejectionError(opName, "", "SOAP Fault "+f.Code+": "+f.Reason)
	}

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return nil, domain.NewTransportSecurityError(opName, "HTTP 403: el autorizador rechazó el certificado", nil)
	case resp.StatusCode >= 500:
		return nil, domain.NewTransportNetworkError(opName, fmt.Sprintf("HTTP %d", resp.StatusCode), nil)
	case resp.StatusCode >= 300:
		return nil, domain.NewProtocolRejectionError(opName, "", fmt.Sprintf("HTTP %d", resp.StatusCode))
	}
	return raw, nil
}

// classify traduce errores de net/http a la taxonomía del dominio. Errores de
// certificado o de handshake nunca se reintentan.
func classify(op string, err error) error {
	var (
		unknownAuth x509.UnknownAuthorityError
		invalid     x509.CertificateInvalidError
		hostname    x509.HostnameError
		verify      *tls.CertificateVerificationError
		record      tls.RecordHeaderError
		netErr      net.Error
	)
	switch {
	case errors.As(err, &unknownAuth), errors.As(err, &invalid), errors.As(err, &hostname),
		errors.As(err, &verify), errors.As(err, &record):
		return domain.NewTransportSecurityError(op, "handshake TLS rechazado", err)
	case strings.Contains(err.Error(), "tls:"):
		return domain.NewTransportSecurityError(op, "handshake TLS rechazado", err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return domain.NewTransportTimeoutError(op, "tiempo agotado", err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return domain.NewTransportTimeoutError(op, "tiempo agotado", err)
	}
	return domain.NewTransportNetworkError(op, "fallo de red", err)
}

// ── Envelope SOAP 1.2 ─────────────────────────────────────────────────────────

type soapEnvelope struct {
	XMLName  xml.Name `xml:"soap12:Envelope"`
	XmlnsXsi string   `xml:"xmlns:xsi,attr"`
	XmlnsXsd string   `xml:"xmlns:xsd,attr"`
	XmlnsS   string   `xml:"xmlns:soap12,attr"`
	Body     soapBody `xml:"soap12:Body"`
}

type soapBody struct {
	Content interface{}
}

func (b soapBody) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start.Name.Local = "soap12:Body"
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	if err := e.Encode(b.Content); err != nil {
		return err
	}
	return e.EncodeToken(start.End())
}

// dadosMsg lleva el XML del servicio tal cual (innerxml), sin declaración.
type dadosMsg struct {
	XMLName xml.Name `xml:"nfeDadosMsg"`
	Xmlns   string   `xml:"xmlns,attr,omitempty"`
	Payload string   `xml:",innerxml"`
}

// distInteresse: la distribución envuelve nfeDadosMsg en el método.
type distInteresse struct {
	XMLName xml.Name `xml:"nfeDistDFeInteresse"`
	Xmlns   string   `xml:"xmlns,attr"`
	Msg     dadosMsg
}

func buildEnvelope(ep Endpoint, payload []byte) ([]byte, error) {
	inner := string(bytes.TrimSpace(nfexml.StripDeclaration(payload)))
	var content interface{} = dadosMsg{Xmlns: ep.Namespace(), Payload: inner}
	if ep.Operation == nfe.OpDistribution {
		content = distInteresse{Xmlns: ep.Namespace(), Msg: dadosMsg{Payload: inner}}
	}
	out, err := xml.Marshal(soapEnvelope{
		XmlnsXsi: xsiNS,
		XmlnsXsd: xsdNS,
		XmlnsS:   soap12NS,
		Body:     soapBody{Content: content},
	})
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}
