package fiscal

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jhoicas/Fiscal-api/internal/domain/entity"
	"github.com/jhoicas/Fiscal-api/internal/infrastructure/sefaz"
	"github.com/jhoicas/Fiscal-api/pkg/nfe"
)

const maxStatusConcurrency = 8

// StatusReport es el estado de NFeStatusServico4 de una UF.
type StatusReport struct {
	UF             string    `json:"uf"`
	Online         bool      `json:"online"`
	StatusCode     string    `json:"status_code,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	AverageSeconds int       `json:"average_seconds,omitempty"`
	ErrorKind      string    `json:"error_kind,omitempty"`
	CheckedAt      time.Time `json:"checked_at"`
	Cached         bool      `json:"cached"`
}

// ServiceStatus consulta en paralelo el status de las UF (por defecto las
// configuradas). Cada UF se cachea durante StatusTTL; un fallo queda en su
// reporte y no afecta a las demás.
func (o *Orchestrator) ServiceStatus(ctx context.Context, ufs []string) []StatusReport {
	if len(ufs) == 0 {
		ufs = o.opt.StatusUFs
	}
	if len(ufs) == 0 {
		ufs = []string{o.opt.UF}
	}
	reports := make([]StatusReport, len(ufs))

	var g errgroup.Group
	g.SetLimit(maxStatusConcurrency)
	for i, uf := range ufs {
		b := entity.EndpointBinding{UF: strings.ToUpper(strings.TrimSpace(uf)), Environment: o.opt.Environment}
		if cached, ok := o.cachedStatus(b); ok {
			reports[i] = cached
			continue
		}
		g.Go(func() error {
			reports[i] = o.pollStatus(ctx, b)
			return nil
		})
	}
	_ = g.Wait()
	return reports
}

func (o *Orchestrator) pollStatus(ctx context.Context, b entity.EndpointBinding) StatusReport {
	ctx, cancel := context.WithTimeout(ctx, o.opt.StatusTimeout)
	defer cancel()

	report := StatusReport{UF: b.UF, CheckedAt: o.now()}
	resp, err := o.statusOf(ctx, b)
	if err != nil {
		f := failure(err)
		report.ErrorKind = f.ErrorKind
		report.Reason = f.Reason
		o.log.Warn().Err(err).Str("uf", b.UF).Msg("status de servicio no disponible")
		return report
	}
	report.StatusCode = resp.StatusCode
	report.Reason = resp.Reason
	report.AverageSeconds = resp.AverageSeconds
	report.Online = resp.State() == nfe.StateSuccess

	o.statusMu.Lock()
	o.statusCache[b] = report
	o.statusMu.Unlock()
	return report
}

func (o *Orchestrator) statusOf(ctx context.Context, b entity.EndpointBinding) (sefaz.Response, error) {
	client, err := o.deps.Clients.Client(ctx, b)
	if err != nil {
		return sefaz.Response{}, err
	}
	raw, err := client.ServiceStatus(ctx)
	if err != nil {
		return sefaz.Response{}, err
	}
	return sefaz.ParseResponse(nfe.OpStatusService, raw)
}

// cachedStatus solo devuelve respuestas exitosas de la SEFAZ; los errores no se cachean.
func (o *Orchestrator) cachedStatus(b entity.EndpointBinding) (StatusReport, bool) {
	o.statusMu.Lock()
	defer o.statusMu.Unlock()
	r, ok := o.statusCache[b]
	if !ok || o.now().Sub(r.CheckedAt) >= o.opt.StatusTTL {
		return StatusReport{}, false
	}
	r.Cached = true
	return r, true
}
