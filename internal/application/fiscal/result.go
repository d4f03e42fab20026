package fiscal

import (
	"errors"
	"strings"
	"time"

	"github.com/jhoicas/Fiscal-api/internal/domain"
	"github.com/jhoicas/Fiscal-api/internal/infrastructure/sefaz"
	"github.com/jhoicas/Fiscal-api/pkg/nfe"
)

// KindInternal identifica fallos sin clasificar (disco, base de datos).
const KindInternal = "INTERNAL"

// Result es la salida de toda operación del orquestador. Los errores nunca
// escapan: se traducen a Success=false con Reason y ErrorKind.
type Result struct {
	Success        bool      `json:"success"`
	AccessKey      string    `json:"access_key,omitempty"`
	ProtocolNumber string    `json:"protocol_number,omitempty"`
	StatusCode     string    `json:"status_code,omitempty"`
	Reason         string    `json:"reason"`
	State          nfe.State `json:"state,omitempty"`
	ErrorKind      string    `json:"error_kind,omitempty"`
	Number         int       `json:"number,omitempty"`
	Series         int       `json:"series,omitempty"`
	Verified       bool      `json:"verified"` // el retorno pasó su XSD
	ReceivedAt     time.Time `json:"received_at,omitzero"`
	File           string    `json:"file,omitempty"`
	XML            []byte    `json:"-"`
}

func fromResponse(resp sefaz.Response) Result {
	return Result{
		Success:        resp.Success(),
		AccessKey:      resp.AccessKey,
		ProtocolNumber: resp.ProtocolNumber,
		StatusCode:     resp.StatusCode,
		Reason:         resp.Reason,
		State:          resp.State(),
		ReceivedAt:     resp.ReceivedAt,
	}
}

// failure traduce un error a Result. Los rechazos conservan cStat y xMotivo.
func failure(err error) Result {
	res := Result{Success: false, ErrorKind: KindInternal, Reason: err.Error()}
	var fe *domain.FiscalError
	if errors.As(err, &fe) {
		res.ErrorKind = string(fe.Kind)
		res.StatusCode = fe.StatusCode
		if fe.Reason != "" {
			res.Reason = fe.Reason
		}
	}
	return res
}

// outcome es la etiqueta de métrica del resultado.
func outcome(r Result) string {
	switch {
	case r.Success:
		return "sucesso"
	case r.State != "":
		return string(r.State)
	default:
		return strings.ToLower(r.ErrorKind)
	}
}
