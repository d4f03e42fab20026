package domain

import (
	"errors"
	"fmt"
)

// Errores de dominio genéricos (sin dependencias externas).
var (
	ErrNotFound       = errors.New("recurso no encontrado")
	ErrInvalidInput   = errors.New("entrada inválida")
	ErrDuplicate      = errors.New("recurso duplicado")
	ErrUnauthorized   = errors.New("no autorizado")
	ErrForbidden      = errors.New("acceso denegado")
	ErrSyncInProgress = errors.New("sincronización NSU ya en curso para el par cnpj/ambiente")
)

// ── Taxonomía de errores del intercambio fiscal ───────────────────────────────

// ErrorKind clasifica los fallos del subsistema de intercambio con la SEFAZ.
type ErrorKind string

const (
	KindCertificate       ErrorKind = "CERTIFICATE"
	KindConfiguration     ErrorKind = "CONFIGURATION"
	KindTransportSecurity ErrorKind = "TRANSPORT_SECURITY"
	KindTransportTimeout  ErrorKind = "TRANSPORT_TIMEOUT"
	KindTransportNetwork  ErrorKind = "TRANSPORT_NETWORK"
	KindProtocolRejection ErrorKind = "PROTOCOL_REJECTION"
	KindValidation        ErrorKind = "VALIDATION"
	KindSigning           ErrorKind = "SIGNING"
)

// Sentinelas por tipo; un *FiscalError coincide con la de su Kind vía errors.Is.
var (
	ErrCertificate       = errors.New("certificado digital inválido")
	ErrConfiguration     = errors.New("configuración inválida")
	ErrTransportSecurity = errors.New("negociación TLS rechazada")
	ErrTransportTimeout  = errors.New("tiempo de espera agotado con la SEFAZ")
	ErrTransportNetwork  = errors.New("fallo de red con la SEFAZ")
	ErrProtocolRejection = errors.New("rechazo de la SEFAZ")
	ErrValidation        = errors.New("documento no conforme al esquema")
	ErrSigning           = errors.New("no se pudo firmar el documento")
)

var sentinelByKind = map[ErrorKind]error{
	KindCertificate:       ErrCertificate,
	KindConfiguration:     ErrConfiguration,
	KindTransportSecurity: ErrTransportSecurity,
	KindTransportTimeout:  ErrTransportTimeout,
	KindTransportNetwork:  ErrTransportNetwork,
	KindProtocolRejection: ErrProtocolRejection,
	KindValidation:        ErrValidation,
	KindSigning:           ErrSigning,
}

// FiscalError es el error tipado del subsistema. StatusCode solo se llena en
// rechazos de protocolo (cStat devuelto por la SEFAZ).
type FiscalError struct {
	Kind       ErrorKind
	Op         string
	Reason     string
	StatusCode string
	Err        error
}

func (e *FiscalError) Error() string {
	msg := e.Reason
	if e.StatusCode != "" {
		msg = fmt.Sprintf("cStat %s: %s", e.StatusCode, e.Reason)
	}
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *FiscalError) Unwrap() error { return e.Err }

// Is permite errors.Is(err, domain.ErrTransportTimeout) sobre cualquier *FiscalError.
func (e *FiscalError) Is(target error) bool {
	s, ok := sentinelByKind[e.Kind]
	return ok && s == target
}

func newKind(kind ErrorKind, op, reason string, err error) *FiscalError {
	return &FiscalError{Kind: kind, Op: op, Reason: reason, Err: err}
}

func NewCertificateError(op, reason string, err error) *FiscalError {
	return newKind(KindCertificate, op, reason, err)
}

func NewConfigurationError(op, reason string, err error) *FiscalError {
	return newKind(KindConfiguration, op, reason, err)
}

func NewTransportSecurityError(op, reason string, err error) *FiscalError {
	return newKind(KindTransportSecurity, op, reason, err)
}

func NewTransportTimeoutError(op, reason string, err error) *FiscalError {
	return newKind(KindTransportTimeout, op, reason, err)
}

func NewTransportNetworkError(op, reason string, err error) *FiscalError {
	return newKind(KindTransportNetwork, op, reason, err)
}

func NewValidationError(op, reason string, err error) *FiscalError {
	return newKind(KindValidation, op, reason, err)
}

func NewSigningError(op, reason string, err error) *FiscalError {
	return newKind(KindSigning, op, reason, err)
}

// NewProtocolRejectionError conserva el cStat y el xMotivo literales de la SEFAZ.
func NewProtocolRejectionError(op, statusCode, reason string) *FiscalError {
	return &FiscalError{Kind: KindProtocolRejection, Op: op, StatusCode: statusCode, Reason: reason}
}

// KindOf devuelve el tipo del primer *FiscalError de la cadena, o "" si no hay ninguno.
func KindOf(err error) ErrorKind {
	var fe *FiscalError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsRetryable indica si el error admite reintento con backoff (solo timeout y red).
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransportTimeout) || errors.Is(err, ErrTransportNetwork)
}
