package domain_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jhoicas/Fiscal-api/internal/domain"
)

func TestFiscalError_CoincideConSuSentinela(t *testing.T) {
	err := domain.NewTransportTimeoutError("sefaz: consulta", "sin respuesta", context.DeadlineExceeded)
	wrapped := fmt.Errorf("orquestador: %w", err)

	assert.ErrorIs(t, wrapped, domain.ErrTransportTimeout)
	assert.NotErrorIs(t, wrapped, domain.ErrTransportNetwork)
	assert.ErrorIs(t, wrapped, context.DeadlineExceeded, "debe conservar la causa original")
	assert.Equal(t, domain.KindTransportTimeout, domain.KindOf(wrapped))
}

func TestIsRetryable_SoloTimeoutYRed(t *testing.T) {
	assert.True(t, domain.IsRetryable(domain.NewTransportTimeoutError("op", "x", nil)))
	assert.True(t, domain.IsRetryable(domain.NewTransportNetworkError("op", "x", nil)))
	assert.False(t, domain.IsRetryable(domain.NewTransportSecurityError("op", "x", nil)))
	assert.False(t, domain.IsRetryable(domain.NewProtocolRejectionError("op", "301", "Uso Denegado")))
	assert.False(t, domain.IsRetryable(errors.New("otro")))
}

func TestProtocolRejection_MensajeIncluyeCStat(t *testing.T) {
	err := domain.NewProtocolRejectionError("autorizacion", "301", "Uso Denegado: Irregularidade fiscal do emitente")
	assert.Contains(t, err.Error(), "cStat 301")
	assert.Contains(t, err.Error(), "Irregularidade fiscal")
	assert.Equal(t, domain.ErrorKind(""), domain.KindOf(errors.New("plano")))
}
