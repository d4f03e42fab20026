package entity_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/Fiscal-api/internal/domain/entity"
	"github.com/jhoicas/Fiscal-api/pkg/nfe"
)

func TestNSUCursor_AdvanceEsMonotono(t *testing.T) {
	now := time.Now()
	c := entity.NewNSUCursor(entity.CursorKey{TaxID: "32409620000175", Environment: nfe.Homologation})

	c, err := c.Advance("000000000000010", "000000000000050", now)
	require.NoError(t, err)
	assert.Equal(t, "000000000000010", c.LastNSU)
	assert.Equal(t, "000000000000050", c.MaxNSU)
	assert.False(t, c.Done())

	// Un ultNSU menor no retrocede el cursor.
	c, err = c.Advance("5", "40", now)
	require.NoError(t, err)
	assert.Equal(t, "000000000000010", c.LastNSU)
	assert.Equal(t, "000000000000050", c.MaxNSU)

	c, err = c.Advance("60", "", now)
	require.NoError(t, err)
	assert.Equal(t, "000000000000060", c.LastNSU)
	assert.Equal(t, "000000000000060", c.MaxNSU, "maxNSU nunca queda por debajo de lastNSU")
	assert.True(t, c.Done())
}

func TestNSUCursor_AdvanceRechazaNoNumerico(t *testing.T) {
	c := entity.NewNSUCursor(entity.CursorKey{TaxID: "1", Environment: nfe.Production})
	_, err := c.Advance("abc", "", time.Now())
	assert.Error(t, err)
}

func TestCertificate_DaysUntilExpiryRedondeaHaciaArriba(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c := &entity.Certificate{NotAfter: now.Add(time.Hour)}
	assert.Equal(t, 1, c.DaysUntilExpiry(now))
	assert.Equal(t, entity.CertStatusExpiring, c.Status(now))

	c.NotAfter = now.Add(-time.Hour)
	assert.Equal(t, entity.CertStatusExpired, c.Status(now))

	c.NotAfter = now.Add(400 * 24 * time.Hour)
	assert.Equal(t, 400, c.DaysUntilExpiry(now))
	assert.Equal(t, entity.CertStatusValid, c.Status(now))
}
