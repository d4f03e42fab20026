package postgres_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jhoicas/Fiscal-api/internal/infrastructure/postgres"
)

func TestLockKey_EstableYSeparaPartes(t *testing.T) {
	a := postgres.LockKey("nfe_dfe_cursor", "32409620000175", "1")
	assert.Equal(t, a, postgres.LockKey("nfe_dfe_cursor", "32409620000175", "1"))
	assert.NotEqual(t, a, postgres.LockKey("nfe_dfe_cursor", "32409620000175", "2"))
	assert.NotEqual(t, postgres.LockKey("ab", "c"), postgres.LockKey("a", "bc"), "el separador evita colisiones por concatenación")
}
