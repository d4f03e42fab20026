package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestChave_DescomponeLaChave(t *testing.T) {
	out, err := run(t, "chave", "3525 0732 4096 2000 0175 5500 1000 0037 4710 1154 4648")
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &fields))
	assert.Equal(t, "35", fields["UF"])
	assert.Equal(t, "32409620000175", fields["TaxID"])
	assert.Equal(t, "55", fields["Model"])
	assert.EqualValues(t, 3747, fields["Number"])
}

func TestChave_DigitoInvalido(t *testing.T) {
	_, err := run(t, "chave", "35250732409620000175550010000037471011544640")
	assert.Error(t, err, "un dígito verificador incorrecto debe fallar")
}

func TestXSD_GenerateYVerify(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "homologacao"), 0o755))
	xsd := filepath.Join(dir, "homologacao", "consStatServ_v4.00.xsd")
	require.NoError(t, os.WriteFile(xsd, []byte(`<xs:schema xmlns:xs="http://www.w3.org/2001/XMLSchema"/>`), 0o644))

	_, err := run(t, "xsd", "generate", "--dir", dir)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "checksums.json"))

	_, err = run(t, "xsd", "verify", "--dir", dir)
	require.NoError(t, err, "recién generados los checksums coinciden")

	require.NoError(t, os.WriteFile(xsd, []byte(`<xs:schema xmlns:xs="http://www.w3.org/2001/XMLSchema"><!-- x --></xs:schema>`), 0o644))
	_, err = run(t, "xsd", "verify", "--dir", dir)
	assert.ErrorContains(t, err, "checksum divergente")
}
