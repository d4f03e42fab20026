package nfexml_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/Fiscal-api/internal/domain"
	"github.com/jhoicas/Fiscal-api/internal/infrastructure/nfexml"
	"github.com/jhoicas/Fiscal-api/internal/testutil"
	"github.com/jhoicas/Fiscal-api/pkg/nfe"
)

func cancelEvent() nfexml.CancelEvent {
	return nfexml.CancelEvent{
		LotID:         "42",
		AccessKey:     chave,
		Protocol:      "135250000012345",
		Justification: "  Erro na digitação\n do valor unitário  ",
		TaxID:         testutil.TestCNPJ,
		Environment:   nfe.Homologation,
		Sequence:      1,
		At:            emitidaEm,
	}
}

func TestBuildCancelEvent_IdYCampos(t *testing.T) {
	raw, err := nfexml.BuildCancelEvent(cancelEvent())
	require.NoError(t, err)
	root := parse(t, raw)

	assert.Equal(t, "envEvento", root.Tag)
	assert.Equal(t, "1.00", root.SelectAttrValue("versao", ""))
	assert.Equal(t, "42", text(root, "./idLote"))

	inf := root.FindElement("./evento/infEvento")
	require.NotNil(t, inf)
	assert.Equal(t, "ID110111"+chave+"01", inf.SelectAttrValue("Id", ""))
	assert.Equal(t, "35", text(inf, "./cOrgao"))
	assert.Equal(t, testutil.TestCNPJ, text(inf, "./CNPJ"))
	assert.Equal(t, "110111", text(inf, "./tpEvento"))
	assert.Equal(t, "Cancelamento", text(inf, "./detEvento/descEvento"))
	assert.Equal(t, "Erro na digitação do valor unitário", text(inf, "./detEvento/xJust"), "xJust normalizado")
}

func TestBuildCancelEvent_Validaciones(t *testing.T) {
	cases := map[string]func(*nfexml.CancelEvent){
		"justificativa corta":   func(e *nfexml.CancelEvent) { e.Justification = "muito curta" },
		"justificativa larga":   func(e *nfexml.CancelEvent) { e.Justification = strings.Repeat("a", 256) },
		"protocolo de 14":       func(e *nfexml.CancelEvent) { e.Protocol = "13525000001234" },
		"protocolo con letras":  func(e *nfexml.CancelEvent) { e.Protocol = "13525000001234X" },
		"chave inválida":        func(e *nfexml.CancelEvent) { e.AccessKey = chave[:43] + "0" },
		"secuencia cero":        func(e *nfexml.CancelEvent) { e.Sequence = 0 },
		"autor sin documento":   func(e *nfexml.CancelEvent) { e.TaxID = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			ev := cancelEvent()
			mutate(&ev)
			_, err := nfexml.BuildCancelEvent(ev)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestNormalizeJustification_CuentaRunasNoBytes(t *testing.T) {
	// 15 runas con acentos: más de 15 bytes pero justo en el mínimo.
	j, err := nfexml.NormalizeJustification("test", "ããããããããããããããã")
	require.NoError(t, err)
	assert.Equal(t, 15, len([]rune(j)))

	_, err = nfexml.NormalizeJustification("test", "ãããããããããããããã")
	assert.ErrorIs(t, err, domain.ErrValidation, "14 runas no alcanzan")
}

func TestBuildInvalidation_IdConCamposRellenados(t *testing.T) {
	raw, err := nfexml.BuildInvalidation(nfexml.Invalidation{
		UF: "SP", Environment: nfe.Homologation, Year: 2025, TaxID: testutil.TestCNPJ,
		Model: "55", Series: 1, From: 10, To: 20,
		Justification: "Falha no sistema emissor de notas",
	})
	require.NoError(t, err)
	root := parse(t, raw)

	assert.Equal(t, "inutNFe", root.Tag)
	inf := root.SelectElement("infInut")
	require.NotNil(t, inf)
	assert.Equal(t, "ID3525"+testutil.TestCNPJ+"55001000000010000000020", inf.SelectAttrValue("Id", ""))
	assert.Equal(t, "INUTILIZAR", text(inf, "./xServ"))
	assert.Equal(t, "25", text(inf, "./ano"))
	assert.Equal(t, "10", text(inf, "./nNFIni"))
	assert.Equal(t, "20", text(inf, "./nNFFin"))
}

func TestBuildInvalidation_Validaciones(t *testing.T) {
	base := nfexml.Invalidation{
		UF: "SP", Environment: nfe.Homologation, Year: 2025, TaxID: testutil.TestCNPJ,
		Model: "55", Series: 1, From: 10, To: 20, Justification: "Falha no sistema emissor de notas",
	}
	cases := map[string]func(*nfexml.Invalidation){
		"rango invertido":   func(i *nfexml.Invalidation) { i.From, i.To = 20, 10 },
		"inicio cero":       func(i *nfexml.Invalidation) { i.From = 0 },
		"UF desconocida":    func(i *nfexml.Invalidation) { i.UF = "XX" },
		"modelo CT-e":       func(i *nfexml.Invalidation) { i.Model = "57" },
		"justificativa":     func(i *nfexml.Invalidation) { i.Justification = "curta" },
		"CPF no se admite":  func(i *nfexml.Invalidation) { i.TaxID = "12345678909" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := base
			mutate(&in)
			_, err := nfexml.BuildInvalidation(in)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestBuildConsultas(t *testing.T) {
	raw, err := nfexml.BuildConsSit(nfe.Production, chave)
	require.NoError(t, err)
	root := parse(t, raw)
	assert.Equal(t, "consSitNFe", root.Tag)
	assert.Equal(t, "CONSULTAR", text(root, "./xServ"))
	assert.Equal(t, chave, text(root, "./chNFe"))

	raw, err = nfexml.BuildStatusService(nfe.Homologation, "RJ")
	require.NoError(t, err)
	root = parse(t, raw)
	assert.Equal(t, "33", text(root, "./cUF"))
	assert.Equal(t, "STATUS", text(root, "./xServ"))

	_, err = nfexml.BuildConsSit(nfe.Production, "123")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestBuildDistribution_PorNSUYPorChave(t *testing.T) {
	raw, err := nfexml.BuildDistribution(nfexml.DistributionQuery{
		Environment: nfe.Production, AuthorUF: "SP", TaxID: testutil.TestCNPJ, LastNSU: "1234",
	})
	require.NoError(t, err)
	root := parse(t, raw)
	assert.Equal(t, "distDFeInt", root.Tag)
	assert.Equal(t, "1.01", root.SelectAttrValue("versao", ""))
	assert.Equal(t, "35", text(root, "./cUFAutor"))
	assert.Equal(t, "000000000001234", text(root, "./distNSU/ultNSU"))
	assert.Nil(t, root.SelectElement("consChNFe"))

	raw, err = nfexml.BuildDistribution(nfexml.DistributionQuery{
		Environment: nfe.Production, AuthorUF: "SP", TaxID: testutil.TestCNPJ, AccessKey: chave,
	})
	require.NoError(t, err)
	root = parse(t, raw)
	assert.Equal(t, chave, text(root, "./consChNFe/chNFe"))
	assert.Nil(t, root.SelectElement("distNSU"))

	raw, err = nfexml.BuildDistribution(nfexml.DistributionQuery{
		Environment: nfe.Production, AuthorUF: "SP", TaxID: testutil.TestCNPJ,
	})
	require.NoError(t, err)
	assert.Equal(t, "000000000000000", text(parse(t, raw), "./distNSU/ultNSU"), "cursor inicial")

	_, err = nfexml.BuildDistribution(nfexml.DistributionQuery{
		Environment: nfe.Production, AuthorUF: "SP", TaxID: testutil.TestCNPJ, LastNSU: "12a",
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestStripDeclaration(t *testing.T) {
	out := nfexml.StripDeclaration([]byte("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n<a/>"))
	assert.Equal(t, "<a/>", string(out))
}
