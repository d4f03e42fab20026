package nfexml_test

import (
	"strings"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/Fiscal-api/internal/domain"
	"github.com/jhoicas/Fiscal-api/internal/domain/entity"
	"github.com/jhoicas/Fiscal-api/internal/infrastructure/nfexml"
	"github.com/jhoicas/Fiscal-api/internal/infrastructure/sefaz/signer"
	"github.com/jhoicas/Fiscal-api/internal/testutil"
	"github.com/jhoicas/Fiscal-api/pkg/nfe"
)

const chave = "35250732409620000175550010000037471011544648"

var emitidaEm = time.Date(2025, 7, 10, 14, 30, 0, 0, time.FixedZone("BRT", -3*3600))

func intent() *entity.DocumentIntent {
	return &entity.DocumentIntent{
		Kind:              nfe.KindNFe,
		UF:                "SP",
		Environment:       nfe.Homologation,
		Series:            1,
		Number:            3747,
		NatureOfOperation: "Venda  de\tmercadoria",
		Issuer: entity.Party{
			TaxID:             testutil.TestCNPJ,
			Name:              "Empresa Teste Ltda",
			StateRegistration: "111.222.333.444",
			Address: entity.Address{
				Street: "Rua das Flores", Number: "100", District: "Centro",
				CityCode: "3550308", CityName: "São Paulo", UF: "SP", ZIP: "01001-000",
			},
		},
		Recipient: &entity.Party{TaxID: "123.456.789-09", Name: "João da Silva"},
		Items: []entity.IntentItem{
			{Code: "P1", Description: "Caneta azul", NCM: "96081000", CFOP: "5102", Unit: "UN",
				Quantity: decimal.NewFromInt(2), UnitPrice: decimal.RequireFromString("10.50")},
			{Code: "P2", Description: "Borracha", NCM: "40169200", CFOP: "5102", Unit: "UN",
				Quantity: decimal.NewFromInt(1), UnitPrice: decimal.RequireFromString("3.333")},
		},
		PaymentType: "01",
		IssuedAt:    emitidaEm,
	}
}

func keyFields(t *testing.T) nfe.KeyFields {
	t.Helper()
	f, err := nfe.Decode(chave)
	require.NoError(t, err)
	return f
}

func parse(t *testing.T, raw []byte) *etree.Element {
	t.Helper()
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(raw))
	require.NotNil(t, doc.Root())
	return doc.Root()
}

func text(root *etree.Element, path string) string {
	el := root.FindElement(path)
	if el == nil {
		return ""
	}
	return el.Text()
}

func TestBuild_NFeConIdTotalesYSinEspaciosEntreTags(t *testing.T) {
	raw, err := nfexml.NewNFeBuilder().Build(intent(), keyFields(t), chave)
	require.NoError(t, err)

	assert.NotContains(t, string(raw), "\n", "el layout no admite saltos de línea entre tags")
	root := parse(t, raw)
	assert.Equal(t, "NFe", root.Tag)
	assert.Equal(t, nfe.NamespaceNFe, root.SelectAttrValue("xmlns", ""))

	inf := root.SelectElement("infNFe")
	require.NotNil(t, inf)
	assert.Equal(t, "NFe"+chave, inf.SelectAttrValue("Id", ""))
	assert.Equal(t, "4.00", inf.SelectAttrValue("versao", ""))

	assert.Equal(t, "8", text(root, "./infNFe/ide/cDV"))
	assert.Equal(t, "01154464", text(root, "./infNFe/ide/cNF"))
	assert.Equal(t, "Venda de mercadoria", text(root, "./infNFe/ide/natOp"), "natOp normalizado")
	assert.Equal(t, "2025-07-10T14:30:00-03:00", text(root, "./infNFe/ide/dhEmi"))
	assert.Equal(t, "2", text(root, "./infNFe/ide/tpAmb"))
	assert.Equal(t, "111222333444", text(root, "./infNFe/emit/IE"))
	assert.Equal(t, "12345678909", text(root, "./infNFe/dest/CPF"))
	assert.Equal(t, nfexml.HomologationRecipientName, text(root, "./infNFe/dest/xNome"))
	assert.Equal(t, "9", text(root, "./infNFe/dest/indIEDest"))

	dets := root.FindElements("./infNFe/det")
	require.Len(t, dets, 2)
	assert.Equal(t, "2", dets[1].SelectAttrValue("nItem", ""))
	assert.Equal(t, "21.00", text(dets[0], "./prod/vProd"))
	assert.Equal(t, "3.33", text(dets[1], "./prod/vProd"))
	assert.Equal(t, "2.0000", text(dets[0], "./prod/qCom"))

	assert.Equal(t, "24.33", text(root, "./infNFe/total/ICMSTot/vProd"))
	assert.Equal(t, "24.33", text(root, "./infNFe/total/ICMSTot/vNF"))
	assert.Equal(t, "24.33", text(root, "./infNFe/pag/detPag/vPag"))
}

func TestBuild_ProduccionConservaNombreDelDestinatario(t *testing.T) {
	in := intent()
	in.Environment = nfe.Production
	raw, err := nfexml.NewNFeBuilder().Build(in, keyFields(t), chave)
	require.NoError(t, err)
	assert.Equal(t, "Joao da Silva", text(parse(t, raw), "./infNFe/dest/xNome"), "sin acentos en xNome")
}

func TestBuild_FirmaYVerificaElDocumentoGenerado(t *testing.T) {
	raw, err := nfexml.NewNFeBuilder().Build(intent(), keyFields(t), chave)
	require.NoError(t, err)

	ca := testutil.NewCA(t)
	cert := ca.IssueClient(t, time.Now().Add(-time.Hour), time.Now().AddDate(1, 0, 0)).TLS(ca)
	svc := signer.NewXMLDSigService()
	signed, err := svc.Sign(raw, cert)
	require.NoError(t, err)
	require.NoError(t, svc.Verify(signed))

	batch, err := nfexml.WrapBatch("000000000000001", signed)
	require.NoError(t, err)
	root := parse(t, batch)
	assert.Equal(t, "enviNFe", root.Tag)
	assert.Equal(t, "1", text(root, "./indSinc"))
	require.NotNil(t, root.FindElement("./NFe/Signature"))
	require.NoError(t, svc.Verify(batch), "la firma sigue válida dentro del lote")
}

func TestBuild_Validaciones(t *testing.T) {
	cases := map[string]func(*entity.DocumentIntent){
		"modelo no soportado": func(in *entity.DocumentIntent) { in.Kind = nfe.KindCTe },
		"sin items":           func(in *entity.DocumentIntent) { in.Items = nil },
		"cnpj corto":          func(in *entity.DocumentIntent) { in.Issuer.TaxID = "123" },
		"sin IE":              func(in *entity.DocumentIntent) { in.Issuer.StateRegistration = "" },
		"cantidad cero":       func(in *entity.DocumentIntent) { in.Items[0].Quantity = decimal.Zero },
		"NCM inválido":        func(in *entity.DocumentIntent) { in.Items[0].NCM = "96" },
		"sin tPag":            func(in *entity.DocumentIntent) { in.PaymentType = "" },
		"sin natOp":           func(in *entity.DocumentIntent) { in.NatureOfOperation = "  " },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := intent()
			mutate(in)
			_, err := nfexml.NewNFeBuilder().Build(in, keyFields(t), chave)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}

	_, err := nfexml.NewNFeBuilder().Build(intent(), keyFields(t), chave[:43]+"0")
	assert.ErrorIs(t, err, domain.ErrValidation, "chave con DV incorrecto")
}

func TestWrapProcessed_IncluyeNotaYProtocolo(t *testing.T) {
	out := nfexml.WrapProcessed(
		[]byte(`<?xml version="1.0"?><NFe xmlns="http://www.portalfiscal.inf.br/nfe"><infNFe Id="x"/></NFe>`),
		[]byte(`<protNFe versao="4.00"><infProt><cStat>100</cStat></infProt></protNFe>`))
	root := parse(t, out)
	assert.Equal(t, "nfeProc", root.Tag)
	assert.Equal(t, "100", text(root, "./protNFe/infProt/cStat"))
	assert.Equal(t, 1, strings.Count(string(out), "<?xml"))
}

func TestWrapBatch_LoteInvalido(t *testing.T) {
	_, err := nfexml.WrapBatch("abc", []byte("<NFe/>"))
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = nfexml.WrapBatch("1")
	assert.ErrorIs(t, err, domain.ErrValidation)
}
