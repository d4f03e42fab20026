package sefaz_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/Fiscal-api/internal/domain"
	"github.com/jhoicas/Fiscal-api/internal/domain/entity"
	"github.com/jhoicas/Fiscal-api/internal/infrastructure/sefaz"
	"github.com/jhoicas/Fiscal-api/pkg/nfe"
)

func TestResolve_SaoPauloHomologacao(t *testing.T) {
	ep, err := sefaz.DefaultTable().Resolve(spHom, nfe.OpAuthorization)
	require.NoError(t, err)
	assert.Equal(t, "SP", ep.Authorizer)
	assert.Equal(t, "https://homologacao.nfe.fazenda.sp.gov.br/ws/nfeautorizacao4.asmx", ep.URL)
	assert.Equal(t, "http://www.portalfiscal.inf.br/nfe/wsdl/NFeAutorizacao4", ep.Namespace())
	assert.Equal(t, "http://www.portalfiscal.inf.br/nfe/wsdl/NFeAutorizacao4/nfeAutorizacaoLote", ep.Action())
}

func TestResolve_UFsAtendidasPorSVRS(t *testing.T) {
	table := sefaz.DefaultTable()
	for _, uf := range []string{"RJ", "sc", "DF"} {
		ep, err := table.Resolve(entity.EndpointBinding{UF: uf, Environment: nfe.Production}, nfe.OpStatusService)
		require.NoError(t, err, uf)
		assert.Equal(t, nfe.UFSVRS, ep.Authorizer, uf)
		assert.Equal(t, "https://nfe.svrs.rs.gov.br/ws/NfeStatusServico/NfeStatusServico4.asmx", ep.URL, uf)
	}
}

func TestResolve_DistribucionSiempreEnAmbienteNacional(t *testing.T) {
	table := sefaz.DefaultTable()
	for _, uf := range []string{"SP", "RJ", "MG"} {
		ep, err := table.Resolve(entity.EndpointBinding{UF: uf, Environment: nfe.Homologation}, nfe.OpDistribution)
		require.NoError(t, err, uf)
		assert.Equal(t, nfe.UFAN, ep.Authorizer)
		assert.Equal(t, "https://hom1.nfe.fazenda.gov.br/NFeDistribuicaoDFe/NFeDistribuicaoDFe.asmx", ep.URL)
		assert.Equal(t, "http://www.portalfiscal.inf.br/nfe/wsdl/NFeDistribuicaoDFe/nfeDistDFeInteresse", ep.Action())
	}
}

func TestResolve_ErroresDeConfiguracion(t *testing.T) {
	table := sefaz.DefaultTable()
	cases := []struct {
		name string
		b    entity.EndpointBinding
		op   nfe.Operation
	}{
		{"UF sin tabla", entity.EndpointBinding{UF: "MG", Environment: nfe.Production}, nfe.OpAuthorization},
		{"ambiente inválido", entity.EndpointBinding{UF: "SP", Environment: "3"}, nfe.OpAuthorization},
		{"operación desconocida", spHom, nfe.Operation("manifestacao")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := table.Resolve(tc.b, tc.op)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrConfiguration)
		})
	}
}

func TestNewTable_ServicioNoConfigurado(t *testing.T) {
	table := sefaz.NewTable(map[entity.EndpointBinding]sefaz.ServiceURLs{
		spHom: {nfe.OpStatusService: "https://sefaz.test/status"},
	}, nil)

	ep, err := table.Resolve(entity.EndpointBinding{UF: "sp", Environment: nfe.Homologation}, nfe.OpStatusService)
	require.NoError(t, err)
	assert.Equal(t, "https://sefaz.test/status", ep.URL)

	_, err = table.Resolve(spHom, nfe.OpAuthorization)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestAuthorizer(t *testing.T) {
	table := sefaz.DefaultTable()
	assert.Equal(t, "SP", table.Authorizer("sp", nfe.OpAuthorization))
	assert.Equal(t, nfe.UFSVRS, table.Authorizer("ES", nfe.OpCancellation))
	assert.Equal(t, nfe.UFAN, table.Authorizer("SP", nfe.OpDistribution))
}
