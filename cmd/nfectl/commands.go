package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jhoicas/Fiscal-api/internal/infrastructure/schema"
	"github.com/jhoicas/Fiscal-api/pkg/metrics"
	"github.com/jhoicas/Fiscal-api/pkg/nfe"
)

// ── Distribución y consultas ─────────────────────────────────────────────────

func syncCmd(env *cliEnv) *cobra.Command {
	var taxID, ambiente string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Descarga la distribución DF-e desde el último NSU guardado",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := env.services(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			if taxID == "" {
				taxID = svc.Config.Sefaz.TaxID
			}
			e := svc.Config.Sefaz.Environment
			if ambiente != "" {
				if e, err = nfe.ParseEnvironment(ambiente); err != nil {
					return err
				}
			}
			sum, err := svc.Sync.Run(cmd.Context(), taxID, e)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), sum)
		},
	}
	cmd.Flags().StringVar(&taxID, "cnpj", "", "CNPJ/CPF interessado (por defecto SEFAZ_CNPJ)")
	cmd.Flags().StringVar(&ambiente, "ambiente", "", "1|2|producao|homologacao (por defecto SEFAZ_AMBIENTE)")
	return cmd
}

func statusCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "status [UF...]",
		Short: "Consulta NFeStatusServico4 en las UF indicadas o configuradas",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := env.services(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()
			for i := range args {
				args[i] = strings.ToUpper(args[i])
			}
			return printJSON(cmd.OutOrStdout(), svc.Orchestrator.ServiceStatus(cmd.Context(), args))
		},
	}
}

func queryCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "consulta <chave>",
		Short: "Consulta la situación de una NF-e (consSitNFe)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := env.services(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()
			return printJSON(cmd.OutOrStdout(), svc.Orchestrator.Query(cmd.Context(), args[0]))
		},
	}
}

// ── Mantenimiento ────────────────────────────────────────────────────────────

func evictCmd(env *cliEnv) *cobra.Command {
	var days, sizeMB int
	cmd := &cobra.Command{
		Use:   "evict",
		Short: "Limpia la caché de XML por edad y tamaño",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := env.services(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()
			if !cmd.Flags().Changed("dias") {
				days = svc.Config.Storage.CacheMaxAgeDays
			}
			if !cmd.Flags().Changed("mb") {
				sizeMB = svc.Config.Storage.CacheMaxSizeMB
			}
			rep, err := svc.Cache.Evict(days, sizeMB)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rep)
		},
	}
	cmd.Flags().IntVar(&days, "dias", 0, "edad máxima en días (0 desactiva)")
	cmd.Flags().IntVar(&sizeMB, "mb", 0, "tamaño máximo total en MB (0 desactiva)")
	return cmd
}

func certCmd(env *cliEnv) *cobra.Command {
	cmd := &cobra.Command{Use: "cert", Short: "Certificados A1 cifrados en reposo"}

	var owner, password string
	load := &cobra.Command{
		Use:   "load <archivo.pfx>",
		Short: "Valida y guarda un certificado .pfx/.p12",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := env.services(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()
			pfx, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if owner == "" {
				owner = svc.Config.Sefaz.CertOwner
			}
			cert, err := svc.Certificates.Save(cmd.Context(), owner, pfx, password)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), cert.Info(svc.Certificates.Now()))
		},
	}
	load.Flags().StringVar(&owner, "owner", "", "id del titular (por defecto CERT_OWNER)")
	load.Flags().StringVar(&password, "senha", "", "senha del .pfx")

	list := &cobra.Command{
		Use:   "list",
		Short: "Lista los certificados guardados",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := env.services(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()
			infos, err := svc.Certificates.List(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), infos)
		},
	}

	var days int
	expiring := &cobra.Command{
		Use:   "vencendo",
		Short: "Lista los certificados que vencen en N días (vencidos incluidos)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := env.services(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()
			infos, err := svc.Certificates.ExpiringSoon(cmd.Context(), days)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), infos)
		},
	}
	expiring.Flags().IntVar(&days, "dias", 30, "ventana en días")

	cmd.AddCommand(load, list, expiring)
	return cmd
}

func xsdCmd(env *cliEnv) *cobra.Command {
	var dir string
	cmd := &cobra.Command{Use: "xsd", Short: "Integridad de los esquemas XSD"}
	cmd.PersistentFlags().StringVar(&dir, "dir", "", "directorio de XSD (por defecto XSD_DIR)")

	validator := func() (*schema.Validator, error) {
		if dir == "" {
			cfg, _, err := env.config()
			if err != nil {
				return nil, err
			}
			dir = cfg.Schema.XSDDir
		}
		return schema.New(dir, metrics.New(), zerolog.Nop()), nil
	}

	verify := &cobra.Command{
		Use:   "verify",
		Short: "Compara el SHA-256 de cada XSD con checksums.json",
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := validator()
			if err != nil {
				return err
			}
			sts, err := v.VerifyChecksums()
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), sts); err != nil {
				return err
			}
			for _, st := range sts {
				if st.Expected != "" && !st.OK {
					return fmt.Errorf("checksum divergente en %s/%s", st.Environment, st.File)
				}
			}
			return nil
		},
	}
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Recalcula checksums.json",
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := validator()
			if err != nil {
				return err
			}
			sums, err := v.GenerateChecksums()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), sums)
		},
	}
	cmd.AddCommand(verify, generate)
	return cmd
}

// ── Chave de acesso ──────────────────────────────────────────────────────────

func keyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chave <chave>",
		Short: "Verifica el dígito y descompone una chave de acesso",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := nfe.Decode(nfe.OnlyDigits(args[0]))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), fields)
		},
	}
}
