// nfectl es la herramienta de operación del intercambio con la SEFAZ:
// distribución DF-e, status de serviço, certificados, caché y XSD.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jhoicas/Fiscal-api/internal/bootstrap"
	"github.com/jhoicas/Fiscal-api/pkg/config"
	"github.com/jhoicas/Fiscal-api/pkg/logger"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool
	rootCmd := &cobra.Command{
		Use:           "nfectl",
		Short:         "Operación del intercambio NF-e con la SEFAZ",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "logs en nivel debug")

	env := &cliEnv{verbose: &verbose}
	rootCmd.AddCommand(syncCmd(env))
	rootCmd.AddCommand(statusCmd(env))
	rootCmd.AddCommand(queryCmd(env))
	rootCmd.AddCommand(evictCmd(env))
	rootCmd.AddCommand(certCmd(env))
	rootCmd.AddCommand(xsdCmd(env))
	rootCmd.AddCommand(keyCmd())
	return rootCmd
}

// cliEnv carga configuración y servicios solo cuando un comando los necesita.
type cliEnv struct {
	verbose *bool
	cfg     *config.Config
	log     *logger.Logger
}

func (e *cliEnv) config() (*config.Config, *logger.Logger, error) {
	if e.cfg != nil {
		return e.cfg, e.log, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	level := "warn"
	if *e.verbose {
		level = "debug"
	}
	e.cfg = cfg
	e.log = logger.New(logger.Config{Env: "development", Level: level, Output: os.Stderr})
	return e.cfg, e.log, nil
}

func (e *cliEnv) services(ctx context.Context) (*bootstrap.Services, error) {
	cfg, log, err := e.config()
	if err != nil {
		return nil, err
	}
	return bootstrap.Build(ctx, cfg, log)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
