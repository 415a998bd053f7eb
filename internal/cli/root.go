package cli

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// DefaultAPIURL — адрес API по умолчанию.
const DefaultAPIURL = "http://localhost:8080"

// RootConfig — зависимости корневой команды.
type RootConfig struct {
	Version string

	// Local и Migrate — опционально; без них локальные команды возвращают ошибку.
	Local   LocalFunc
	Migrate func(ctx context.Context) error

	// Stdout и Stderr — по умолчанию os.Stdout и os.Stderr.
	Stdout io.Writer
	Stderr io.Writer
}

// NewRootCmd собирает дерево команд orderpipe.
func NewRootCmd(cfg RootConfig) *cobra.Command {
	var apiURL string
	var jsonOutput bool

	stdout, stderr := cfg.Stdout, cfg.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	rootCmd := &cobra.Command{
		Use:           "orderpipe",
		Short:         "orderpipe CLI — order ETL pipeline tool",
		Version:       cfg.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultURL := DefaultAPIURL
	if v := os.Getenv("ORDERPIPE_API_URL"); v != "" {
		defaultURL = v
	}
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", defaultURL, "API server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *Client { return NewClient(apiURL) }
	outputFn := func() *Output { return NewOutputTo(jsonOutput, stdout, stderr) }

	migrate := cfg.Migrate
	if migrate == nil {
		migrate = func(context.Context) error { return errLocalUnavailable }
	}

	rootCmd.AddCommand(
		NewRunCmd(clientFn, outputFn, cfg.Local),
		NewLogsCmd(clientFn, outputFn),
		NewTargetCmd(clientFn, outputFn),
		NewDBCmd(migrate, outputFn),
	)

	return rootCmd
}
