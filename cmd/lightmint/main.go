package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/trang393934/angelaithutrang-sub004/pkg/config"
)

const programName = "lightmint"

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

var globalFlags = struct {
	debug bool
}{}

type configKey struct{}

func configFrom(ctx context.Context) *config.Config {
	c, _ := ctx.Value(configKey{}).(*config.Config)
	return c
}

func slogPrintf(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), "component", programName)
}

// commonRun installs the JSON logger and sizes GOMAXPROCS.
func commonRun(cfg *config.Config) *slog.Logger {
	level := cfg.Level()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: level == slog.LevelDebug,
		Level:     level,
	}))
	slog.SetDefault(logger)
	if _, err := maxprocs.Set(maxprocs.Logger(slogPrintf)); err != nil {
		logger.Error("set GOMAXPROCS", "error", err)
	}
	return logger
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           programName,
		Short:         "Light-action verification and mint authorization engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if globalFlags.debug {
				cfg.Debug = true
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKey{}, cfg))
			return nil
		},
	}
	root.PersistentFlags().BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")

	root.AddCommand(serveCommand())
	root.AddCommand(policyCommand())
	root.AddCommand(auditCommand())
	root.AddCommand(ledgerCommand())
	root.AddCommand(keygenCommand())
	root.AddCommand(versionCommand())
	return root
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
