// Command wayfare is operator tooling for the connection pool: enough
// to issue one request by hand and see which protocol, status, and
// timing it got back. It is not a replacement for using pkg/pool as a
// library.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"wayfare/pkg/config"
	"wayfare/pkg/helper/log"
)

var (
	cfg      *config.PoolConfig
	cfgFile  string
	logLevel string

	rootCmd = &cobra.Command{
		Use:   "wayfare",
		Short: "wayfare issues requests through a pooled HTTP/1.1 and HTTP/2 client",
		Long:  "wayfare schedules requests onto reused connections, opening new ones up to a configured limit and evicting idle connections to make room under load.",
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cfg = config.DefaultPoolConfig()
	cfg.AddFlagsToCommand(rootCmd)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML file overlaying the flags above")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	rootCmd.AddCommand(newRequestCmd())
}

// loadConfig applies any --config overlay on top of the flag-parsed cfg.
func loadConfig() (*config.PoolConfig, error) {
	if cfgFile == "" {
		return cfg, nil
	}
	return config.LoadFromFile(cfg, cfgFile)
}

func newLogger() log.Logger {
	var level log.Level
	switch logLevel {
	case "debug":
		level = log.DebugLevel
	case "warn":
		level = log.WarnLevel
	case "error":
		level = log.ErrorLevel
	default:
		level = log.InfoLevel
	}
	return log.NewBasicLogger(level)
}

// setupSignals returns a context canceled on SIGINT/SIGTERM so a
// request in flight unwinds instead of leaving the process to be killed.
func setupSignals(ctx context.Context, logger log.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sigCh:
			logger.Info("received termination signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
