// Package main is the entry point for the mail-merge CLI.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/emersion/go-message/mail"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/shineum/mailmerge-lite/internal/config"
	"github.com/shineum/mailmerge-lite/internal/provider"
	"github.com/shineum/mailmerge-lite/internal/provider/graph"
	"github.com/shineum/mailmerge-lite/internal/provider/relay"
	"github.com/shineum/mailmerge-lite/internal/provider/resend"
	"github.com/shineum/mailmerge-lite/internal/provider/ses"
	"github.com/shineum/mailmerge-lite/internal/provider/stdout"
)

func main() {
	// A missing .env file is not an error.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// app carries the configuration resolved before any subcommand runs.
type app struct {
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:          "mailmerge",
		Short:        "Merge one template into personalized emails and send them",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(a.configPath)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			setupLogger(cfg.Logging.Level, cmd.ErrOrStderr())
			a.cfg = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "path to YAML configuration file (optional)")

	cmd.AddCommand(
		catalogCmd(a),
		previewCmd(a),
		sendCmd(a),
		historyCmd(a),
		styleCmd(),
	)
	return cmd
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// parseLevel maps a configured level name to a slog level, defaulting to info.
func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level. Logs go to w so command output on stdout stays clean.
func setupLogger(level string, w io.Writer) {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	slog.SetDefault(slog.New(handler))
}

// selectProvider builds the delivery backend named by the configuration.
// When no provider is named, the first configured transport is used and
// stdout is the fallback.
func selectProvider(ctx context.Context, cfg *config.Config, out io.Writer) (provider.Provider, error) {
	name := cfg.ResolvedProvider()

	switch name {
	case config.ProviderSMTP:
		if !cfg.SMTPConfigured() {
			return nil, fmt.Errorf("smtp provider selected but SMTP_HOST and SENDER_FROM are required")
		}
		slog.Info("using SMTP relay provider",
			"host", cfg.SMTP.Host,
			"port", cfg.SMTP.Port,
			"security", cfg.SMTP.Security,
		)
		p, err := relay.New(relay.Config{
			Host:               cfg.SMTP.Host,
			Port:               cfg.SMTP.Port,
			Security:           cfg.SMTP.Security,
			Auth:               cfg.SMTP.Auth,
			Username:           cfg.SMTP.Username,
			Password:           cfg.SMTP.Password,
			Sender:             cfg.Sender.From,
			HeloName:           cfg.SMTP.HeloName,
			Timeout:            cfg.SMTP.Timeout,
			InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
		}, slog.Default())
		if err != nil {
			return nil, fmt.Errorf("failed to create SMTP relay provider: %w", err)
		}
		return p, nil

	case config.ProviderSES:
		if !cfg.SESConfigured() {
			return nil, fmt.Errorf("ses provider selected but SES_REGION and SENDER_FROM are required")
		}
		slog.Info("using AWS SES provider",
			"region", cfg.SES.Region,
			"sender", cfg.Sender.From,
		)
		p, err := ses.New(ctx, ses.SESProviderConfig{
			Region:           cfg.SES.Region,
			AccessKeyID:      cfg.SES.AccessKeyID,
			SecretAccessKey:  cfg.SES.SecretAccessKey,
			Sender:           cfg.Sender.From,
			ConfigurationSet: cfg.SES.ConfigurationSet,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SES provider: %w", err)
		}
		return p, nil

	case config.ProviderResend:
		if !cfg.ResendConfigured() {
			return nil, fmt.Errorf("resend provider selected but RESEND_API_KEY and SENDER_FROM are required")
		}
		sender, err := mail.ParseAddress(cfg.Sender.From)
		if err != nil {
			return nil, fmt.Errorf("invalid sender %q: %w", cfg.Sender.From, err)
		}
		slog.Info("using Resend provider", "sender", sender.Address)
		return resend.New(resend.Config{
			APIKey:      cfg.Resend.APIKey,
			SenderEmail: sender.Address,
			SenderName:  sender.Name,
			Tags:        cfg.Resend.Tags,
		}), nil

	case config.ProviderGraph:
		if !cfg.GraphConfigured() {
			return nil, fmt.Errorf("graph provider selected but GRAPH_TENANT_ID, GRAPH_CLIENT_ID, GRAPH_CLIENT_SECRET and SENDER_FROM are required")
		}
		sender, err := mail.ParseAddress(cfg.Sender.From)
		if err != nil {
			return nil, fmt.Errorf("invalid sender %q: %w", cfg.Sender.From, err)
		}
		slog.Info("using Microsoft Graph provider",
			"tenant_id", cfg.Graph.TenantID,
			"sender", sender.Address,
		)
		return graph.New(graph.Config{
			TenantID:        cfg.Graph.TenantID,
			ClientID:        cfg.Graph.ClientID,
			ClientSecret:    cfg.Graph.ClientSecret,
			Sender:          sender.Address,
			SaveToSentItems: cfg.Graph.SaveToSentItems,
		}), nil

	case config.ProviderStdout:
		slog.Info("using stdout provider")
		return stdout.NewWithWriter(out), nil

	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownProvider, name)
	}
}
