package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/shineum/mailmerge-lite/internal/bullet"
	"github.com/shineum/mailmerge-lite/internal/campaign"
	"github.com/shineum/mailmerge-lite/internal/config"
	"github.com/shineum/mailmerge-lite/internal/dispatch"
	"github.com/shineum/mailmerge-lite/internal/draft"
	"github.com/shineum/mailmerge-lite/internal/journal"
	"github.com/shineum/mailmerge-lite/internal/markup"
	"github.com/shineum/mailmerge-lite/internal/merge"
	"github.com/shineum/mailmerge-lite/internal/provider/stdout"
)

func catalogCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog <draft>",
		Short: "List the placeholders of a draft (.md, .html or .eml)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := draft.Load(args[0])
			if err != nil {
				return err
			}
			t, err := d.Template()
			if err != nil {
				return err
			}
			fallback, err := bullet.Lookup(a.cfg.Dispatch.Bullet)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Subject: %s\n", t.Subject)
			if len(t.Attachments) > 0 {
				fmt.Fprintf(out, "Attachments: %d\n", len(t.Attachments))
			}
			fmt.Fprintln(out)

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PLACEHOLDER\tKIND\tBULLET")
			for _, p := range t.Placeholders {
				style := "-"
				if p.IsList() {
					style = t.Bullet(p, fallback).Name()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", p.String(), p.Kind(), style)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			for _, tag := range t.Unresolved() {
				fmt.Fprintf(out, "warning: %s is not a valid placeholder\n", tag)
			}
			return nil
		},
	}
}

func previewCmd(a *app) *cobra.Command {
	var (
		campaignPath string
		showHTML     bool
	)

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Print one merged message per group without sending",
		RunE: func(cmd *cobra.Command, _ []string) error {
			run, err := prepare(a.cfg, campaignPath)
			if err != nil {
				return err
			}

			d := dispatch.New(dispatch.Config{
				Provider:        stdout.NewWithWriter(cmd.OutOrStdout()).ShowHTML(showHTML),
				Logger:          slog.Default(),
				Concurrency:     1,
				MessageIDDomain: a.cfg.Dispatch.MessageIDDomain,
			})
			report, err := d.Dispatch(cmd.Context(), run.template, run.groups, run.options)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d entries merged into %d messages\n", run.entries, report.Sent)
			return nil
		},
	}

	cmd.Flags().StringVarP(&campaignPath, "campaign", "c", "", "campaign YAML file")
	cmd.Flags().BoolVar(&showHTML, "html", false, "print the HTML body instead of the text alternative")
	_ = cmd.MarkFlagRequired("campaign")
	return cmd
}

func sendCmd(a *app) *cobra.Command {
	var (
		campaignPath string
		dryRun       bool
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Merge a campaign and deliver one message per group",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			run, err := prepare(a.cfg, campaignPath)
			if err != nil {
				return err
			}
			run.options.DryRun = dryRun

			cfg := dispatch.Config{
				Logger:          slog.Default(),
				Concurrency:     a.cfg.Dispatch.Concurrency,
				MessageIDDomain: a.cfg.Dispatch.MessageIDDomain,
			}
			if !dryRun {
				p, err := selectProvider(ctx, a.cfg, cmd.OutOrStdout())
				if err != nil {
					return err
				}
				cfg.Provider = p
			}

			j, err := openJournal(ctx, a.cfg.Journal)
			if err != nil {
				return err
			}
			if j != nil {
				defer j.Close()
				cfg.Journal = j
			}

			report, err := dispatch.New(cfg).Dispatch(ctx, run.template, run.groups, run.options)
			if report != nil {
				printReport(cmd.OutOrStdout(), report)
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&campaignPath, "campaign", "c", "", "campaign YAML file")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "merge and journal without contacting the provider")
	_ = cmd.MarkFlagRequired("campaign")
	return cmd
}

func historyCmd(a *app) *cobra.Command {
	var (
		limit int
		runID string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List journaled runs, or the deliveries of one run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if a.cfg.Journal.Disabled {
				return errors.New("journal is disabled")
			}
			j, err := openJournal(ctx, a.cfg.Journal)
			if err != nil {
				return err
			}
			defer j.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)

			if runID != "" {
				deliveries, err := j.Deliveries(ctx, runID)
				if err != nil {
					return err
				}
				fmt.Fprintln(w, "GROUP\tSTATUS\tMESSAGE-ID\tRECIPIENTS\tERROR")
				for _, d := range deliveries {
					addrs := make([]string, len(d.Recipients))
					for i, r := range d.Recipients {
						addrs[i] = r.Role + ":" + r.Address
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", d.Fingerprint, d.Status, d.MessageID, strings.Join(addrs, ","), d.Error)
				}
				return w.Flush()
			}

			runs, err := j.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(w, "RUN\tCAMPAIGN\tPROVIDER\tGROUPS\tSENT\tFAILED\tSTARTED\tDURATION")
			for _, r := range runs {
				duration := "running"
				if r.Finished() {
					duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
				}
				provider := r.Provider
				if r.DryRun {
					provider += " (dry-run)"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
					r.ID, r.Campaign, provider, r.Groups, r.Sent, r.Failed,
					r.StartedAt.Format(time.RFC3339), duration)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")
	cmd.Flags().StringVar(&runID, "run", "", "show the deliveries of this run")
	return cmd
}

// styleCmd exposes the markup/style table used by rich-text editors.
func styleCmd() *cobra.Command {
	var (
		tag   string
		style string
	)

	cmd := &cobra.Command{
		Use:   "style",
		Short: "Translate between an opening markup tag and a style declaration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			switch {
			case tag != "":
				e, token, ok := markup.StyleForMarkup(tag)
				if !ok {
					return fmt.Errorf("no markup element opens with %q", tag)
				}
				fmt.Fprintf(out, "%s\t%s\n", e.Name(), token)
			case style != "":
				open, closing := markup.MarkupForStyle(style)
				fmt.Fprintf(out, "%s\t%s\n", open, closing)
			default:
				for _, e := range markup.Catalog() {
					fmt.Fprintf(out, "%s\t%s\n", e.Name(), e.Kind())
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&tag, "markup", "", "opening tag to translate, e.g. '<b>'")
	cmd.Flags().StringVar(&style, "style", "", "style declarations to translate")
	cmd.MarkFlagsMutuallyExclusive("markup", "style")
	return cmd
}

// prepared is a merged campaign ready for dispatch.
type prepared struct {
	template *merge.Template
	groups   []merge.Group
	entries  int
	options  dispatch.Options
}

// prepare loads a campaign, merges its recipients and resolves the sender,
// campaign settings first and configuration second.
func prepare(cfg *config.Config, path string) (*prepared, error) {
	c, err := campaign.Load(path)
	if err != nil {
		return nil, err
	}
	t, entries, err := c.Build()
	if err != nil {
		return nil, err
	}

	style, err := c.DefaultBullet()
	if err != nil {
		return nil, err
	}
	if style == nil {
		if style, err = bullet.Lookup(cfg.Dispatch.Bullet); err != nil {
			return nil, err
		}
	}

	groups, err := merge.New(merge.Config{DefaultBullet: style, Logger: slog.Default()}).Merge(t, entries)
	if err != nil {
		return nil, err
	}

	name := c.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	return &prepared{
		template: t,
		groups:   groups,
		entries:  len(entries),
		options: dispatch.Options{
			Campaign: name,
			From:     firstNonEmpty(t.From, cfg.Sender.From),
			ReplyTo:  firstNonEmpty(c.ReplyTo, cfg.Sender.ReplyTo),
			Headers:  c.Headers,
		},
	}, nil
}

// openJournal opens and migrates the journal, or returns nil when disabled.
func openJournal(ctx context.Context, cfg config.JournalConfig) (*journal.Journal, error) {
	if cfg.Disabled {
		return nil, nil
	}
	j, err := journal.Open(ctx, cfg.Path)
	if err != nil {
		return nil, err
	}
	if err := j.EnsureSchema(ctx); err != nil {
		j.Close()
		return nil, err
	}
	return j, nil
}

func printReport(w io.Writer, r *dispatch.Report) {
	fmt.Fprintf(w, "run %s: %d sent, %d failed, %d skipped\n", r.RunID, r.Sent, r.Failed, r.Skipped)
	for _, res := range r.Results {
		if res.Err != nil {
			fmt.Fprintf(w, "  group %s (%s): %v\n", res.Fingerprint, strings.Join(res.Recipients, ", "), res.Err)
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
