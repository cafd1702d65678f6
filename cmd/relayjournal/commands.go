package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/relayjournal/internal/config"
	"github.com/agentworkforce/relayjournal/internal/journalsync"
	"github.com/agentworkforce/relayjournal/internal/ledger"
	"github.com/agentworkforce/relayjournal/internal/nostr"
)

// rootOptions holds the persistent flags.
type rootOptions struct {
	ConfigPath string
	Format     string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "relayjournal",
		Short: "Mirror your Nostr posts into daily notes",
		Long:  "relayjournal polls Nostr relays for one author's text notes and appends them to per-day Markdown notes in a vault directory.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.Format != "text" && opts.Format != "json" {
				return fmt.Errorf("invalid format %q: must be text or json", opts.Format)
			}
			return nil
		},
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", strings.TrimSpace(os.Getenv("RELAYJOURNAL_CONFIG")), "config file (TOML)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newResolveCommand(opts))
	cmd.AddCommand(newVersionCommand())
	return cmd
}

// loadConfig reads the config and sets up logging. The returned closer
// flushes the rotated log file.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (config.Config, *log.Logger, io.Closer, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	logger, closer := newLogger(cfg.Log, cmd.ErrOrStderr())
	return cfg, logger, closer, nil
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Sync on a schedule until interrupted",
		Long: `Run one sync immediately, then again every interval_minutes (with jitter)
until SIGINT or SIGTERM. Serves the control API when control.listen is set
and reloads the config file when it changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closer, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			defer closer.Close()

			a, err := openApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			logger.Printf("syncing into %s every %s", a.vault.Root(), cfg.Interval())
			return a.serve(ctx, opts.ConfigPath)
		},
	}
}

func newSyncCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run a single sync cycle",
		Long: `Run exactly one sync cycle and exit.

Exit codes:
  0 - Cycle completed (possibly with nothing new)
  1 - Configuration, fetch, merge or ledger error`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closer, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			defer closer.Close()

			a, err := openApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, cycleTimeout)
			defer cancel()

			result, syncErr := a.syncer.RunSyncCycle(ctx)
			if err := printSyncResult(cmd.OutOrStdout(), opts.Format, a.syncer.Merger(), result); err != nil {
				return err
			}
			return syncErr
		},
	}
}

func printSyncResult(w io.Writer, format string, merger *journalsync.Merger, result journalsync.Result) error {
	if format == "json" {
		return writeJSON(w, result)
	}
	fmt.Fprintf(w, "fetched %d, synced %d\n", result.Fetched, result.Synced)
	for _, date := range result.Dates {
		fmt.Fprintf(w, "  %s\n", merger.NotePath(date))
	}
	for _, date := range result.Failed {
		fmt.Fprintf(w, "  %s (failed)\n", merger.NotePath(date))
	}
	return nil
}

type statusOutput struct {
	LedgerDSN     string `json:"ledgerDsn"`
	LedgerSize    int    `json:"ledgerSize"`
	LastSync      int64  `json:"lastSyncTimestamp"`
	LastSyncHuman string `json:"lastSync,omitempty"`
	Warning       string `json:"warning,omitempty"`
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the sync cursor and ledger size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, closer, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			defer closer.Close()

			backend, err := ledger.BuildBackendFromDSN(cfg.LedgerDSN)
			if err != nil {
				return err
			}
			if c, ok := backend.(io.Closer); ok {
				defer c.Close()
			}
			snapshot, err := backend.Load()
			out := statusOutput{LedgerDSN: cfg.LedgerDSN}
			switch {
			case err != nil && snapshot != nil && errors.Is(err, ledger.ErrCursorUnreadable):
				out.Warning = err.Error()
				snapshot.LastSyncTimestamp = 0
			case err != nil:
				return fmt.Errorf("failed to read ledger: %w", err)
			}
			if snapshot != nil {
				out.LedgerSize = len(snapshot.EventIDs)
				out.LastSync = snapshot.LastSyncTimestamp
			}
			if out.LastSync > 0 {
				out.LastSyncHuman = time.Unix(out.LastSync, 0).UTC().Format(time.RFC3339)
			}

			w := cmd.OutOrStdout()
			if opts.Format == "json" {
				return writeJSON(w, out)
			}
			fmt.Fprintf(w, "ledger:     %s\n", out.LedgerDSN)
			fmt.Fprintf(w, "events:     %d\n", out.LedgerSize)
			if out.LastSyncHuman == "" {
				fmt.Fprintln(w, "last sync:  never")
			} else {
				fmt.Fprintf(w, "last sync:  %s\n", out.LastSyncHuman)
			}
			if out.Warning != "" {
				fmt.Fprintf(w, "warning:    %s\n", out.Warning)
			}
			return nil
		},
	}
}

type resolveOutput struct {
	PubKey string   `json:"pubkey"`
	Npub   string   `json:"npub"`
	Relays []string `json:"relays,omitempty"`
}

func newResolveCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <identifier>",
		Short: "Decode an npub, nprofile or hex key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			identity, err := nostr.ResolveIdentifier(args[0])
			if err != nil {
				return err
			}
			npub, err := nostr.EncodePublicKey(identity.PubKey)
			if err != nil {
				return err
			}
			out := resolveOutput{PubKey: identity.PubKey, Npub: npub, Relays: identity.Relays}

			w := cmd.OutOrStdout()
			if opts.Format == "json" {
				return writeJSON(w, out)
			}
			fmt.Fprintf(w, "pubkey: %s\n", out.PubKey)
			fmt.Fprintf(w, "npub:   %s\n", out.Npub)
			for _, relay := range out.Relays {
				fmt.Fprintf(w, "relay:  %s\n", relay)
			}
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "relayjournal %s (commit: %s, built: %s)\n", Version, Commit, BuildDate)
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
