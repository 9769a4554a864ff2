// Package main is the entry point for the support agent: an HTTP server
// plus a few operator commands that share the same wiring.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/boddenberg/support-agent-go/internal/handler"
	"github.com/boddenberg/support-agent-go/internal/infra/kv"
)

// Version information (set at build time)
var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "agent",
		Short:         "Conversational support agent",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var flags overrides
	rootCmd.PersistentFlags().StringVar(&flags.profile, "profile", "", "agent profile YAML (overrides AGENT_PROFILE)")
	rootCmd.PersistentFlags().IntVar(&flags.port, "port", 0, "HTTP port (overrides PORT)")

	rootCmd.AddCommand(serveCmd(&flags), ingestCmd(&flags), askCmd(&flags), cleanupCmd(&flags))

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// serve command - run the HTTP API until SIGINT/SIGTERM
func serveCmd(flags *overrides) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, *flags)
			if err != nil {
				return err
			}
			defer a.Close()
			logger := a.logger

			// --- Router ---
			router := handler.NewRouter(a.agent, a.metrics, logger,
				handler.WithRequestTimeout(a.cfg.RequestTimeout),
			)

			// --- Server ---
			srv := &http.Server{
				Addr:         fmt.Sprintf(":%d", a.cfg.Port),
				Handler:      router,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: a.cfg.RequestTimeout + 5*time.Second,
				IdleTimeout:  60 * time.Second,
			}

			// --- Graceful shutdown ---
			errCh := make(chan error, 1)
			go func() {
				logger.Info("server starting", zap.Int("port", a.cfg.Port))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info("server shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server forced shutdown: %w", err)
			}

			logger.Info("server stopped")
			return nil
		},
	}
}

// ingest command - add files to the knowledge base
func ingestCmd(flags *overrides) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <files...>",
		Short: "Add documents to the agent's knowledge base",
		Long:  "Chunk, embed and store each file. The file name without extension becomes the document title.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *flags)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			for _, path := range args {
				raw, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
				title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

				result, err := a.agent.IngestDocument(ctx, title, string(raw))
				if err != nil {
					return fmt.Errorf("ingest %s: %w", path, err)
				}
				fmt.Fprintf(out, "%s\t%s\t%d chunks\n", path, result.DocumentID, result.Chunks)
			}

			count, err := a.agent.DocumentCount(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "knowledge base now holds %d documents\n", count)
			return nil
		},
	}
}

// ask command - run a single conversation turn
func askCmd(flags *overrides) *cobra.Command {
	var sessionID string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Send one message to the agent and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *flags)
			if err != nil {
				return err
			}
			defer a.Close()

			resp := a.agent.ProcessMessage(ctx, strings.Join(args, " "), sessionID)

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, resp.Content)
			for _, s := range resp.Metadata.Sources {
				fmt.Fprintf(out, "  source: %s (%s)\n", s.Title, s.ID)
			}
			if verbose {
				fmt.Fprintf(out, "\nsession=%s handler=%s intent=%s quality=%d\n",
					resp.Metadata.SessionID,
					resp.Metadata.HandlerName,
					resp.Metadata.EffectiveIntent,
					resp.Metadata.QualityScore,
				)
			}
			if resp.Metadata.Error != "" {
				return fmt.Errorf("turn failed: %s", resp.Metadata.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "continue an existing session")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print turn metadata")
	return cmd
}

// cleanup command - drop old long-term memory and expired KV rows
func cleanupCmd(flags *overrides) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove long-term memory older than --days and expired cache entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *flags)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			removed, err := a.agent.CleanupMemory(ctx, days)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "removed %d memory entries older than %d days\n", removed, days)

			if store, ok := a.kv.(*kv.SQLite); ok {
				purged, err := store.Purge(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "purged %d expired kv entries\n", purged)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "keep memory newer than this many days")
	return cmd
}
