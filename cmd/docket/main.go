package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"docket/internal/app"
	"docket/internal/db"
	"docket/internal/domain"
	"docket/internal/engine"
	"docket/internal/engine/auth"
	"docket/internal/notify"
	"docket/internal/repo"
)

var rootCmd = &cobra.Command{
	Use:   "docket",
	Short: "Docket CLI",
	Long: `Docket schedules trial cases, seats their panels, collects verdicts and pays the panel.
Core concepts:
- Workspace: a directory holding docket.db; configuration lives in the database and is imported explicitly.
- Case: filed by a submitter for a calendar slot; moves awaiting_approval -> open_for_applications -> ready_for_execution -> in_execution -> awaiting_results -> completed; a rejected or withdrawn case ends cancelled.
- Slot: one calendar bucket. A case holds its slot from approval on; blocked buckets take no cases.
- Panel: panelists apply, approvers seat them; the last seat moves the case to ready_for_execution.
- Verdicts: every seated panelist submits one; the last one completes the case and triggers the payout.
- Disbursement: the case's funding is split evenly across the panel; retrying only touches failed payments.
- Event log: audit trail of every change, view with 'docket log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("DOCKET")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text or json)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	for _, name := range []string{"workspace", "json", "actor-id", "log-format", "log-level"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(caseCmd())
	rootCmd.AddCommand(slotCmd())
	rootCmd.AddCommand(panelCmd())
	rootCmd.AddCommand(verdictCmd())
	rootCmd.AddCommand(fundingCmd())
	rootCmd.AddCommand(payoutCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(notificationsCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(rbacCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if viper.GetString("log-format") == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// openEngine opens the workspace and builds an engine over it. The caller
// closes the returned function.
func openEngine(ctx context.Context) (engine.Engine, func(), error) {
	conn, cfg, err := app.Open(ctx, viper.GetString("workspace"))
	if err != nil {
		return engine.Engine{}, nil, err
	}
	logger := newLogger()
	e := engine.New(conn, cfg)
	e.Logger = logger
	e.Sink = notify.FromConfig(cfg, e.Repo, logger)
	return e, func() { conn.Close() }, nil
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	e, closeFn, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		return fn(ctx, e.Repo)
	})
}

func authService(e engine.Engine) auth.Service {
	return auth.Service{Repo: e.Repo, Config: e.Config}
}

// actor resolves the --actor-id caller in a role that grants perm.
func actor(ctx context.Context, e engine.Engine, perm string) (domain.Actor, error) {
	return authService(e).Actor(ctx, viper.GetString("actor-id"), perm)
}

func parseSlot(s string) (domain.Slot, error) {
	s = strings.TrimSpace(s)
	date, clock, ok := strings.Cut(s, "T")
	if !ok {
		date, clock, ok = strings.Cut(s, " ")
	}
	if !ok {
		return domain.Slot{}, fmt.Errorf("slot %q: want YYYY-MM-DDTHH:MM", s)
	}
	return domain.NewSlot(date, clock)
}

func parseSlots(items []string) ([]domain.Slot, error) {
	out := make([]domain.Slot, 0, len(items))
	for _, it := range items {
		s, err := parseSlot(it)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func payloadFlag(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	if !json.Valid([]byte(raw)) {
		return "", fmt.Errorf("payload is not valid JSON")
	}
	return raw, nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printTable renders rows unless --json is set, in which case v is printed.
func printTable(v any, header table.Row, rows []table.Row) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	tw.AppendRows(rows)
	tw.Render()
	return nil
}
