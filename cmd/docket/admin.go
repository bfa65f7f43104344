package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"docket/internal/app"
	"docket/internal/config"
	"docket/internal/domain"
	"docket/internal/engine"
	"docket/internal/repo"
)

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The audit trail: every transition, reservation, application, verdict and payment.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show recent events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := actor(ctx, e, "event.read"); err != nil {
					return err
				}
				items, err := e.ListEvents(ctx, f)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, ev := range items {
					rows = append(rows, table.Row{ev.ID, ev.TS, ev.Kind, ev.CaseID, ev.ActorID, ev.Description})
				}
				return printTable(items, table.Row{"ID", "TS", "Kind", "Case", "Actor", "Description"}, rows)
			})
		},
	}
	cmd.Flags().IntVarP(&f.Limit, "n", "n", 20, "number of events")
	cmd.Flags().StringVar(&f.CaseID, "case-id", "", "case filter")
	cmd.Flags().StringVar(&f.Kind, "kind", "", "event kind filter")
	cmd.Flags().Int64Var(&f.Before, "before", 0, "only events older than this id")
	return cmd
}

func notificationsCmd() *cobra.Command {
	var recipient, caseID string
	var limit int
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "List delivered notifications",
		Long:  "Defaults to the --actor-id recipient; reading someone else's requires event.read.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				self := viper.GetString("actor-id")
				if recipient == "" {
					recipient = self
				}
				if recipient != self {
					if _, err := actor(ctx, e, "event.read"); err != nil {
						return err
					}
				}
				items, err := e.Repo.ListNotifications(ctx, recipient, caseID, limit)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, n := range items {
					rows = append(rows, table.Row{n.ID, n.CreatedAt, n.Kind, n.CaseID, n.Role})
				}
				return printTable(items, table.Row{"ID", "Created", "Kind", "Case", "Role"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&recipient, "recipient-id", "", "recipient")
	cmd.Flags().StringVar(&caseID, "case-id", "", "case filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of notifications")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect and import config",
		Long:  "Config (stored in the DB) sets calendar hours, panel size, tiers, disbursement policy, webhooks and roles. It is seeded from docket.yml or the defaults on first use.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Config.Validate()
			})
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replace stored config from a YAML or TOML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				cfg, err := app.ImportConfig(ctx, r, filePath)
				if err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to docket.yml or docket.toml")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default docket.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func rbacCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rbac",
		Short: "RBAC management",
	}
	cmd.AddCommand(rbacWhoamiCmd())
	cmd.AddCommand(rbacGrantCmd())
	cmd.AddCommand(rbacRevokeCmd())
	cmd.AddCommand(rbacBootstrapCmd())
	return cmd
}

func rbacWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show current actor roles and permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				id := viper.GetString("actor-id")
				svc := authService(e)
				roles, err := svc.ActorRoles(ctx, id)
				if err != nil && !errors.Is(err, domain.ErrNotFound) {
					return err
				}
				return printJSONOrTable(map[string]any{
					"actor_id":    id,
					"roles":       roles,
					"permissions": e.Config.RolePermissions(roles),
				})
			})
		},
	}
}

func rbacGrantCmd() *cobra.Command {
	var target string
	var roles []string
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant roles to an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := actor(ctx, e, "rbac.manage"); err != nil {
					return err
				}
				return authService(e).Grant(ctx, target, roles...)
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringArrayVar(&roles, "role", []string{}, "role (repeatable)")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func rbacRevokeCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a role from an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := actor(ctx, e, "rbac.manage"); err != nil {
					return err
				}
				return authService(e).Revoke(ctx, target, role)
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func rbacBootstrapCmd() *cobra.Command {
	var target string
	var roles []string
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Grant roles without RBAC checks (first approver, local dev)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return authService(e).Grant(ctx, target, roles...)
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringArrayVar(&roles, "role", []string{}, "role (repeatable)")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys for --actor-id",
	}
	cmd.AddCommand(apiKeyCreateCmd())
	cmd.AddCommand(apiKeyListCmd())
	cmd.AddCommand(apiKeyRevokeCmd())
	return cmd
}

func apiKeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue an API key; the key is shown once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, plain, err := authService(e).IssueAPIKey(ctx, viper.GetString("actor-id"), name)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"id":         key.ID,
					"actor_id":   key.ActorID,
					"name":       key.Name,
					"key":        plain,
					"created_at": key.CreatedAt,
				})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "label for the key")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(keys))
				for _, k := range keys {
					rows = append(rows, table.Row{k.ID, k.Name, k.CreatedAt})
				}
				return printTable(keys, table.Row{"ID", "Name", "Created"}, rows)
			})
		},
	}
}

func apiKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke one of --actor-id's API keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := authService(e).RevokeAPIKey(ctx, viper.GetString("actor-id"), args[0]); err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"id": args[0], "revoked": true})
			})
		},
	}
}
