package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"docket/internal/domain"
	"docket/internal/engine"
	"docket/internal/repo"
)

func caseCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "case",
		Short: "Manage cases",
		Long:  "Cases are filed for a slot, decided by an approver, staffed with a panel, run, and completed once every verdict is in.",
	}
	c.AddCommand(caseCreateCmd())
	c.AddCommand(caseListCmd())
	c.AddCommand(caseShowCmd())
	c.AddCommand(caseDecideCmd())
	c.AddCommand(caseReviewCmd())
	c.AddCommand(caseRequestSlotCmd())
	c.AddCommand(caseSuggestCmd())
	c.AddCommand(caseStepCmd("begin", "Start the proceeding", engine.Engine.Begin))
	c.AddCommand(caseStepCmd("conclude", "End the proceeding and wait for verdicts", engine.Engine.Conclude))
	c.AddCommand(caseCancelCmd())
	return c
}

func caseCreateCmd() *cobra.Command {
	var opts engine.CreateCaseOptions
	var slot string
	var preferred []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "File a case",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := parseSlot(slot)
			if err != nil {
				return err
			}
			prefs, err := parseSlots(preferred)
			if err != nil {
				return err
			}
			opts.Slot = s
			opts.PreferredSlots = prefs
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := actor(ctx, e, "case.create")
				if err != nil {
					return err
				}
				opts.SubmitterID = a.ID
				c, err := e.CreateCase(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "case id (generated if omitted)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Details, "details", "", "details")
	cmd.Flags().StringVar(&opts.Tier, "tier", "", "tier (defaults to standard)")
	cmd.Flags().StringVar(&slot, "slot", "", "requested slot, e.g. 2025-03-10T09:00")
	cmd.Flags().StringArrayVar(&preferred, "prefer", []string{}, "preferred fallback slot (repeatable)")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("slot")
	return cmd
}

func caseListCmd() *cobra.Command {
	var f repo.CaseFilters
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cases",
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != "" {
				f.Status = domain.CaseStatus(status)
				if !f.Status.Valid() {
					return fmt.Errorf("unknown status %q", status)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := actor(ctx, e, "case.read"); err != nil {
					return err
				}
				cases, err := e.ListCases(ctx, f)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(cases))
				for _, c := range cases {
					rows = append(rows, table.Row{c.ID, c.Title, c.Status, c.Slot.String(), c.SubmitterID, c.Tier})
				}
				return printTable(cases, table.Row{"ID", "Title", "Status", "Slot", "Submitter", "Tier"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.SubmitterID, "submitter-id", "", "submitter filter")
	cmd.Flags().StringVar(&f.PanelistID, "panelist-id", "", "cases the panelist applied to")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum number of cases")
	return cmd
}

func caseShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := actor(ctx, e, "case.read"); err != nil {
					return err
				}
				c, err := e.Case(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
}

type decisionFlags struct {
	decision   string
	reason     string
	comment    string
	alternates []string
}

func (f *decisionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.decision, "decision", "", "approve, reject or reschedule")
	cmd.Flags().StringVar(&f.reason, "reason", "", "rejection reason")
	cmd.Flags().StringVar(&f.comment, "comment", "", "comment for the submitter")
	cmd.Flags().StringArrayVar(&f.alternates, "alternate", []string{}, "alternate slot offered with reschedule (repeatable)")
	_ = cmd.MarkFlagRequired("decision")
}

func (f *decisionFlags) parse() (domain.Decision, error) {
	alts, err := parseSlots(f.alternates)
	if err != nil {
		return nil, err
	}
	return domain.ParseDecision(f.decision, f.reason, f.comment, alts)
}

func caseDecideCmd() *cobra.Command {
	var flags decisionFlags
	cmd := &cobra.Command{
		Use:   "decide <id>",
		Short: "Approve, reject or ask to reschedule a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := flags.parse()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := actor(ctx, e, "case.decide")
				if err != nil {
					return err
				}
				res, err := e.Decide(ctx, args[0], a, d)
				if err != nil {
					if alts := res.Alternates; len(alts) > 0 && !viper.GetBool("json") {
						fmt.Println("slot is taken; alternates:")
						for _, s := range alts {
							fmt.Println("  " + s.String())
						}
					}
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func caseReviewCmd() *cobra.Command {
	var flags decisionFlags
	var ids []string
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Apply one decision to several cases",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := flags.parse()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := actor(ctx, e, "case.decide")
				if err != nil {
					return err
				}
				report := e.BulkReview(ctx, ids, a, d)
				return printBulk(report)
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().StringArrayVar(&ids, "id", []string{}, "case id (repeatable)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func printBulk(report engine.BulkReport) error {
	rows := make([]table.Row, 0, len(report.Items))
	for _, it := range report.Items {
		detail := it.Message
		if detail == "" {
			detail = it.Outcome
		}
		rows = append(rows, table.Row{it.ID, it.Result, it.Status, it.Code, detail})
	}
	if err := printTable(report, table.Row{"ID", "Result", "Status", "Code", "Detail"}, rows); err != nil {
		return err
	}
	if !viper.GetBool("json") {
		fmt.Printf("processed=%d skipped=%d errored=%d\n", report.Processed, report.Skipped, report.Errored)
	}
	return nil
}

func caseRequestSlotCmd() *cobra.Command {
	var slot string
	cmd := &cobra.Command{
		Use:   "request-slot <id>",
		Short: "Ask for a new slot after a reschedule request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := parseSlot(slot)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := actor(ctx, e, "case.reschedule")
				if err != nil {
					return err
				}
				c, err := e.RequestSlot(ctx, args[0], a, s)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&slot, "slot", "", "new slot, e.g. 2025-03-11T10:00")
	_ = cmd.MarkFlagRequired("slot")
	return cmd
}

func caseSuggestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "suggest <id>",
		Short: "Suggest free slots for a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := actor(ctx, e, "slot.read"); err != nil {
					return err
				}
				slots, err := e.Suggest(ctx, args[0])
				if err != nil {
					return err
				}
				return printSlots(slots)
			})
		},
	}
}

type caseStep func(engine.Engine, context.Context, string, domain.Actor) (domain.Case, error)

func caseStepCmd(use, short string, step caseStep) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := actor(ctx, e, "case.execute")
				if err != nil {
					return err
				}
				c, err := step(e, ctx, args[0], a)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
}

func caseCancelCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Withdraw a case awaiting approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := actor(ctx, e, "case.cancel")
				if err != nil {
					a, err = actor(ctx, e, "case.decide")
				}
				if err != nil {
					return err
				}
				c, err := e.Cancel(ctx, args[0], a, reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason")
	return cmd
}
