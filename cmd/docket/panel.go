package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"docket/internal/domain"
	"docket/internal/engine"
)

func slotCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "slot",
		Short: "Inspect and block calendar slots",
	}
	c.AddCommand(slotListCmd())
	c.AddCommand(slotFilterCmd("free", "List free slots", engine.Engine.ListFree))
	c.AddCommand(slotFilterCmd("blocked", "List blocked slots", engine.Engine.ListBlocked))
	c.AddCommand(slotBlockCmd())
	c.AddCommand(slotUnblockCmd())
	c.AddCommand(slotReleaseCmd())
	return c
}

func printSlots(slots []domain.Slot) error {
	rows := make([]table.Row, 0, len(slots))
	for _, s := range slots {
		rows = append(rows, table.Row{s.Date, s.Time})
	}
	return printTable(slots, table.Row{"Date", "Time"}, rows)
}

func rangeFlags(cmd *cobra.Command, from, to *string) {
	cmd.Flags().StringVar(from, "from", "", "first date (YYYY-MM-DD)")
	cmd.Flags().StringVar(to, "to", "", "last date, defaults to --from")
	_ = cmd.MarkFlagRequired("from")
}

func slotListCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show per-day occupancy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := actor(ctx, e, "slot.read"); err != nil {
					return err
				}
				days, err := e.ListSlots(ctx, from, to)
				if err != nil {
					return err
				}
				var rows []table.Row
				for _, d := range days {
					for _, b := range d.Buckets {
						rows = append(rows, table.Row{d.Date, d.State, b.Slot.Time, b.State, b.CaseID, b.Reason})
					}
				}
				return printTable(days, table.Row{"Date", "Day", "Time", "State", "Case", "Reason"}, rows)
			})
		},
	}
	rangeFlags(cmd, &from, &to)
	return cmd
}

type slotFilter func(engine.Engine, context.Context, string, string) ([]domain.Slot, error)

func slotFilterCmd(use, short string, list slotFilter) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := actor(ctx, e, "slot.read"); err != nil {
					return err
				}
				slots, err := list(e, ctx, from, to)
				if err != nil {
					return err
				}
				return printSlots(slots)
			})
		},
	}
	rangeFlags(cmd, &from, &to)
	return cmd
}

func slotBlockCmd() *cobra.Command {
	var date, clock, reason string
	cmd := &cobra.Command{
		Use:   "block",
		Short: "Block a bucket, or a whole day when --time is omitted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := actor(ctx, e, "slot.block")
				if err != nil {
					return err
				}
				slots, err := e.Block(ctx, date, clock, reason, a)
				if err != nil {
					return err
				}
				return printSlots(slots)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&clock, "time", "", "bucket start (HH:MM)")
	cmd.Flags().StringVar(&reason, "reason", "", "reason")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func slotUnblockCmd() *cobra.Command {
	var date, clock string
	cmd := &cobra.Command{
		Use:   "unblock",
		Short: "Lift a block",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := actor(ctx, e, "slot.block")
				if err != nil {
					return err
				}
				slots, err := e.Unblock(ctx, date, clock, a)
				if err != nil {
					return err
				}
				return printSlots(slots)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&clock, "time", "", "bucket start (HH:MM)")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func slotReleaseCmd() *cobra.Command {
	var slot string
	cmd := &cobra.Command{
		Use:   "release",
		Short: "Free a reserved slot",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := parseSlot(slot)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := actor(ctx, e, "slot.block")
				if err != nil {
					return err
				}
				caseID, err := e.Release(ctx, s, a)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"slot": s, "case_id": caseID})
			})
		},
	}
	cmd.Flags().StringVar(&slot, "slot", "", "slot, e.g. 2025-03-10T09:00")
	_ = cmd.MarkFlagRequired("slot")
	return cmd
}

func panelCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "panel",
		Short: "Panel applications and roster",
		Long:  "Panelists apply to approved cases; approvers seat them until the panel is full.",
	}
	c.AddCommand(panelApplyCmd())
	c.AddCommand(panelListCmd())
	c.AddCommand(panelApproveCmd())
	c.AddCommand(panelRejectCmd())
	c.AddCommand(panelDecideCmd())
	c.AddCommand(panelRosterCmd())
	return c
}

func panelApplyCmd() *cobra.Command {
	var payload string
	cmd := &cobra.Command{
		Use:   "apply <case-id>",
		Short: "Apply to sit on a panel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := payloadFlag(payload)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := actor(ctx, e, "application.create")
				if err != nil {
					return err
				}
				app, err := e.Apply(ctx, args[0], a.ID, body)
				if err != nil {
					return err
				}
				return printJSONOrTable(app)
			})
		},
	}
	cmd.Flags().StringVar(&payload, "payload-json", "", "application payload")
	return cmd
}

func panelListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list <case-id>",
		Short: "List applications",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := actor(ctx, e, "application.read"); err != nil {
					return err
				}
				apps, err := e.ListApplications(ctx, args[0], domain.ApplicationStatus(status))
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(apps))
				for _, a := range apps {
					rows = append(rows, table.Row{a.ID, a.PanelistID, a.Status, a.CreatedAt})
				}
				return printTable(apps, table.Row{"ID", "Panelist", "Status", "Created"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "pending, approved or rejected")
	return cmd
}

func panelApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <case-id> <application-id>",
		Short: "Seat a panelist",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := actor(ctx, e, "application.decide")
				if err != nil {
					return err
				}
				res, err := e.Approve(ctx, args[0], args[1], a)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
}

func panelRejectCmd() *cobra.Command {
	var comment string
	cmd := &cobra.Command{
		Use:   "reject <case-id> <application-id>",
		Short: "Turn down an application",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := actor(ctx, e, "application.decide")
				if err != nil {
					return err
				}
				res, err := e.Reject(ctx, args[0], args[1], a, comment)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "comment for the panelist")
	return cmd
}

func panelDecideCmd() *cobra.Command {
	var ids []string
	var decision, comment string
	cmd := &cobra.Command{
		Use:   "decide <case-id>",
		Short: "Approve or reject several applications in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := actor(ctx, e, "application.decide")
				if err != nil {
					return err
				}
				report, err := e.BulkDecide(ctx, args[0], ids, domain.ApplicationDecision(decision), a, comment)
				if err != nil {
					return err
				}
				return printBulk(report)
			})
		},
	}
	cmd.Flags().StringArrayVar(&ids, "id", []string{}, "application id (repeatable)")
	cmd.Flags().StringVar(&decision, "decision", "", "approve or reject")
	cmd.Flags().StringVar(&comment, "comment", "", "comment")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("decision")
	return cmd
}

func panelRosterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "roster <case-id>",
		Short: "Show seated panelists",
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
				roster, err := e.ApprovedRoster(ctx, c.ID)
				if err != nil {
					return err
				}
				if !viper.GetBool("json") {
					fmt.Printf("%s: %d of %d seated\n", c.ID, len(roster), c.RequiredPanelists)
				}
				rows := make([]table.Row, 0, len(roster))
				for i, id := range roster {
					rows = append(rows, table.Row{i + 1, id})
				}
				return printTable(roster, table.Row{"#", "Panelist"}, rows)
			})
		},
	}
}

func verdictCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "verdict",
		Short: "Submit and inspect verdicts",
	}
	c.AddCommand(verdictSubmitCmd())
	c.AddCommand(verdictListCmd())
	c.AddCommand(verdictCheckCmd())
	return c
}

func verdictSubmitCmd() *cobra.Command {
	var payload string
	cmd := &cobra.Command{
		Use:   "submit <case-id>",
		Short: "Submit your verdict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := payloadFlag(payload)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := actor(ctx, e, "verdict.submit")
				if err != nil {
					return err
				}
				res, err := e.SubmitVerdict(ctx, args[0], a.ID, body)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&payload, "payload-json", "", "verdict payload")
	_ = cmd.MarkFlagRequired("payload-json")
	return cmd
}

func verdictListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <case-id>",
		Short: "List submitted verdicts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := actor(ctx, e, "verdict.read"); err != nil {
					return err
				}
				items, err := e.ListVerdicts(ctx, args[0])
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, v := range items {
					rows = append(rows, table.Row{v.PanelistID, v.SubmittedAt, v.Payload})
				}
				return printTable(items, table.Row{"Panelist", "Submitted", "Payload"}, rows)
			})
		},
	}
}

func verdictCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <case-id>",
		Short: "Complete the case if every seated panelist has submitted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := actor(ctx, e, "payment.disburse"); err != nil {
					return err
				}
				done, err := e.DetectCompletion(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"case_id": args[0], "completed": done})
			})
		},
	}
}

func fundingCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "funding",
		Short: "Record case funding",
	}
	c.AddCommand(fundingRecordCmd())
	return c
}

func fundingRecordCmd() *cobra.Command {
	var amount, kind, reference string
	cmd := &cobra.Command{
		Use:   "record <case-id>",
		Short: "Record the completed payment that funds a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cents, err := domain.ParseAmount(amount)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := actor(ctx, e, "funding.record")
				if err != nil {
					return err
				}
				fp, err := e.RecordFunding(ctx, args[0], kind, cents, reference, a)
				if err != nil {
					return err
				}
				return printJSONOrTable(fp)
			})
		},
	}
	cmd.Flags().StringVar(&amount, "amount", "", "amount in major units, e.g. 350.00")
	cmd.Flags().StringVar(&kind, "kind", "", "payment kind (defaults to the configured funding kind)")
	cmd.Flags().StringVar(&reference, "reference", "", "external payment reference")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func payoutCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "payout",
		Short: "Pay the panel and inspect payments",
	}
	c.AddCommand(payoutDisburseCmd())
	c.AddCommand(payoutListCmd())
	c.AddCommand(payoutLedgerCmd())
	return c
}

func payoutDisburseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disburse <case-id>",
		Short: "Pay a completed case's panel; failed payments are retried",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := actor(ctx, e, "payment.disburse")
				if err != nil {
					return err
				}
				report, err := e.Disburse(ctx, args[0], a)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(report)
				}
				fmt.Printf("funding %s, %s each, rounding loss %s\n", report.Funding, report.PerRecipient, report.RoundingLoss)
				rows := make([]table.Row, 0, len(report.Payouts))
				for _, p := range report.Payouts {
					rows = append(rows, table.Row{p.Payment.RecipientID, p.Payment.Amount.String(), p.Outcome, p.Error})
				}
				return printTable(report, table.Row{"Recipient", "Amount", "Outcome", "Error"}, rows)
			})
		},
	}
}

func payoutListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <case-id>",
		Short: "List payment records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := actor(ctx, e, "payment.read"); err != nil {
					return err
				}
				items, err := e.ListPayments(ctx, args[0])
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, p := range items {
					rows = append(rows, table.Row{p.RecipientID, p.Role, p.Amount.String(), p.Status, p.Attempts, p.FailureReason})
				}
				return printTable(items, table.Row{"Recipient", "Role", "Amount", "Status", "Attempts", "Failure"}, rows)
			})
		},
	}
}

func payoutLedgerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ledger <case-id>",
		Short: "List ledger entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := actor(ctx, e, "payment.read"); err != nil {
					return err
				}
				items, err := e.ListLedger(ctx, args[0])
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, l := range items {
					rows = append(rows, table.Row{l.TS, l.Transfer, l.EntryType, l.Account, l.Amount.String()})
				}
				return printTable(items, table.Row{"TS", "Transfer", "Type", "Account", "Amount"}, rows)
			})
		},
	}
}
