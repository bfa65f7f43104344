package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"docket/internal/config"
	"docket/internal/domain"
	"docket/internal/events"
	"docket/internal/funding"
	"docket/internal/metrics"
	"docket/internal/notify"
	"docket/internal/repo"
)

// Engine runs the case lifecycle against a single SQLite store. Every
// mutation re-reads the state it depends on inside its own transaction and
// writes through conditional updates, so concurrent callers on the same
// case or slot get a typed conflict instead of a lost update.
type Engine struct {
	DB         *sql.DB
	Repo       repo.Repo
	Events     events.Writer
	Config     *config.Config
	Sink       domain.NotificationSink
	Funding    domain.FundingSource
	Transferer domain.Transferer
	Ledger     funding.Ledger
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	Now        func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	ledger := funding.Ledger{DB: db, Repo: r}
	return Engine{
		DB:         db,
		Repo:       r,
		Events:     events.Writer{},
		Config:     cfg,
		Sink:       notify.FromConfig(cfg, r, slog.Default()),
		Funding:    funding.Source{Repo: r},
		Transferer: ledger,
		Ledger:     ledger,
		Logger:     slog.Default(),
		Now:        time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) config() (*config.Config, error) {
	if e.Config == nil {
		return nil, errors.New("config not loaded")
	}
	return e.Config, nil
}

// record appends an audit event through tx, stamping it with the engine clock.
func (e Engine) record(ctx context.Context, tx *sql.Tx, entry events.Entry) error {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	if err := w.Append(ctx, tx, entry); err != nil {
		return fmt.Errorf("record %s: %w", entry.Kind, err)
	}
	return nil
}

// outbox collects notifications while a transaction is open; they are only
// delivered once it commits.
type outbox []domain.Notification

func (o *outbox) add(recipient string, role domain.Role, caseID, kind string, payload map[string]any) {
	*o = append(*o, domain.Notification{RecipientID: recipient, Role: role, CaseID: caseID, Kind: kind, Payload: payload})
}

func (o *outbox) roster(ids []string, caseID, kind string, payload map[string]any) {
	for _, id := range ids {
		o.add(id, domain.RolePanelist, caseID, kind, payload)
	}
}

// deliver sends notifications. Failures are logged and never returned.
func (e Engine) deliver(ctx context.Context, notes outbox) {
	if e.Sink == nil {
		return
	}
	ts := e.stamp()
	for _, n := range notes {
		if n.CreatedAt == "" {
			n.CreatedAt = ts
		}
		err := e.Sink.Notify(ctx, n)
		e.Metrics.Notification(err == nil)
		if err != nil {
			e.log().WarnContext(ctx, "notification failed",
				slog.String("case_id", n.CaseID),
				slog.String("recipient_id", n.RecipientID),
				slog.String("kind", n.Kind),
				slog.Any("err", err))
		}
	}
}

// violation logs an invariant breach and records it in its own transaction,
// since the transaction that found it is being rolled back.
func (e Engine) violation(ctx context.Context, caseID string, actor domain.Actor, err error, attrs map[string]any) error {
	e.log().ErrorContext(ctx, "invariant violation",
		slog.String("case_id", caseID),
		slog.String("actor_id", actor.ID),
		slog.String("code", domain.CodeOf(err)),
		slog.Any("err", err))
	meta := events.Metadata{"code": domain.CodeOf(err), "message": err.Error()}
	for k, v := range attrs {
		meta[k] = v
	}
	tx, txErr := e.DB.BeginTx(ctx, nil)
	if txErr != nil {
		return err
	}
	defer tx.Rollback()
	if e.record(ctx, tx, events.Entry{CaseID: caseID, Kind: events.InvariantViolation, ActorID: actor.ID, ActorRole: actor.Role, Description: err.Error(), Metadata: meta}) == nil {
		_ = tx.Commit()
	}
	return err
}

func boolPtr(b bool) *bool { return &b }

func statusPtr(s domain.CaseStatus) *domain.CaseStatus { return &s }

func slotsPtr(s []domain.Slot) *[]domain.Slot { return &s }
