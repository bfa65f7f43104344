package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"docket/internal/domain"
	"docket/internal/events"
	"docket/internal/repo"
)

// maxRangeDays caps slot range queries.
const maxRangeDays = 92

// span expands a start slot into the consecutive calendar buckets a case of
// the given length occupies.
func (e Engine) span(start domain.Slot, buckets int) ([]domain.Slot, error) {
	cfg, err := e.config()
	if err != nil {
		return nil, err
	}
	s, err := start.Normalize()
	if err != nil {
		return nil, err
	}
	day := cfg.Buckets()
	idx := slices.Index(day, s.Time)
	if idx < 0 {
		return nil, domain.Invalid(fmt.Sprintf("%s is not a calendar bucket; buckets start at %s every %d minutes", s.Time, cfg.Calendar.Open, cfg.Calendar.BucketMinutes))
	}
	if buckets < 1 {
		buckets = 1
	}
	if idx+buckets > len(day) {
		return nil, domain.Invalid(fmt.Sprintf("a %d-bucket case starting at %s runs past calendar close", buckets, s.Time))
	}
	out := make([]domain.Slot, 0, buckets)
	for i := 0; i < buckets; i++ {
		out = append(out, domain.Slot{Date: s.Date, Time: day[idx+i]})
	}
	return out, nil
}

// checkLead rejects slots that start sooner than the configured lead time.
func (e Engine) checkLead(s domain.Slot) error {
	start, err := s.Start()
	if err != nil {
		return domain.Invalid(fmt.Sprintf("invalid slot %s", s))
	}
	lead := time.Duration(e.Config.Calendar.MinLeadHours) * time.Hour
	if start.Before(e.now().UTC().Add(lead)) {
		return domain.Invalid(fmt.Sprintf("slot %s starts less than %d hours from now", s, e.Config.Calendar.MinLeadHours))
	}
	return nil
}

// IsFree reports whether no case and no block occupies the slot.
func (e Engine) IsFree(ctx context.Context, slot domain.Slot) (bool, error) {
	s, err := slot.Normalize()
	if err != nil {
		return false, err
	}
	_, err = e.Repo.GetBinding(ctx, nil, s)
	if errors.Is(err, repo.ErrNotFound) {
		return true, nil
	}
	return false, err
}

// Reserve binds the span of buckets starting at slot to the case. Losing a
// race for any bucket returns ErrSlotConflict (or ErrSlotBlocked) and leaves
// nothing bound.
func (e Engine) Reserve(ctx context.Context, caseID string, slot domain.Slot) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCase(ctx, tx, caseID)
	if err != nil {
		return err
	}
	if c.Status.Terminal() {
		return domain.ErrInvalidTransition.With("case %s is %s", c.ID, c.Status)
	}
	span, err := e.span(slot, c.DurationBuckets)
	if err != nil {
		return err
	}
	if err := e.bindSpan(ctx, tx, c.ID, span); err != nil {
		return err
	}
	return tx.Commit()
}

// bindSpan claims every bucket of span for caseID inside tx. On conflict it
// undoes the buckets it bound so the caller can keep using tx.
func (e Engine) bindSpan(ctx context.Context, tx *sql.Tx, caseID string, span []domain.Slot) error {
	now := e.stamp()
	var bound []domain.Slot
	for _, s := range span {
		ok, err := e.Repo.BindSlot(ctx, tx, s, caseID, now)
		if err != nil {
			return fmt.Errorf("bind slot %s: %w", s, err)
		}
		if ok {
			bound = append(bound, s)
			continue
		}
		b, err := e.Repo.GetBinding(ctx, tx, s)
		if err != nil {
			return err
		}
		if b.Kind == repo.BindingCase && b.CaseID == caseID {
			continue
		}
		for _, u := range bound {
			if _, err := e.Repo.ReleaseSlot(ctx, tx, u); err != nil {
				return err
			}
		}
		e.Metrics.SlotConflict()
		if b.Kind == repo.BindingBlock {
			return domain.ErrSlotBlocked.With("slot %s is blocked", s)
		}
		return domain.ErrSlotConflict.With("slot %s is held by another case", s)
	}
	return nil
}

// spanFree reports whether every bucket of span is unoccupied. When one is
// not, its binding is returned.
func (e Engine) spanFree(ctx context.Context, tx *sql.Tx, span []domain.Slot) (repo.SlotBinding, bool, error) {
	for _, s := range span {
		b, err := e.Repo.GetBinding(ctx, tx, s)
		if errors.Is(err, repo.ErrNotFound) {
			continue
		}
		if err != nil {
			return repo.SlotBinding{}, false, err
		}
		return b, false, nil
	}
	return repo.SlotBinding{}, true, nil
}

// Release frees a bucket bound to a case. Buckets backing a case that has
// been approved and not yet finished cannot be released.
func (e Engine) Release(ctx context.Context, slot domain.Slot, actor domain.Actor) (string, error) {
	s, err := slot.Normalize()
	if err != nil {
		return "", err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	b, err := e.Repo.GetBinding(ctx, tx, s)
	if err != nil {
		return "", err
	}
	if b.Kind != repo.BindingCase {
		return "", domain.Invalid(fmt.Sprintf("slot %s is blocked, not booked; unblock it instead", s))
	}
	c, err := e.Repo.GetCase(ctx, tx, b.CaseID)
	if err != nil {
		return "", err
	}
	switch c.Status {
	case domain.StatusOpenForApplications, domain.StatusReadyForExecution, domain.StatusInExecution, domain.StatusAwaitingResults:
		return "", domain.ErrInvalidTransition.With("slot %s backs case %s in %s", s, c.ID, c.Status)
	}
	if _, err := e.Repo.ReleaseSlot(ctx, tx, s); err != nil {
		return "", err
	}
	if err := e.record(ctx, tx, events.Entry{CaseID: c.ID, Kind: events.SlotReleased, ActorID: actor.ID, ActorRole: actor.Role,
		Metadata: events.Metadata{"slot": s}}); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return c.ID, nil
}

// daySpan resolves a (date, optional time) selector into buckets: one
// bucket when clock is set, the whole day otherwise.
func (e Engine) daySpan(date, clock string) ([]domain.Slot, error) {
	d, err := domain.NormalizeDate(date)
	if err != nil {
		return nil, err
	}
	if clock != "" {
		return e.span(domain.Slot{Date: d, Time: clock}, 1)
	}
	var out []domain.Slot
	for _, t := range e.Config.Buckets() {
		out = append(out, domain.Slot{Date: d, Time: t})
	}
	return out, nil
}

// Block marks buckets as administratively unavailable. Blocking a bucket
// that a case holds fails with ErrSlotConflict and blocks nothing.
func (e Engine) Block(ctx context.Context, date, clock, reason string, actor domain.Actor) ([]domain.Slot, error) {
	if _, err := e.config(); err != nil {
		return nil, err
	}
	slots, err := e.daySpan(date, clock)
	if err != nil {
		return nil, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := e.stamp()
	for _, s := range slots {
		ok, err := e.Repo.BlockSlot(ctx, tx, s, reason, now)
		if err != nil {
			return nil, fmt.Errorf("block slot %s: %w", s, err)
		}
		if !ok {
			b, err := e.Repo.GetBinding(ctx, tx, s)
			if err != nil {
				return nil, err
			}
			return nil, domain.ErrSlotConflict.With("slot %s is booked by case %s", s, b.CaseID)
		}
	}
	if err := e.record(ctx, tx, events.Entry{Kind: events.SlotBlocked, ActorID: actor.ID, ActorRole: actor.Role, Description: reason,
		Metadata: events.Metadata{"date": slots[0].Date, "slots": slots}}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return slots, nil
}

// Unblock lifts administrative blocks and returns the buckets it freed.
func (e Engine) Unblock(ctx context.Context, date, clock string, actor domain.Actor) ([]domain.Slot, error) {
	if _, err := e.config(); err != nil {
		return nil, err
	}
	slots, err := e.daySpan(date, clock)
	if err != nil {
		return nil, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var freed []domain.Slot
	for _, s := range slots {
		ok, err := e.Repo.UnblockSlot(ctx, tx, s)
		if err != nil {
			return nil, err
		}
		if ok {
			freed = append(freed, s)
		}
	}
	if len(freed) == 0 {
		return nil, nil
	}
	if err := e.record(ctx, tx, events.Entry{Kind: events.SlotUnblocked, ActorID: actor.ID, ActorRole: actor.Role,
		Metadata: events.Metadata{"date": freed[0].Date, "slots": freed}}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return freed, nil
}

func dateRange(from, to string) ([]string, error) {
	f, err := time.Parse(domain.DateLayout, from)
	if err != nil {
		return nil, domain.Invalid(fmt.Sprintf("invalid date %q", from))
	}
	t, err := time.Parse(domain.DateLayout, to)
	if err != nil {
		return nil, domain.Invalid(fmt.Sprintf("invalid date %q", to))
	}
	if t.Before(f) {
		return nil, domain.Invalid("range end is before range start")
	}
	days := int(t.Sub(f).Hours()/24) + 1
	if days > maxRangeDays {
		return nil, domain.Invalid(fmt.Sprintf("range covers %d days; at most %d allowed", days, maxRangeDays))
	}
	out := make([]string, 0, days)
	for d := f; !d.After(t); d = d.AddDate(0, 0, 1) {
		out = append(out, d.Format(domain.DateLayout))
	}
	return out, nil
}

// ListSlots returns per-day, per-bucket occupancy for [from, to].
func (e Engine) ListSlots(ctx context.Context, from, to string) ([]domain.DaySlots, error) {
	cfg, err := e.config()
	if err != nil {
		return nil, err
	}
	days, err := dateRange(from, to)
	if err != nil {
		return nil, err
	}
	bindings, err := e.Repo.BindingsBetween(ctx, nil, days[0], days[len(days)-1])
	if err != nil {
		return nil, err
	}
	byID := make(map[domain.Slot]repo.SlotBinding, len(bindings))
	for _, b := range bindings {
		byID[b.Slot] = b
	}
	buckets := cfg.Buckets()
	out := make([]domain.DaySlots, 0, len(days))
	for _, d := range days {
		ds := domain.DaySlots{Date: d, Buckets: make([]domain.SlotInfo, 0, len(buckets))}
		for _, t := range buckets {
			s := domain.Slot{Date: d, Time: t}
			info := domain.SlotInfo{Slot: s, State: domain.SlotFree}
			if b, ok := byID[s]; ok {
				info.Reason = b.Reason
				if b.Kind == repo.BindingBlock {
					info.State = domain.SlotBlocked
				} else {
					info.State = domain.SlotBooked
					info.CaseID = b.CaseID
				}
			}
			ds.Buckets = append(ds.Buckets, info)
		}
		ds.State = domain.Summarize(ds.Buckets)
		out = append(out, ds)
	}
	return out, nil
}

// ListFree returns the unoccupied buckets in [from, to].
func (e Engine) ListFree(ctx context.Context, from, to string) ([]domain.Slot, error) {
	return e.listState(ctx, from, to, domain.SlotFree)
}

// ListBlocked returns the administratively blocked buckets in [from, to].
func (e Engine) ListBlocked(ctx context.Context, from, to string) ([]domain.Slot, error) {
	return e.listState(ctx, from, to, domain.SlotBlocked)
}

func (e Engine) listState(ctx context.Context, from, to string, state domain.SlotState) ([]domain.Slot, error) {
	days, err := e.ListSlots(ctx, from, to)
	if err != nil {
		return nil, err
	}
	var out []domain.Slot
	for _, d := range days {
		for _, b := range d.Buckets {
			if b.State == state {
				out = append(out, b.Slot)
			}
		}
	}
	return out, nil
}

// Suggest proposes free start slots for a case: its submitter's preferred
// alternates first, then a forward scan of the suggestion window.
func (e Engine) Suggest(ctx context.Context, caseID string) ([]domain.Slot, error) {
	c, err := e.Repo.GetCase(ctx, nil, caseID)
	if err != nil {
		return nil, err
	}
	return e.suggest(ctx, nil, c)
}

func (e Engine) suggest(ctx context.Context, tx *sql.Tx, c domain.Case) ([]domain.Slot, error) {
	cfg, err := e.config()
	if err != nil {
		return nil, err
	}
	want := cfg.Calendar.SuggestionCount
	var out []domain.Slot
	seen := map[domain.Slot]bool{c.Slot: true}
	take := func(s domain.Slot) (bool, error) {
		if seen[s] || e.checkLead(s) != nil {
			return false, nil
		}
		span, err := e.span(s, c.DurationBuckets)
		if err != nil {
			return false, nil
		}
		_, free, err := e.spanFree(ctx, tx, span)
		if err != nil || !free {
			return false, err
		}
		seen[s] = true
		out = append(out, s)
		return len(out) >= want, nil
	}
	for _, p := range c.PreferredSlots {
		done, err := take(p)
		if err != nil {
			return nil, err
		}
		if done {
			return out, nil
		}
	}

	start, err := time.Parse(domain.DateLayout, c.Slot.Date)
	if err != nil {
		return nil, domain.Invalid(fmt.Sprintf("invalid date %q", c.Slot.Date))
	}
	buckets := cfg.Buckets()
	for d := 0; d < cfg.Calendar.SuggestionWindowDays; d++ {
		date := start.AddDate(0, 0, d).Format(domain.DateLayout)
		for i := 0; i+c.DurationBuckets <= len(buckets); i++ {
			done, err := take(domain.Slot{Date: date, Time: buckets[i]})
			if err != nil {
				return nil, err
			}
			if done {
				return out, nil
			}
		}
	}
	return out, nil
}
