package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"docket/internal/config"
	"docket/internal/db"
	"docket/internal/domain"
	"docket/internal/migrate"
	"docket/internal/repo"
)

func TestWebhookSignsBody(t *testing.T) {
	var (
		mu   sync.Mutex
		got  []byte
		sig  string
		kind string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got, sig, kind = body, r.Header.Get(HeaderSignature), r.Header.Get(HeaderKind)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	hook := NewWebhook(config.WebhookConfig{URL: srv.URL, Secret: "s3cret"})
	n := domain.Notification{RecipientID: "p1", Role: domain.RolePanelist, CaseID: "c1", Kind: "verdict_due"}
	if err := hook.Notify(context.Background(), n); err != nil {
		t.Fatalf("notify: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if kind != "verdict_due" {
		t.Fatalf("kind header = %q", kind)
	}
	if !Verify("s3cret", got, sig) {
		t.Fatalf("signature %q does not verify", sig)
	}
	if Verify("other", got, sig) {
		t.Fatalf("signature verified under wrong secret")
	}
}

func TestWebhookKindFilterAndStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	hook := NewWebhook(config.WebhookConfig{URL: srv.URL, Kinds: []string{"payment_failed"}})
	if err := hook.Notify(context.Background(), domain.Notification{Kind: "verdict_due"}); err != nil {
		t.Fatalf("filtered kind should be skipped: %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("filtered kind was delivered")
	}
	if err := hook.Notify(context.Background(), domain.Notification{Kind: "payment_failed"}); err == nil {
		t.Fatalf("expected error on 502")
	}
}

type failing struct{}

func (failing) Notify(context.Context, domain.Notification) error { return errors.New("down") }

func TestMultiDeliversToAllAndOutboxPersists(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatal(err)
	}
	r := repo.Repo{DB: conn}
	sink := Multi{failing{}, Outbox{Repo: r}}
	err = sink.Notify(context.Background(), domain.Notification{RecipientID: "s1", Role: domain.RoleSubmitter, CaseID: "c1", Kind: "case_approved"})
	if err == nil {
		t.Fatalf("expected joined error")
	}
	list, err := r.ListNotifications(context.Background(), "s1", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Kind != "case_approved" {
		t.Fatalf("outbox = %+v", list)
	}
}
