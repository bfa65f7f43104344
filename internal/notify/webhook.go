package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"docket/internal/config"
	"docket/internal/domain"
)

const defaultWebhookTimeout = 5 * time.Second

const (
	HeaderKind      = "X-Docket-Kind"
	HeaderCase      = "X-Docket-Case"
	HeaderSignature = "X-Docket-Signature"
)

// Webhook posts each notification as JSON. When a secret is set the body is
// signed with HMAC-SHA256 in HeaderSignature as "sha256=<hex>".
type Webhook struct {
	URL    string
	Secret string
	Client *http.Client
	filter kindFilter
}

func NewWebhook(hook config.WebhookConfig) *Webhook {
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	return &Webhook{
		URL:    strings.TrimSpace(hook.URL),
		Secret: strings.TrimSpace(hook.Secret),
		Client: &http.Client{Timeout: timeout},
		filter: newKindFilter(hook.Kinds),
	}
}

type webhookBody struct {
	RecipientID string         `json:"recipient_id"`
	Role        string         `json:"role"`
	CaseID      string         `json:"case_id"`
	Kind        string         `json:"kind"`
	Payload     map[string]any `json:"payload"`
	CreatedAt   string         `json:"created_at"`
}

func (w *Webhook) Notify(ctx context.Context, n domain.Notification) error {
	if !w.filter.match(n.Kind) {
		return nil
	}
	payload := n.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(webhookBody{
		RecipientID: n.RecipientID,
		Role:        string(n.Role),
		CaseID:      n.CaseID,
		Kind:        n.Kind,
		Payload:     payload,
		CreatedAt:   n.CreatedAt,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderKind, n.Kind)
	req.Header.Set(HeaderCase, n.CaseID)
	if w.Secret != "" {
		req.Header.Set(HeaderSignature, "sha256="+Sign(w.Secret, data))
	}
	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	res, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", w.URL, err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("webhook %s: status %d: %s", w.URL, res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a HeaderSignature value against body.
func Verify(secret string, body []byte, header string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}

type kindFilter struct {
	all bool
	set map[string]struct{}
}

func newKindFilter(kinds []string) kindFilter {
	set := make(map[string]struct{}, len(kinds))
	for _, k := range kinds {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return kindFilter{all: true}
	}
	return kindFilter{set: set}
}

func (f kindFilter) match(kind string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[kind]
	return ok
}
