// Package alert formats and delivers target notifications to a webhook.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/torn-tools/bazaarwatch/internal/config"
	"github.com/torn-tools/bazaarwatch/internal/model"
)

// Notification is the webhook payload for one eligible target.
type Notification struct {
	ID               string          `json:"id"`
	ActorID          int64           `json:"actor_id"`
	ActorName        string          `json:"actor_name"`
	AccumulatedValue int64           `json:"accumulated_value"`
	SalesBreakdown   map[int64]int64 `json:"sales_breakdown"`
	LastActionMins   int             `json:"last_action_minutes"`
	Message          string          `json:"message"`
	Timestamp        time.Time       `json:"timestamp"`
}

// Alerter delivers notifications for eligible targets over HTTP.
type Alerter struct {
	cfg     config.AlertsConfig
	client  *http.Client
	printer *message.Printer
	log     *zap.Logger
}

// New creates an Alerter from the alerts config.
func New(cfg config.AlertsConfig) *Alerter {
	return &Alerter{
		cfg:     cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		printer: message.NewPrinter(language.English),
		log:     zap.L().With(zap.String("component", "alerter")),
	}
}

// Enabled reports whether a webhook URL is configured.
func (a *Alerter) Enabled() bool {
	return a.cfg.WebhookURL != ""
}

// Build formats a notification for one eligible target. Item names come from
// the provided lookup; unknown items fall back to their numeric ID.
func (a *Alerter) Build(rec model.TargetRecord, itemNames map[int64]string) Notification {
	return Notification{
		ID:               uuid.NewString(),
		ActorID:          rec.ActorID,
		ActorName:        rec.ActorName,
		AccumulatedValue: rec.AccumulatedValue,
		SalesBreakdown:   rec.SalesBreakdown,
		LastActionMins:   rec.LastActionMinutes,
		Message:          a.formatMessage(rec, itemNames),
		Timestamp:        time.Now().UTC(),
	}
}

// formatMessage renders the human-readable alert line, e.g.
// "Duke [4] sold $42,000,000 (Xanax: $30,000,000, Erotic DVD: $12,000,000), last seen 17 minutes ago".
func (a *Alerter) formatMessage(rec model.TargetRecord, itemNames map[int64]string) string {
	type part struct {
		name  string
		value int64
	}
	parts := make([]part, 0, len(rec.SalesBreakdown))
	for itemID, value := range rec.SalesBreakdown {
		name, ok := itemNames[itemID]
		if !ok {
			name = fmt.Sprintf("Item %d", itemID)
		}
		parts = append(parts, part{name: name, value: value})
	}
	sort.Slice(parts, func(i, j int) bool {
		if parts[i].value != parts[j].value {
			return parts[i].value > parts[j].value
		}
		return parts[i].name < parts[j].name
	})

	var b strings.Builder
	a.printer.Fprintf(&b, "%s [%d] sold $%d", rec.ActorName, rec.ActorID, rec.AccumulatedValue)
	if len(parts) > 0 {
		b.WriteString(" (")
		for i, p := range parts {
			if i > 0 {
				b.WriteString(", ")
			}
			a.printer.Fprintf(&b, "%s: $%d", p.name, p.value)
		}
		b.WriteString(")")
	}
	a.printer.Fprintf(&b, ", last seen %d minutes ago", rec.LastActionMinutes)
	return b.String()
}

// Deliver posts one notification to the webhook. The caller should only mark
// the target alerted when delivery succeeds.
func (a *Alerter) Deliver(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return eris.Wrap(err, "alert: marshal notification")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "alert: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "alert: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("alert: webhook returned status %d", resp.StatusCode)
	}
	a.log.Info("alert delivered",
		zap.Int64("actor_id", n.ActorID),
		zap.Int64("accumulated", n.AccumulatedValue),
	)
	return nil
}
