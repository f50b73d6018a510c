// Package alerts posts strategy mode transitions to an operations
// webhook. Delivery is best effort; alerting never blocks or fails a
// cycle.
package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/memetrade/allocator/internal/config"
	"github.com/memetrade/allocator/internal/mode"
	"github.com/memetrade/allocator/internal/observ"
)

type payload struct {
	Text string `json:"text"`
}

// Notifier posts JSON messages to a single webhook URL.
type Notifier struct {
	url     string
	enabled bool
	client  *http.Client
}

// New builds a notifier; a disabled config yields a no-op notifier.
func New(cfg config.Alerts) *Notifier {
	return &Notifier{
		url:     cfg.WebhookURL,
		enabled: cfg.Enabled && cfg.WebhookURL != "",
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond,
		},
	}
}

// ModeChange announces one promotion or demotion.
func (n *Notifier) ModeChange(tr mode.Transition) {
	if !n.enabled {
		return
	}
	msg := payload{
		Text: fmt.Sprintf("strategy %s: %s -> %s", tr.StrategyID, tr.From, tr.To),
	}
	b, _ := json.Marshal(msg)
	resp, err := n.client.Post(n.url, "application/json", bytes.NewReader(b))
	if err != nil {
		observ.LogError("alert_post_failed", err, map[string]any{"strategy_id": tr.StrategyID})
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		observ.LogError("alert_post_failed", fmt.Errorf("webhook returned %d", resp.StatusCode),
			map[string]any{"strategy_id": tr.StrategyID})
	}
}
