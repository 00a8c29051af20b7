package hook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"maintd/internal/store"
)

// Webhook POSTs a JSON payload per transition, e.g. to drain a load
// balancer. Calls share a rate limiter so a burst of transitions (many
// windows due in one tick) cannot hammer the receiver.
type Webhook struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
}

type webhookPayload struct {
	Event        string    `json:"event"`
	Phase        string    `json:"phase"`
	ServerID     int64     `json:"server_id"`
	ServerName   string    `json:"server_name"`
	Hostname     string    `json:"hostname"`
	IPAddress    string    `json:"ip_address"`
	ServerStatus string    `json:"server_status"`
	At           time.Time `json:"at"`
}

func NewWebhook(url string, ratePerSec int) *Webhook {
	if ratePerSec <= 0 {
		ratePerSec = 5
	}
	return &Webhook{
		url:     url,
		client:  &http.Client{Timeout: 8 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
	}
}

func (h *Webhook) OnTransition(ctx context.Context, server store.Server, phase Phase) error {
	if err := h.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("webhook rate wait: %w", err)
	}

	body, err := json.Marshal(webhookPayload{
		Event:        "maintenance." + string(phase),
		Phase:        string(phase),
		ServerID:     server.ID,
		ServerName:   server.Name,
		Hostname:     server.Hostname,
		IPAddress:    server.IPAddress,
		ServerStatus: string(server.Status),
		At:           time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
