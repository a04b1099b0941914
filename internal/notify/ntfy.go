package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sentinel/internal/config"
	"sentinel/internal/store"
)

const userAgent = "Sentinel-Go/0.1.0"

// NtfyChannel publishes push notifications to one ntfy topic per recipient.
type NtfyChannel struct {
	server string
	prefix string
	client *http.Client
}

// NewNtfyChannel builds an ntfy channel from configuration.
func NewNtfyChannel(cfg config.Ntfy) *NtfyChannel {
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NtfyChannel{
		server: strings.TrimRight(strings.TrimSpace(cfg.Server), "/"),
		prefix: strings.TrimSpace(cfg.TopicPrefix),
		client: &http.Client{Timeout: timeout},
	}
}

func (n *NtfyChannel) Name() string { return config.BackendNtfy }

// Topic returns the ntfy topic for a recipient.
func (n *NtfyChannel) Topic(recipient string) string {
	recipient = strings.TrimSpace(recipient)
	if n.prefix == "" {
		return recipient
	}
	return n.prefix + "-" + recipient
}

func (n *NtfyChannel) Deliver(ctx context.Context, recipient string, payload Payload) error {
	endpoint := n.server + "/" + url.PathEscape(n.Topic(recipient))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload.Body))
	if err != nil {
		return deliveryError("ntfy", "build request", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if payload.Subject != "" {
		req.Header.Set("Title", payload.Subject)
	}
	tags := []string{"sentinel"}
	if payload.Event != "" {
		tags = append(tags, payload.Event)
	}
	req.Header.Set("Tags", strings.Join(tags, ","))
	if priority := ntfyPriority(payload.Priority); priority != "" {
		req.Header.Set("Priority", priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return deliveryError("ntfy", "send", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return deliveryError("ntfy", fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func ntfyPriority(p store.Priority) string {
	switch p {
	case store.PriorityHigh:
		return "high"
	case store.PriorityLow:
		return "low"
	default:
		return ""
	}
}
