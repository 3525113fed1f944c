package notify

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/rowjay/portal-backup/internal/config"
)

const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// Event summarises one backup run.
type Event struct {
	Type        string    `json:"type"`
	Message     string    `json:"message"`
	Status      string    `json:"status"`
	RunID       string    `json:"run_id"`
	Tag         string    `json:"tag"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	Duration    string    `json:"duration"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	Skipped     int       `json:"skipped"`
	RetryRounds int       `json:"retry_rounds"`
	StopReason  string    `json:"stop_reason,omitempty"`
	Error       string    `json:"error,omitempty"`
}

func (e Event) text() string {
	return fmt.Sprintf("[%s] %s: %d succeeded, %d failed, %d unchanged", e.Status, e.Message, e.Succeeded, e.Failed, e.Skipped)
}

type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

type Multi struct {
	Targets []Notifier
}

func (m Multi) Notify(ctx context.Context, event Event) error {
	var err error
	for _, target := range m.Targets {
		if target == nil {
			continue
		}
		if nerr := target.Notify(ctx, event); nerr != nil {
			err = nerr
		}
	}
	return err
}

type Webhook struct {
	Name    string
	URL     string
	Headers map[string]string
}

func (w Webhook) Notify(ctx context.Context, event Event) error {
	resp, err := httpClient().R().
		SetContext(ctx).
		SetHeaders(w.Headers).
		SetBody(event).
		Post(w.URL)
	if err != nil {
		return err
	}
	if resp.StatusCode() >= 300 {
		return fmt.Errorf("webhook %s returned %s", w.Name, resp.Status())
	}
	return nil
}

type Mattermost struct {
	Name string
	URL  string
}

func (m Mattermost) Notify(ctx context.Context, event Event) error {
	resp, err := httpClient().R().
		SetContext(ctx).
		SetBody(map[string]string{"text": event.text()}).
		Post(m.URL)
	if err != nil {
		return err
	}
	if resp.StatusCode() >= 300 {
		return fmt.Errorf("mattermost %s returned %s", m.Name, resp.Status())
	}
	return nil
}

type Matrix struct {
	Name        string
	ServerURL   string
	AccessToken string
	RoomID      string
}

func (m Matrix) Notify(ctx context.Context, event Event) error {
	endpoint := fmt.Sprintf("%s/_matrix/client/v3/rooms/%s/send/m.room.message/%d", m.ServerURL, url.PathEscape(m.RoomID), time.Now().UnixNano())
	resp, err := httpClient().R().
		SetContext(ctx).
		SetAuthToken(m.AccessToken).
		SetBody(map[string]any{
			"msgtype": "m.text",
			"body":    event.text(),
		}).
		Put(endpoint)
	if err != nil {
		return err
	}
	if resp.StatusCode() >= 300 {
		return fmt.Errorf("matrix %s returned %s", m.Name, resp.Status())
	}
	return nil
}

func FromConfig(cfg config.NotificationsConfig) Multi {
	var targets []Notifier
	for _, w := range cfg.Webhooks {
		targets = append(targets, Webhook{Name: w.Name, URL: w.URL, Headers: w.Headers})
	}
	for _, mm := range cfg.Mattermost {
		targets = append(targets, Mattermost{Name: mm.Name, URL: mm.URL})
	}
	for _, mx := range cfg.Matrix {
		targets = append(targets, Matrix{Name: mx.Name, ServerURL: mx.ServerURL, AccessToken: mx.AccessToken, RoomID: mx.RoomID})
	}
	return Multi{Targets: targets}
}

func httpClient() *resty.Client {
	return resty.New().
		SetTimeout(10*time.Second).
		SetHeader("Content-Type", "application/json")
}
