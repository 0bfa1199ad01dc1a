// Package webhook posts sync outcomes to an external HTTP endpoint so a
// downstream service (an ingest pipeline, a chat bot) can react without
// polling the status API. Delivery is best effort. Failures are reported
// to the caller for logging and never stop the sync loop.
package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"resty.dev/v3"

	"github.com/inksight/inksync/internal/document"
	"github.com/inksight/inksync/internal/jsonx"
	isync "github.com/inksight/inksync/internal/sync"
	"github.com/inksight/inksync/internal/version"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultRetries   = 3
	retryWaitTime    = 1 * time.Second
	retryMaxWaitTime = 5 * time.Second
)

// Events carried in the payload.
const (
	EventFullSync    = "full-sync"
	EventIncremental = "incremental-sync"
)

// Payload is the JSON body posted to the endpoint.
type Payload struct {
	Event   string         `json:"event"`
	SentAt  time.Time      `json:"sentAt"`
	Result  *isync.Result  `json:"result"`
	Changes []ChangeRecord `json:"changes,omitempty"`
}

// ChangeRecord is the wire form of a change batch entry. Files are sorted
// so consecutive deliveries of the same batch compare equal.
type ChangeRecord struct {
	DocID     string    `json:"docId"`
	Type      string    `json:"type"`
	ChangedAt time.Time `json:"changedAt"`
	Files     []string  `json:"files"`
}

// Notifier delivers payloads to a single configured URL.
type Notifier struct {
	client *resty.Client
	url    string
}

type settings struct {
	timeout time.Duration
	retries int
}

// Option tweaks the notifier's delivery behavior.
type Option func(*settings)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithRetries sets how many times a failed delivery is retried.
func WithRetries(n int) Option {
	return func(s *settings) {
		if n >= 0 {
			s.retries = n
		}
	}
}

// NewNotifier builds a notifier for url. An empty token skips the
// Authorization header.
func NewNotifier(url string, token string, opts ...Option) *Notifier {
	s := settings{timeout: defaultTimeout, retries: defaultRetries}
	for _, opt := range opts {
		opt(&s)
	}

	client := resty.New().
		SetTimeout(s.timeout).
		SetRetryCount(s.retries).
		SetRetryWaitTime(retryWaitTime).
		SetRetryMaxWaitTime(retryMaxWaitTime).
		SetHeader("User-Agent", version.AppName+"/"+version.Version).
		AddContentTypeEncoder("json", jsonx.Encode).
		AddContentTypeDecoder("json", jsonx.Decode)

	if token != "" {
		client.SetAuthToken(token)
	}

	return &Notifier{
		client: client,
		url:    url,
	}
}

// Notify posts one sync outcome. The returned error is for logging only;
// the endpoint being down must never stall the engine.
func (n *Notifier) Notify(ctx context.Context, event string, result *isync.Result, changes []document.Change) error {
	payload := &Payload{
		Event:   event,
		SentAt:  time.Now().UTC(),
		Result:  result,
		Changes: changeRecords(changes),
	}

	res, err := n.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(n.url)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	if res.IsError() {
		return fmt.Errorf("webhook replied %s", res.Status())
	}

	slog.Debug("webhook delivered", "event", event, "status", res.StatusCode())
	return nil
}

// Close releases the underlying HTTP client.
func (n *Notifier) Close() {
	n.client.Close()
}

func changeRecords(changes []document.Change) []ChangeRecord {
	if len(changes) == 0 {
		return nil
	}
	records := make([]ChangeRecord, 0, len(changes))
	for _, ch := range changes {
		var files []string
		if ch.Files != nil {
			files = ch.Files.ToSlice()
		}
		sort.Strings(files)
		records = append(records, ChangeRecord{
			DocID:     ch.DocID,
			Type:      string(ch.Type),
			ChangedAt: ch.ChangedAt,
			Files:     files,
		})
	}
	return records
}
