// Package webhook posts run notifications to configured HTTP endpoints.
package webhook

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
	"sync"
	"time"

	"github.com/illuvrse/operator/pkg/logging"
)

// EventType names a notification.
type EventType string

const (
	EventRunFinished EventType = "run.finished"
	EventRunFailed   EventType = "run.failed"
	EventRunDenied   EventType = "run.denied"
)

// Event is the JSON payload posted to each hook.
type Event struct {
	Event        EventType `json:"event"`
	Timestamp    string    `json:"timestamp"`
	RunID        string    `json:"run_id"`
	RepoRoot     string    `json:"repo_root,omitempty"`
	Mode         string    `json:"mode"`
	Task         string    `json:"task"`
	Workflow     string    `json:"workflow"`
	Status       string    `json:"status"`
	Summary      string    `json:"summary,omitempty"`
	Checkpoint   string    `json:"checkpoint,omitempty"`
	FilesChanged []string  `json:"files_changed,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// HookConfig is one endpoint.
type HookConfig struct {
	URL    string
	Secret string
	Events []EventType // empty or "*" matches every event
}

// Config controls delivery.
type Config struct {
	Hooks          []HookConfig
	MaxRetries     int
	RetryDelay     time.Duration
	Timeout        time.Duration
	AsyncQueueSize int
}

// DefaultConfig returns the default delivery settings without hooks.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:     2,
		RetryDelay:     time.Second,
		Timeout:        10 * time.Second,
		AsyncQueueSize: 16,
	}
}

// Client sends notifications.
type Client struct {
	config *Config
	http   *http.Client
	logger *logging.Logger
	queue  chan *job
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	mu     sync.RWMutex
	closed bool
}

type job struct {
	event Event
	hook  HookConfig
}

// NewClient creates a client. A nil logger uses the global one.
func NewClient(cfg *Config, logger *logging.Logger) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.AsyncQueueSize <= 0 {
		cfg.AsyncQueueSize = 1
	}
	if logger == nil {
		logger = logging.Global()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		config: cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		queue:  make(chan *job, cfg.AsyncQueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (c *Client) start() {
	c.once.Do(func() {
		c.wg.Add(1)
		go c.worker()
	})
}

func (c *Client) worker() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			// Drain remaining jobs
			for {
				select {
				case j := <-c.queue:
					c.send(context.Background(), j)
				default:
					return
				}
			}
		case j := <-c.queue:
			c.send(context.Background(), j)
		}
	}
}

// Send delivers event to every matching hook. With async the event is
// queued and delivered before Close returns.
func (c *Client) Send(ctx context.Context, event Event, async bool) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil
	}

	var hooks []HookConfig
	for _, hook := range c.config.Hooks {
		if hook.URL != "" && matchesEvent(hook, event.Event) {
			hooks = append(hooks, hook)
		}
	}
	if len(hooks) == 0 {
		return nil
	}
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	if async {
		c.start()
		for _, hook := range hooks {
			select {
			case c.queue <- &job{event: event, hook: hook}:
			default:
				c.logger.Warn("webhook queue full, dropping event", map[string]any{"event": string(event.Event), "url": hook.URL})
			}
		}
		return nil
	}

	var lastErr error
	for _, hook := range hooks {
		if err := c.sendSync(ctx, &job{event: event, hook: hook}); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (c *Client) send(ctx context.Context, j *job) {
	if err := c.sendSync(ctx, j); err != nil {
		c.logger.WarnErr("webhook delivery failed", err, map[string]any{"event": string(j.event.Event), "url": j.hook.URL})
	}
}

// sendSync posts one job, retrying on transport errors and non-2xx
// responses.
func (c *Client) sendSync(ctx context.Context, j *job) error {
	payload, err := json.Marshal(j.event)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.config.RetryDelay):
			}
		}

		req, err := c.createRequest(ctx, j, payload)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	return lastErr
}

func (c *Client) createRequest(ctx context.Context, j *job, payload []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.hook.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "operator-webhook/1.0")
	req.Header.Set("X-Operator-Event", string(j.event.Event))
	if j.hook.Secret != "" {
		req.Header.Set("X-Operator-Signature", Sign(payload, j.hook.Secret))
	}
	return req, nil
}

// Sign returns the HMAC-SHA256 signature header value for payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func matchesEvent(hook HookConfig, event EventType) bool {
	if len(hook.Events) == 0 {
		return true
	}
	for _, e := range hook.Events {
		if e == event || e == "*" {
			return true
		}
	}
	return false
}

// Close delivers queued events and stops the worker.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	return nil
}

// EventFor maps a run status to its event type.
func EventFor(status string) EventType {
	switch status {
	case "ok", "dry-run":
		return EventRunFinished
	case "denied", "blocked":
		return EventRunDenied
	default:
		return EventRunFailed
	}
}
