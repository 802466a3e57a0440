// Package telemetry buffers structured events and forwards them, best effort,
// to an optional HTTP collector.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultBufferSize caps the number of undelivered events kept in memory.
const DefaultBufferSize = 10000

// Event is an immutable telemetry record.
type Event struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Attributes map[string]any `json:"attributes"`
	Timestamp  float64        `json:"timestamp"`
}

// NewEvent stamps an event with a fresh id and the current time. The
// attribute map is copied so later caller mutations do not leak in.
func NewEvent(name string, attrs map[string]any) Event {
	copied := make(map[string]any, len(attrs))
	maps.Copy(copied, attrs)
	now := time.Now()
	return Event{
		ID:         uuid.NewString(),
		Name:       name,
		Attributes: copied,
		Timestamp:  float64(now.UnixNano()) / float64(time.Second),
	}
}

// Recorder accepts events without blocking.
type Recorder interface {
	Record(Event)
}

// Emit builds and records an event on r. A nil recorder is ignored.
func Emit(r Recorder, name string, attrs map[string]any) {
	if r == nil {
		return
	}
	r.Record(NewEvent(name, attrs))
}

// Options configures a Client.
type Options struct {
	Endpoint   string
	BufferSize int // 0 means unbounded
	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    *Metrics
}

// Client is the process wide telemetry pipeline. Record appends to an
// ordered backlog; a single consumer started by Start drains it FIFO.
type Client struct {
	endpoint   string
	bufferSize int
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *Metrics

	mu      sync.Mutex
	backlog []Event
	notify  chan struct{}

	started  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	cancel   context.CancelFunc
}

// NewClient builds a client. Without an endpoint events are only retained.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint:   opts.Endpoint,
		bufferSize: opts.BufferSize,
		httpClient: httpClient,
		logger:     logger,
		metrics:    opts.Metrics,
		notify:     make(chan struct{}, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Record enqueues an event. It never blocks on delivery and never fails;
// when the buffer is full the oldest event is discarded.
func (c *Client) Record(ev Event) {
	c.mu.Lock()
	if c.bufferSize > 0 && len(c.backlog) >= c.bufferSize {
		c.backlog = c.backlog[1:]
		c.metrics.IncDropped()
	}
	c.backlog = append(c.backlog, ev)
	c.mu.Unlock()
	c.metrics.IncRecorded(ev.Name)

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Pending returns the number of events not yet dequeued.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.backlog)
}

// Snapshot returns a copy of the events not yet dequeued, oldest first.
func (c *Client) Snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.backlog))
	copy(out, c.backlog)
	return out
}

// Enabled reports whether a forwarding endpoint is configured.
func (c *Client) Enabled() bool {
	return c.endpoint != ""
}

// Start launches the forwarder. It is a no-op without an endpoint or when
// already started.
func (c *Client) Start(ctx context.Context) {
	if c.endpoint == "" {
		return
	}
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	go c.run(ctx)
}

// Stop signals the forwarder and waits for it to exit. An in-flight POST
// is abandoned. Undelivered events are discarded with the client.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
		c.mu.Lock()
		cancel := c.cancel
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	})
	if c.started.Load() {
		<-c.done
	}
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		ev, ok := c.dequeue()
		if !ok {
			select {
			case <-c.notify:
			case <-c.stop:
				return
			case <-ctx.Done():
				return
			}
			continue
		}
		c.forward(ctx, ev)
	}
}

func (c *Client) dequeue() (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.backlog) == 0 {
		return Event{}, false
	}
	ev := c.backlog[0]
	c.backlog[0] = Event{}
	c.backlog = c.backlog[1:]
	return ev, true
}

func (c *Client) forward(ctx context.Context, ev Event) {
	if err := c.post(ctx, ev); err != nil {
		c.metrics.IncForward("failed")
		c.logger.Debug("telemetry forward failed",
			slog.String("event", ev.Name),
			slog.Any("error", err),
		)
		return
	}
	c.metrics.IncForward("ok")
}

func (c *Client) post(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("collector returned status %d", resp.StatusCode)
	}
	return nil
}
