// Package webhooks pushes plan lifecycle events to external HTTP endpoints.
package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"evsite/internal/events"
	"evsite/internal/metrics"
)

// Delivery is one pending POST of an event to one endpoint.
type Delivery struct {
	ID            string
	URL           string
	EventType     string
	Payload       []byte
	Attempts      int
	NextAttemptAt time.Time
}

type Worker struct {
	URLs        []string
	Secret      string
	HTTP        *http.Client
	MaxAttempts int
	Log         *zap.Logger

	mu     sync.Mutex
	queue  []*Delivery
	failed []*Delivery // dead letters
	now    func() time.Time
}

func NewWorker(urls []string, secret string, maxAttempts int, log *zap.Logger) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{
		URLs:        urls,
		Secret:      secret,
		HTTP:        &http.Client{Timeout: 5 * time.Second},
		MaxAttempts: maxAttempts,
		Log:         log,
		now:         time.Now,
	}
}

func (w *Worker) clock() time.Time {
	if w.now == nil {
		return time.Now()
	}
	return w.now()
}

// Enqueue schedules evt for every configured endpoint.
func (w *Worker) Enqueue(evt events.Event) {
	body, err := json.Marshal(map[string]any{
		"id":      "evt_" + uuid.NewString(),
		"type":    evt.Type,
		"country": evt.Country,
		"planId":  evt.PlanID,
		"ts":      w.clock().UTC().Format(time.RFC3339),
		"data":    evt.Data,
	})
	if err != nil {
		w.Log.Warn("encode webhook payload", zap.Error(err))
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, u := range w.URLs {
		w.queue = append(w.queue, &Delivery{ID: uuid.NewString(), URL: u, EventType: evt.Type, Payload: body, NextAttemptAt: w.clock()})
	}
}

// Run forwards every plan event from broker until ctx is done.
func (w *Worker) Run(ctx context.Context, broker events.Broker) {
	if len(w.URLs) == 0 {
		return
	}
	ch := broker.Subscribe(events.AllCountries)
	defer broker.Unsubscribe(events.AllCountries, ch)
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			w.Enqueue(evt)
		case <-ticker.C:
			w.processOnce(ctx)
		}
	}
}

// Pending returns the number of queued deliveries.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// DeadLetters returns deliveries that exhausted their attempts.
func (w *Worker) DeadLetters() []Delivery {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Delivery, 0, len(w.failed))
	for _, d := range w.failed {
		out = append(out, *d)
	}
	return out
}

func (w *Worker) due() []*Delivery {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.clock()
	var due, rest []*Delivery
	for _, d := range w.queue {
		if !d.NextAttemptAt.After(now) {
			due = append(due, d)
		} else {
			rest = append(rest, d)
		}
	}
	w.queue = rest
	return due
}

func (w *Worker) processOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	for _, it := range w.due() {
		success, code, err := w.send(ctx, it)
		status := "delivered"
		it.Attempts++
		switch {
		case success:
		case it.Attempts >= w.MaxAttempts:
			status = "failed"
			w.mu.Lock()
			w.failed = append(w.failed, it)
			w.mu.Unlock()
			w.Log.Warn("webhook dead-lettered", zap.String("url", it.URL), zap.Int("code", code), zap.Error(err))
		default:
			status = "retry"
			it.NextAttemptAt = w.clock().Add(nextBackoff(it.Attempts - 1))
			w.mu.Lock()
			w.queue = append(w.queue, it)
			w.mu.Unlock()
		}
		metrics.WebhookDeliveries.WithLabelValues(it.EventType, status).Inc()
	}
}

func (w *Worker) send(ctx context.Context, it *Delivery) (bool, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, it.URL, bytes.NewReader(it.Payload))
	if err != nil {
		return false, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", it.EventType)
	req.Header.Set("X-Delivery-Attempt", strconv.Itoa(it.Attempts+1))
	if w.Secret != "" {
		req.Header.Set("X-Signature", SignHMAC(w.Secret, w.clock(), it.Payload))
	}
	start := time.Now()
	resp, err := w.HTTP.Do(req)
	metrics.WebhookLatency.WithLabelValues(it.EventType).Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		return false, 0, err
	}
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300, resp.StatusCode, nil
}

func nextBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 10 {
		attempts = 10
	}
	base := time.Second * time.Duration(1<<attempts)
	if base > time.Hour {
		base = time.Hour
	}
	return base
}
