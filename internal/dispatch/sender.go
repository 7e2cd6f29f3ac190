package dispatch

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"qqbridge/internal/eventbus"
	"qqbridge/internal/metrics"
	"qqbridge/internal/onebot"
	"qqbridge/internal/storage"
	"qqbridge/pkg/logx"
)

const (
	// sendTimeout bounds one HTTP attempt end to end.
	sendTimeout = 10 * time.Second

	// maxResponseBytes caps how much of a bridge response we read and log.
	maxResponseBytes = 64 << 10
)

// Sender performs one complete delivery: category filter, formatting,
// dialect encoding, the HTTP POST, and outcome classification. It is the
// shared chokepoint of the synchronous and queued paths, so logging, metrics,
// event publication and history all hang off it.
//
// It is safe for concurrent use.
type Sender struct {
	client  *http.Client
	log     logx.Logger
	bus     eventbus.Bus
	store   storage.Store
	metrics *metrics.Metrics
}

// NewSender builds a sender. client may be nil (a default 10s-timeout client
// is used); bus, store and metrics are optional.
func NewSender(client *http.Client, log logx.Logger, bus eventbus.Bus, store storage.Store, m *metrics.Metrics) *Sender {
	if client == nil {
		client = &http.Client{Timeout: sendTimeout}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sender{client: client, log: log, bus: bus, store: store, metrics: m}
}

// Send runs the per-item pipeline and records the outcome. Failures are
// terminal for the item: no retries, no dead-letter, the caller just gets the
// classification back.
func (s *Sender) Send(ctx context.Context, t Target, item Item) Outcome {
	out := s.attempt(ctx, t, item)
	s.record(t, item, out)
	return out
}

func (s *Sender) attempt(ctx context.Context, t Target, item Item) Outcome {
	if !t.Allows(item.Category) {
		return Outcome{Status: StatusSkippedFiltered}
	}

	msg := onebot.FormatMessage(item.Title, item.Body, t.TitleStyle)
	if strings.TrimSpace(msg) == "" {
		return Outcome{Status: StatusSkippedEmpty}
	}

	req, err := onebot.Encode(t.Dialect, t.UserID, t.AccessToken, msg)
	if err != nil {
		return Outcome{Status: StatusInvalidRecipient, Detail: err.Error(), Err: err}
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(req.Body))
	if err != nil {
		return Outcome{Status: StatusNetworkFailure, Detail: err.Error(), Err: err}
	}
	hreq.Header = req.Header

	resp, err := s.client.Do(hreq)
	if err != nil {
		return Outcome{Status: StatusNetworkFailure, Detail: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Outcome{
			Status:     StatusRejectedByRemote,
			HTTPStatus: resp.StatusCode,
			Detail:     strings.TrimSpace(string(body)),
		}
	}

	// The OneBot dialects confirm delivery inside a 200 body; the simple-text
	// bridge is judged by HTTP status alone.
	if t.Dialect.ChecksRetcode() {
		if err := onebot.CheckRetcode(body); err != nil {
			return Outcome{
				Status:     StatusRejectedByRemote,
				HTTPStatus: resp.StatusCode,
				Detail:     err.Error(),
				Err:        err,
			}
		}
	}

	return Outcome{Status: StatusSent, HTTPStatus: resp.StatusCode}
}

func (s *Sender) record(t Target, item Item, out Outcome) {
	fields := []logx.Field{
		logx.String("status", out.Status.String()),
		logx.String("title", item.Title),
	}
	if out.HTTPStatus != 0 {
		fields = append(fields, logx.Int("http_status", out.HTTPStatus))
	}
	if out.Detail != "" {
		fields = append(fields, logx.String("detail", out.Detail))
	}

	switch out.Status {
	case StatusSent:
		s.log.Info("message forwarded", fields...)
	case StatusSkippedFiltered, StatusSkippedEmpty:
		s.log.Debug("message skipped", fields...)
	default:
		s.log.Warn("message not delivered", fields...)
	}

	s.metrics.Outcome(out.Status.String())

	if s.bus != nil {
		now := time.Now()
		s.bus.Publish(eventbus.Event{Type: busType(out.Status), Time: now, Data: OutcomeEvent{
			Status:     out.Status.String(),
			Title:      item.Title,
			Category:   item.Category,
			HTTPStatus: out.HTTPStatus,
			Detail:     out.Detail,
			At:         now,
		}})
	}

	if s.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
		_ = s.store.AppendDelivery(ctx, storage.Delivery{
			At:         time.Now(),
			Status:     out.Status.String(),
			Dialect:    string(t.Dialect),
			Title:      item.Title,
			Category:   item.Category,
			HTTPStatus: out.HTTPStatus,
			Detail:     out.Detail,
		})
		cancel()
	}
}

func busType(st Status) string {
	switch st {
	case StatusSent:
		return eventbus.TypeBridgeSent
	case StatusRejectedByRemote:
		return eventbus.TypeBridgeRejected
	case StatusNetworkFailure, StatusInvalidRecipient:
		return eventbus.TypeBridgeFailed
	default:
		return eventbus.TypeBridgeSkipped
	}
}
