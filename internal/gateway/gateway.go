// Package gateway is the public entry point of the forwarding pipeline: it
// normalizes raw host events, filters duplicates, and hands notifications to
// the synchronous or queued delivery path depending on the configured dialect.
package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"qqbridge/internal/config"
	"qqbridge/internal/dedup"
	"qqbridge/internal/dispatch"
	"qqbridge/internal/eventbus"
	"qqbridge/internal/metrics"
	"qqbridge/internal/onebot"
	"qqbridge/pkg/logx"
)

// Canned payload for the diagnostic test send.
const (
	testTitle = "QQBridge 测试"
	testBody  = "如果你收到这条消息，说明消息转发已配置成功。"
)

// TestResult is the diagnostic surface returned by TestSend.
type TestResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Gateway wires the pipeline together. One Gateway serves one target; its
// configuration is an immutable snapshot swapped atomically on Apply, so an
// in-flight send never observes a half-updated target.
type Gateway struct {
	log        logx.Logger
	bus        eventbus.Bus
	sender     *dispatch.Sender
	dispatcher *dispatch.Dispatcher
	dedup      *dedup.Deduplicator
	metrics    *metrics.Metrics

	now func() time.Time // injectable for tests

	enabled atomic.Bool
	target  atomic.Pointer[dispatch.Target]

	mu     sync.Mutex
	runCtx context.Context
	unsub  func()
}

func New(sender *dispatch.Sender, dispatcher *dispatch.Dispatcher, bus eventbus.Bus, log logx.Logger, m *metrics.Metrics) *Gateway {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Gateway{
		log:        log,
		bus:        bus,
		sender:     sender,
		dispatcher: dispatcher,
		dedup:      dedup.New(dedup.DefaultWindow),
		metrics:    m,
		now:        time.Now,
	}
}

// Apply installs a new configuration epoch. An invalid bridge section clears
// the target; a disabled one keeps it so the diagnostic test send still
// works, but regular handling becomes a no-op.
func (g *Gateway) Apply(cfg config.BridgeConfig) error {
	g.dedup.SetWindow(cfg.DedupWindow())
	g.enabled.Store(cfg.Enabled)

	if !cfg.Enabled && cfg.Dialect == "" {
		g.target.Store(nil)
		g.dispatcher.Apply(nil)
		g.log.Info("bridge disabled")
		return nil
	}

	dialect, err := onebot.ParseDialect(cfg.Dialect)
	if err != nil {
		g.target.Store(nil)
		g.dispatcher.Apply(nil)
		if !cfg.Enabled {
			g.log.Info("bridge disabled")
			return nil
		}
		return err
	}
	style, err := onebot.ParseTitleStyle(cfg.TitleStyle)
	if err != nil {
		g.target.Store(nil)
		g.dispatcher.Apply(nil)
		if !cfg.Enabled {
			return nil
		}
		return err
	}
	if cfg.TitleStyle == "" && dialect.Queued() {
		// The queued bridge brackets its titles upstream; keep that default.
		style = onebot.TitleStyleBracket
	}

	t := &dispatch.Target{
		URL:         cfg.ForwardURL,
		UserID:      cfg.UserID,
		AccessToken: cfg.AccessToken,
		Dialect:     dialect,
		TitleStyle:  style,
		MinInterval: cfg.MinSendInterval(),
	}
	if len(cfg.EnabledCategories) > 0 {
		t.Categories = make(map[string]struct{}, len(cfg.EnabledCategories))
		for _, c := range cfg.EnabledCategories {
			t.Categories[c] = struct{}{}
		}
	}

	g.target.Store(t)
	g.dispatcher.Apply(t)
	g.log.Info("bridge configured",
		logx.String("dialect", string(dialect)),
		logx.String("forward_url", cfg.ForwardURL),
		logx.Bool("enabled", cfg.Enabled),
		logx.Bool("ready", t.Complete()))

	// The queue worker starts once the target is fully configured.
	g.mu.Lock()
	ctx := g.runCtx
	g.mu.Unlock()
	if ctx != nil && cfg.Enabled && dialect.Queued() && t.Complete() {
		g.dispatcher.Start(ctx)
	}
	return nil
}

// Start subscribes the gateway to host notice events. Idempotent.
func (g *Gateway) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	g.mu.Lock()
	if g.unsub != nil {
		g.mu.Unlock()
		return
	}
	g.runCtx = ctx
	ch, unsub := g.bus.Subscribe(64)
	g.unsub = unsub
	g.mu.Unlock()

	go func() {
		for ev := range ch {
			if ev.Type != eventbus.TypeNotice {
				continue
			}
			g.HandleNotification(ev.Data)
		}
	}()

	if t := g.target.Load(); g.enabled.Load() && t != nil && t.Dialect.Queued() && t.Complete() {
		g.dispatcher.Start(ctx)
	}
}

// Shutdown stops event intake and the queue worker. It does not wait for an
// in-flight send; callers needing a bound must impose it externally.
func (g *Gateway) Shutdown() {
	g.mu.Lock()
	unsub := g.unsub
	g.unsub = nil
	g.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	g.dispatcher.Shutdown()
}

// HandleNotification runs one raw host event through the pipeline and
// reports what happened to it. On the queued dialect the outcome is
// StatusQueued and delivery happens later, fire-and-forget.
func (g *Gateway) HandleNotification(raw any) dispatch.Outcome {
	t := g.target.Load()
	if !g.enabled.Load() || t == nil || !t.Complete() {
		// Not an error: the bridge simply isn't ready.
		return dispatch.Outcome{Status: dispatch.StatusNotReady}
	}

	item, err := normalize(raw)
	if err != nil {
		g.log.Warn("notification dropped", logx.Err(err))
		return dispatch.Outcome{Status: dispatch.StatusBadEvent, Detail: err.Error(), Err: err}
	}
	if item.Title == "" && item.Body == "" {
		return dispatch.Outcome{Status: dispatch.StatusSkippedEmpty}
	}

	fp := dedup.Fingerprint(item.Title, item.Body)
	if !g.dedup.ShouldForward(fp, g.now()) {
		g.log.Debug("duplicate notification suppressed", logx.String("title", item.Title))
		g.metrics.Outcome(dispatch.StatusDuplicateSuppressed.String())
		if g.bus != nil {
			now := time.Now()
			g.bus.Publish(eventbus.Event{Type: eventbus.TypeBridgeDeduped, Time: now, Data: dispatch.OutcomeEvent{
				Status: dispatch.StatusDuplicateSuppressed.String(),
				Title:  item.Title,
				At:     now,
			}})
		}
		return dispatch.Outcome{Status: dispatch.StatusDuplicateSuppressed}
	}

	g.log.Info("forwarding notification", logx.String("title", item.Title), logx.String("category", item.Category))

	if t.Dialect.Queued() {
		item.EnqueuedAt = g.now()
		g.dispatcher.Enqueue(item)
		return dispatch.Outcome{Status: dispatch.StatusQueued}
	}
	return g.sender.Send(g.ctx(), *t, item)
}

// TestSend delivers a canned message synchronously, bypassing the dedup and
// category gates but not the configuration-completeness gate.
func (g *Gateway) TestSend(ctx context.Context) TestResult {
	t := g.target.Load()
	if t == nil || !t.Complete() {
		return TestResult{Success: false, Message: "bridge is not fully configured"}
	}

	tt := *t
	tt.Categories = nil // the diagnostic path ignores category filtering

	out := g.sender.Send(ctx, tt, dispatch.Item{Title: testTitle, Body: testBody})
	if out.Status == dispatch.StatusSent {
		return TestResult{Success: true, Message: "test message delivered"}
	}
	msg := out.Detail
	if msg == "" {
		msg = out.Status.String()
	}
	return TestResult{Success: false, Message: msg}
}

func (g *Gateway) ctx() context.Context {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.runCtx != nil {
		return g.runCtx
	}
	return context.Background()
}
