package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"merchantbridge/internal/upstream"
)

const (
	pollingPath          = "/events:polling"
	acknowledgmentPath   = "/events/acknowledgment"
	pollingMerchantsHdr  = "X-Polling-Merchants"
	stateKeySeenEventIDs = "processed_events"
	stateKeyPendingAcks  = "pending_acks"
)

// Event is one upstream notification. Raw keeps the full payload for
// handlers that need fields beyond the envelope.
type Event struct {
	ID            string          `json:"id"`
	Code          string          `json:"code"`
	CorrelationID string          `json:"correlationId"`
	OrderID       string          `json:"orderId"`
	Raw           json.RawMessage `json:"-"`
}

// ReferenceID returns the order this event refers to, whichever field the
// upstream populated.
func (e Event) ReferenceID() string {
	if e.CorrelationID != "" {
		return e.CorrelationID
	}
	return e.OrderID
}

// Client issues authenticated upstream calls.
type Client interface {
	Do(ctx context.Context, req upstream.Request) (*upstream.Response, error)
}

// StateStore persists the seen-log and pending acknowledgments between runs.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, bool, error)
	SetState(ctx context.Context, key, value string) error
	DeleteState(ctx context.Context, key string) error
}

// Handler consumes one deduplicated event. A failing handler does not stop
// the remaining events of the tick or their acknowledgment.
type Handler func(ctx context.Context, ev Event) error

// Options configure a Poller.
type Options struct {
	Client Client
	Store  StateStore
	// MerchantID resolves the merchant scoping the event feed at each tick.
	MerchantID func(ctx context.Context) string
	Handler    Handler
	BatchSize  int
	SeenLogCap int
	Logger     *slog.Logger
}

// Status is a dashboard snapshot of the poller.
type Status struct {
	Running     bool      `json:"running"`
	LastPollAt  time.Time `json:"lastPollAt"`
	SeenCount   int       `json:"seenCount"`
	PendingAcks int       `json:"pendingAcks"`
	Dispatched  uint64    `json:"dispatched"`
}

// Poller fetches pending events, filters out already-seen ids, dispatches the
// rest to the handler and acknowledges them in bounded batches. Ticks never
// overlap; every failure inside a tick is logged and retried on a later tick
// because the upstream re-delivers events until they are acknowledged.
type Poller struct {
	client     Client
	store      StateStore
	merchantID func(ctx context.Context) string
	handler    Handler
	batchSize  int
	log        *slog.Logger

	mu         sync.Mutex
	seen       *seenLog
	pending    []string
	restored   bool
	running    bool
	cancel     context.CancelFunc
	done       chan struct{}
	lastPoll   time.Time
	dispatched uint64
}

// New builds a Poller.
func New(opts Options) *Poller {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	batch := opts.BatchSize
	if batch <= 0 || batch > 2000 {
		batch = 2000
	}
	handler := opts.Handler
	if handler == nil {
		handler = func(context.Context, Event) error { return nil }
	}
	merchantID := opts.MerchantID
	if merchantID == nil {
		merchantID = func(context.Context) string { return "" }
	}
	return &Poller{
		client:     opts.Client,
		store:      opts.Store,
		merchantID: merchantID,
		handler:    handler,
		batchSize:  batch,
		log:        log,
		seen:       newSeenLog(opts.SeenLogCap),
	}
}

// Start begins periodic ticks: one immediately, then every interval until
// Stop. Starting a running poller is a no-op.
func (p *Poller) Start(interval time.Duration) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.running = true
	p.cancel = cancel
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	go func() {
		defer close(done)
		p.Tick(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Tick(ctx)
			}
		}
	}()
}

// Stop cancels future ticks and waits for an in-flight tick to wind down.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	cancel()
	<-done
}

// Status reports the current poller state.
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{
		Running:     p.running,
		LastPollAt:  p.lastPoll,
		SeenCount:   p.seen.Len(),
		PendingAcks: len(p.pending),
		Dispatched:  p.dispatched,
	}
}

// Tick runs one poll cycle: fetch, dedupe, dispatch, acknowledge. It never
// returns an error; failures are logged and the work is retried next tick.
func (p *Poller) Tick(ctx context.Context) {
	p.restoreState(ctx)

	p.mu.Lock()
	p.lastPoll = time.Now()
	p.mu.Unlock()

	merchantID := p.merchantID(ctx)
	if merchantID == "" {
		p.log.WarnContext(ctx, "merchant id not configured, skipping event poll")
		return
	}

	incoming, err := p.fetch(ctx, merchantID)
	if err != nil {
		p.log.WarnContext(ctx, "event poll failed", "error", err)
		return
	}

	ackIDs := p.dispatch(ctx, incoming)
	p.acknowledge(ctx, ackIDs)
	p.persistState(ctx)
}

func (p *Poller) fetch(ctx context.Context, merchantID string) ([]Event, error) {
	header := http.Header{}
	header.Set(pollingMerchantsHdr, merchantID)

	resp, err := p.client.Do(ctx, upstream.Request{Method: http.MethodGet, Path: pollingPath, Header: header})
	if err != nil {
		return nil, err
	}
	// No pending events arrives as 204 or an empty body.
	if len(resp.Body) == 0 {
		return nil, nil
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(resp.Body, &raws); err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(raws))
	for _, raw := range raws {
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			p.log.WarnContext(ctx, "skipping undecodable event", "error", err)
			continue
		}
		ev.Raw = raw
		events = append(events, ev)
	}
	return events, nil
}

// dispatch hands unseen events to the handler in received order and returns
// their ids for acknowledgment. Duplicates are discarded silently.
func (p *Poller) dispatch(ctx context.Context, incoming []Event) []string {
	var ackIDs []string
	for _, ev := range incoming {
		if ev.ID == "" {
			continue
		}

		p.mu.Lock()
		duplicate := p.seen.Seen(ev.ID)
		if !duplicate {
			p.seen.Add(ev.ID)
		}
		p.mu.Unlock()

		if duplicate {
			continue
		}

		ackIDs = append(ackIDs, ev.ID)
		p.invokeHandler(ctx, ev)
	}
	return ackIDs
}

// invokeHandler isolates one event's handler so a failure or panic cannot
// stop the rest of the tick.
func (p *Poller) invokeHandler(ctx context.Context, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			p.log.ErrorContext(ctx, "event handler panicked", "event_id", ev.ID, "code", ev.Code, "panic", r)
		}
	}()

	if err := p.handler(ctx, ev); err != nil {
		p.log.ErrorContext(ctx, "event handler failed", "event_id", ev.ID, "code", ev.Code, "error", err)
		return
	}

	p.mu.Lock()
	p.dispatched++
	p.mu.Unlock()
}

// acknowledge confirms processed ids upstream, carried-over failures first, in
// batches no larger than the upstream cap. A failed batch is kept for the
// next tick; nothing in it is re-dispatched because the seen-log already
// holds the ids.
func (p *Poller) acknowledge(ctx context.Context, newIDs []string) {
	p.mu.Lock()
	ids := append(append([]string(nil), p.pending...), newIDs...)
	p.pending = p.pending[:0]
	p.mu.Unlock()

	if len(ids) == 0 {
		return
	}

	var failed []string
	for start := 0; start < len(ids); start += p.batchSize {
		end := min(start+p.batchSize, len(ids))
		batch := ids[start:end]

		if err := p.sendAcknowledgment(ctx, batch); err != nil {
			p.log.WarnContext(ctx, "acknowledgment batch failed, will retry", "count", len(batch), "error", err)
			failed = append(failed, batch...)
		}
	}

	if len(failed) > 0 {
		p.mu.Lock()
		p.pending = append(p.pending, failed...)
		p.mu.Unlock()
	}
}

func (p *Poller) sendAcknowledgment(ctx context.Context, batch []string) error {
	body, err := json.Marshal(map[string][]string{"eventIds": batch})
	if err != nil {
		return err
	}
	header := http.Header{}
	header.Set("Content-Type", "application/json")

	_, err = p.client.Do(ctx, upstream.Request{
		Method: http.MethodPost,
		Path:   acknowledgmentPath,
		Header: header,
		Body:   body,
	})
	return err
}

// restoreState loads the persisted seen-log and pending acks once.
func (p *Poller) restoreState(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.restored {
		return
	}
	p.restored = true

	if raw, ok, err := p.store.GetState(ctx, stateKeySeenEventIDs); err == nil && ok {
		var ids []string
		if err := json.Unmarshal([]byte(raw), &ids); err == nil {
			p.seen.Restore(ids)
		}
	}
	if raw, ok, err := p.store.GetState(ctx, stateKeyPendingAcks); err == nil && ok {
		var ids []string
		if err := json.Unmarshal([]byte(raw), &ids); err == nil {
			p.pending = ids
		}
	}
}

// persistState snapshots the seen-log and pending acks. Best effort: a write
// failure only costs redundant handler work after a restart.
func (p *Poller) persistState(ctx context.Context) {
	p.mu.Lock()
	seen := p.seen.Snapshot()
	pending := append([]string(nil), p.pending...)
	p.mu.Unlock()

	if raw, err := json.Marshal(seen); err == nil {
		if err := p.store.SetState(ctx, stateKeySeenEventIDs, string(raw)); err != nil {
			p.log.WarnContext(ctx, "failed to persist seen event ids", "error", err)
		}
	}
	if raw, err := json.Marshal(pending); err == nil {
		if err := p.store.SetState(ctx, stateKeyPendingAcks, string(raw)); err != nil {
			p.log.WarnContext(ctx, "failed to persist pending acknowledgments", "error", err)
		}
	}
}
