package redmetrics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/redmetrics/redmetrics-go/internal/queue"
	"github.com/redmetrics/redmetrics-go/internal/transport"
	"github.com/redmetrics/redmetrics-go/pkg/types"
)

// sendTimeout bounds one flush when it runs from the background loop.
const sendTimeout = 10 * time.Second

// Transport issues one JSON request. body is encoded when non-nil and a
// successful response is decoded into out when out is non-nil.
type Transport interface {
	Do(ctx context.Context, method, url string, body, out any) error
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, method, url string, body, out any) error

// Do calls f.
func (f TransportFunc) Do(ctx context.Context, method, url string, body, out any) error {
	return f(ctx, method, url, body, out)
}

// State is the lifecycle stage of a Connection.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// FlushReport describes one completed flush.
type FlushReport struct {
	At        time.Time
	Duration  time.Duration
	Events    int
	Snapshots int
	Err       error
}

// Stats is a point-in-time view of a Connection's counters.
type Stats struct {
	State           State
	PlayerID        string
	QueuedEvents    int
	QueuedSnapshots int
	EventsSent      uint64
	SnapshotsSent   uint64
	Flushes         uint64
	FlushFailures   uint64
	Discarded       uint64
}

// Option configures a Connection.
type Option func(*Connection)

// WithTransport replaces the default HTTP transport.
func WithTransport(t Transport) Option {
	return func(c *Connection) { c.transport = t }
}

// WithLogger sets the logger used for lifecycle and flush messages.
func WithLogger(l *slog.Logger) Option {
	return func(c *Connection) { c.logger = l }
}

// WithClock overrides the clock used for userTime stamps.
func WithClock(now func() time.Time) Option {
	return func(c *Connection) { c.now = now }
}

// WithFlushHook registers fn to be called after every flush that sent data.
// fn runs on the flushing goroutine and must not block.
func WithFlushHook(fn func(FlushReport)) Option {
	return func(c *Connection) { c.onFlush = fn }
}

// Connection buffers records for one collector session.
// All methods are safe for concurrent use.
type Connection struct {
	transport Transport
	logger    *slog.Logger
	now       func() time.Time
	onFlush   func(FlushReport)

	events    *queue.Queue[Record]
	snapshots *queue.Queue[Record]

	// kick wakes an eager (zero-delay) flush loop after a post.
	kick chan struct{}

	// flushMu keeps flushes from overlapping.
	flushMu sync.Mutex

	mu            sync.Mutex
	state         State
	session       uint64 // incremented by every Connect
	cfg           Config
	baseURL       string
	playerID      string
	playerInfo    PlayerInfo
	playerVersion uint64 // incremented by every UpdatePlayer
	pending       *Delivery
	handshake     chan struct{} // closed when the current handshake settles
	cancelHS      context.CancelFunc
	abandoned     bool // Disconnect gave up waiting on the current handshake
	stopLoop      context.CancelFunc
	loopDone      chan struct{}

	eventsSent    atomic.Uint64
	snapshotsSent atomic.Uint64
	flushes       atomic.Uint64
	flushFailures atomic.Uint64
	discarded     atomic.Uint64
}

// New returns a disconnected Connection. Without WithTransport it talks
// HTTP using transport.Default.
func New(opts ...Option) *Connection {
	c := &Connection{
		logger:    slog.Default(),
		now:       time.Now,
		events:    queue.New[Record](),
		snapshots: queue.New[Record](),
		kick:      make(chan struct{}, 1),
		pending:   newDelivery(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.transport == nil {
		c.transport = transport.Default()
	}
	return c
}

// State returns the current lifecycle stage.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether the handshake has completed.
func (c *Connection) Connected() bool {
	return c.State() == Connected
}

// PlayerID returns the server-assigned player id, or "" when not connected.
func (c *Connection) PlayerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playerID
}

// PlayerInfo returns a copy of the local player attributes.
func (c *Connection) PlayerInfo() PlayerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return clonePlayer(c.playerInfo)
}

// Stats returns the connection's counters and queue depths.
func (c *Connection) Stats() Stats {
	c.mu.Lock()
	st := Stats{
		State:           c.state,
		PlayerID:        c.playerID,
		QueuedEvents:    c.events.Len(),
		QueuedSnapshots: c.snapshots.Len(),
	}
	c.mu.Unlock()

	st.EventsSent = c.eventsSent.Load()
	st.SnapshotsSent = c.snapshotsSent.Load()
	st.Flushes = c.flushes.Load()
	st.FlushFailures = c.flushFailures.Load()
	st.Discarded = c.discarded.Load()
	return st
}

// Connect validates cfg, runs the handshake and starts the flush loop.
//
// It returns ErrConfiguration or ErrAlreadyConnected without touching the
// network. Handshake failures wrap ErrConnection, ErrInvalidGameVersion or
// ErrPlayerCreation and leave the Connection disconnected.
func (c *Connection) Connect(ctx context.Context, cfg Config) error {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.state != Disconnected {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrAlreadyConnected, st)
	}
	c.state = Connecting
	c.session++
	c.cfg = cfg
	c.baseURL = cfg.URL()
	base := c.baseURL
	staged := mergePlayer(cfg.Player, c.playerInfo)
	c.playerInfo = clonePlayer(staged)
	version := c.playerVersion
	hs := make(chan struct{})
	c.handshake = hs
	hsCtx, cancel := context.WithCancel(ctx)
	c.cancelHS = cancel
	c.abandoned = false
	c.mu.Unlock()
	defer close(hs)
	defer cancel()

	c.logger.Info("redmetrics: connecting", "base_url", base, "game_version", cfg.GameVersionID)

	id, err := c.runHandshake(hsCtx, base, cfg.GameVersionID, staged)

	c.mu.Lock()
	if c.abandoned {
		c.resetLocked()
		c.mu.Unlock()
		c.logger.Warn("redmetrics: connect abandoned by disconnect", "base_url", base)
		return fmt.Errorf("%w: disconnect requested during handshake", ErrDisconnected)
	}
	if err != nil {
		c.state = Disconnected
		c.playerID = ""
		c.cfg = Config{}
		c.baseURL = ""
		c.cancelHS = nil
		c.mu.Unlock()
		c.logger.Warn("redmetrics: connect failed", "base_url", base, "err", err)
		return err
	}

	c.state = Connected
	c.playerID = id
	c.cancelHS = nil
	c.startLoopLocked(cfg.BufferingDelay)
	changed := c.playerVersion != version
	info := clonePlayer(c.playerInfo)
	c.mu.Unlock()

	c.logger.Info("redmetrics: connected", "base_url", base, "player", id)

	// Player info changed while the handshake was running.
	if changed {
		if err := c.pushPlayer(ctx, base, id, info); err != nil {
			c.logger.Warn("redmetrics: player update after connect failed", "player", id, "err", err)
		}
	}
	return nil
}

func (c *Connection) runHandshake(ctx context.Context, base, gameVersion string, player PlayerInfo) (string, error) {
	if err := c.transport.Do(ctx, http.MethodGet, base+types.PathStatus, nil, nil); err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrConnection, base, err)
	}

	gvURL := base + types.PathGameVersion + url.PathEscape(gameVersion)
	if err := c.transport.Do(ctx, http.MethodGet, gvURL, nil, nil); err != nil {
		return "", fmt.Errorf("%w: %q: %w", ErrInvalidGameVersion, gameVersion, err)
	}

	body, err := wirePlayer(player)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPlayerCreation, err)
	}
	var created types.Player
	if err := c.transport.Do(ctx, http.MethodPost, base+types.PathPlayer, body, &created); err != nil {
		return "", fmt.Errorf("%w: %w", ErrPlayerCreation, err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("%w: server returned an empty player id", ErrPlayerCreation)
	}
	return created.ID, nil
}

// Disconnect stops the flush loop, waits for an in-flight handshake, flushes
// once more when connected and then resets the Connection. Delivery errors
// from the final flush are not returned. It only fails when ctx ends first,
// and the Connection is reset either way: a handshake still running is
// cancelled and its Connect returns ErrDisconnected without starting the
// flush loop.
func (c *Connection) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.stopLoopLocked()
	hs := c.handshake
	session := c.session
	c.mu.Unlock()

	var waitErr error
	if hs != nil {
		select {
		case <-hs:
		case <-ctx.Done():
			waitErr = ctx.Err()
			c.abandonHandshake(session)
		}
	}

	// The handshake may have started a loop after the first stop.
	c.mu.Lock()
	c.stopLoopLocked()
	done := c.loopDone
	connected := c.state == Connected && c.session == session
	c.mu.Unlock()

	if waitErr == nil && done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			waitErr = ctx.Err()
		}
	}

	if waitErr == nil && connected {
		c.flushMu.Lock()
		c.flush(ctx)
		c.flushMu.Unlock()
	}

	c.reset(session)
	if waitErr != nil {
		return fmt.Errorf("redmetrics: disconnect: %w", waitErr)
	}
	return nil
}

// abandonHandshake cancels a handshake Disconnect stopped waiting for. Connect
// resets the Connection when the handshake returns, whatever its outcome.
func (c *Connection) abandonHandshake(session uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != session || c.state != Connecting {
		return
	}
	c.abandoned = true
	if c.cancelHS != nil {
		c.cancelHS()
	}
}

// reset clears the session state unless a newer Connect has started.
func (c *Connection) reset(session uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != session {
		return
	}
	if c.state == Connecting {
		// The abandoned handshake is still returning; Connect resets.
		return
	}
	c.resetLocked()
}

func (c *Connection) resetLocked() {
	c.stopLoopLocked()
	if n := c.events.Reset() + c.snapshots.Reset(); n > 0 {
		c.discarded.Add(uint64(n))
		c.pending.settle(Result{}, ErrDisconnected)
		c.pending = newDelivery()
		c.logger.Warn("redmetrics: discarded unsent records on disconnect", "count", n)
	}

	wasConnected := c.state == Connected
	c.state = Disconnected
	c.playerID = ""
	c.cfg = Config{}
	c.baseURL = ""
	c.playerInfo = nil
	c.playerVersion++
	c.handshake = nil
	c.cancelHS = nil
	c.abandoned = false
	c.loopDone = nil

	if wasConnected {
		c.logger.Info("redmetrics: disconnected")
	}
}

// PostEvent queues an event for the next flush and returns the Delivery
// shared by every record in that flush.
func (c *Connection) PostEvent(event Record) *Delivery {
	return c.post(c.events, event)
}

// PostSnapshot queues a snapshot for the next flush and returns the Delivery
// shared by every record in that flush.
func (c *Connection) PostSnapshot(snapshot Record) *Delivery {
	return c.post(c.snapshots, snapshot)
}

func (c *Connection) post(q *queue.Queue[Record], rec Record) *Delivery {
	r := prepareRecord(rec, c.now())

	c.mu.Lock()
	q.Enqueue(r)
	d := c.pending
	c.mu.Unlock()

	select {
	case c.kick <- struct{}{}:
	default:
	}
	return d
}

// UpdatePlayer replaces the local player attributes. When connected it also
// pushes them to the collector and fails with ErrPlayerUpdate if that fails.
// Before the handshake completes the attributes are only staged; Connect
// sends them.
func (c *Connection) UpdatePlayer(ctx context.Context, info PlayerInfo) (PlayerInfo, error) {
	info = clonePlayer(info)

	c.mu.Lock()
	c.playerInfo = info
	c.playerVersion++
	if c.state != Connected {
		c.mu.Unlock()
		return clonePlayer(info), nil
	}
	base, id := c.baseURL, c.playerID
	c.mu.Unlock()

	if err := c.pushPlayer(ctx, base, id, info); err != nil {
		return nil, err
	}
	return clonePlayer(info), nil
}

func (c *Connection) pushPlayer(ctx context.Context, base, id string, info PlayerInfo) error {
	body, err := wirePlayer(info)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPlayerUpdate, err)
	}
	if err := c.transport.Do(ctx, http.MethodPut, base+types.PathPlayer+url.PathEscape(id), body, nil); err != nil {
		return fmt.Errorf("%w: player %s: %w", ErrPlayerUpdate, id, err)
	}
	return nil
}

// startLoopLocked launches the flush loop. c.mu must be held.
func (c *Connection) startLoopLocked(interval time.Duration) {
	c.stopLoopLocked()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.stopLoop = cancel
	c.loopDone = done
	go c.run(ctx, interval, done)
}

// stopLoopLocked cancels the flush loop if one is running. c.mu must be held.
func (c *Connection) stopLoopLocked() {
	if c.stopLoop != nil {
		c.stopLoop()
		c.stopLoop = nil
	}
}

// run flushes every interval, or after every post when interval is zero,
// until ctx is cancelled.
func (c *Connection) run(ctx context.Context, interval time.Duration, done chan<- struct{}) {
	defer close(done)

	var tick <-chan time.Time
	var kicked <-chan struct{}
	if interval > 0 {
		t := time.NewTicker(interval)
		defer t.Stop()
		tick = t.C
	} else {
		kicked = c.kick
		c.tryFlush()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			c.tryFlush()
		case <-kicked:
			c.tryFlush()
		}
	}
}

// tryFlush runs a flush unless one is already in progress.
func (c *Connection) tryFlush() {
	if !c.flushMu.TryLock() {
		c.logger.Debug("redmetrics: flush already running, skipping tick")
		return
	}
	defer c.flushMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	c.flush(ctx)
}

// flush drains both queues and posts each non-empty batch. It settles the
// Delivery that was current when the queues were drained. c.flushMu must be
// held.
func (c *Connection) flush(ctx context.Context) {
	c.mu.Lock()
	events := c.events.DrainAll()
	snapshots := c.snapshots.DrainAll()
	if len(events) == 0 && len(snapshots) == 0 {
		c.mu.Unlock()
		return
	}
	d := c.pending
	c.pending = newDelivery()
	gameVersion, playerID, base := c.cfg.GameVersionID, c.playerID, c.baseURL
	c.mu.Unlock()

	start := time.Now()
	stampSession(events, gameVersion, playerID)
	stampSession(snapshots, gameVersion, playerID)

	var res Result
	var g errgroup.Group
	if len(events) > 0 {
		g.Go(func() error {
			n, err := c.sendBatch(ctx, base+types.PathEvent, events)
			if err != nil {
				return fmt.Errorf("post events: %w", err)
			}
			res.Events = n
			return nil
		})
	}
	if len(snapshots) > 0 {
		g.Go(func() error {
			n, err := c.sendBatch(ctx, base+types.PathSnapshot, snapshots)
			if err != nil {
				return fmt.Errorf("post snapshots: %w", err)
			}
			res.Snapshots = n
			return nil
		})
	}
	err := g.Wait()

	c.flushes.Add(1)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrDelivery, err)
		c.flushFailures.Add(1)
		c.logger.Error("redmetrics: flush failed",
			"events", len(events), "snapshots", len(snapshots), "err", err)
		d.settle(Result{}, err)
	} else {
		c.eventsSent.Add(uint64(res.Events))
		c.snapshotsSent.Add(uint64(res.Snapshots))
		c.logger.Debug("redmetrics: flushed",
			"events", res.Events, "snapshots", res.Snapshots, "player", playerID)
		d.settle(res, nil)
	}

	if c.onFlush != nil {
		c.onFlush(FlushReport{
			At:        start,
			Duration:  time.Since(start),
			Events:    res.Events,
			Snapshots: res.Snapshots,
			Err:       err,
		})
	}
}

// sendBatch posts recs and returns how many the collector accepted.
func (c *Connection) sendBatch(ctx context.Context, endpoint string, recs []Record) (int, error) {
	var accepted []json.RawMessage
	if err := c.transport.Do(ctx, http.MethodPost, endpoint, recs, &accepted); err != nil {
		return 0, err
	}
	return len(accepted), nil
}
