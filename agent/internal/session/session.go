package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/redmetrics/redmetrics-go/agent/internal/config"
	"github.com/redmetrics/redmetrics-go/agent/internal/security"
	"github.com/redmetrics/redmetrics-go/internal/transport"
	"github.com/redmetrics/redmetrics-go/pkg/redmetrics"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0

	// disconnectTimeout bounds the final flush of a replaced or stopped connection.
	disconnectTimeout = 15 * time.Second
)

// Factory builds a Connection for cfg. opts carry the Session's own hooks and
// must be applied.
type Factory func(cfg config.ConnectionConfig, opts ...redmetrics.Option) (*redmetrics.Connection, error)

// DefaultFactory builds an HTTP transport from cfg's auth and TLS settings.
func DefaultFactory(cfg config.ConnectionConfig, opts ...redmetrics.Option) (*redmetrics.Connection, error) {
	t, err := transport.New(cfg.TransportOptions())
	if err != nil {
		return nil, fmt.Errorf("session: build transport: %w", err)
	}
	return redmetrics.New(append([]redmetrics.Option{redmetrics.WithTransport(t)}, opts...)...), nil
}

// Status is a point-in-time view of the session.
type Status struct {
	Stats          redmetrics.Stats
	BaseURL        string
	GameVersionID  string
	BufferingDelay time.Duration
	Since          time.Time
	LastFlush      *redmetrics.FlushReport
	Cert           *security.CertStatus
}

// CertChecker inspects the collector's TLS certificate. It returns nil when
// the target is not served over TLS.
type CertChecker func(ctx context.Context, cfg config.ConnectionConfig) *security.CertStatus

// DefaultCertChecker dials the collector with the connection's TLS settings.
func DefaultCertChecker(ctx context.Context, cfg config.ConnectionConfig) *security.CertStatus {
	return security.Check(ctx, cfg.URL(), cfg.TLS.InsecureSkipVerify)
}

// Option configures a Session.
type Option func(*Session)

// WithFactory replaces DefaultFactory.
func WithFactory(f Factory) Option {
	return func(s *Session) { s.factory = f }
}

// WithFlushHook registers fn to receive every flush report of every
// Connection the Session builds. Hooks run on the flush goroutine.
func WithFlushHook(fn func(redmetrics.FlushReport)) Option {
	return func(s *Session) { s.hooks = append(s.hooks, fn) }
}

// WithCertChecker runs fn after every successful connect. Nil disables the
// check.
func WithCertChecker(fn CertChecker) Option {
	return func(s *Session) { s.checkCert = fn }
}

// WithAutoConnect controls whether Run connects on its own. When false the
// Connection is only connected through the bridge.
func WithAutoConnect(auto bool) Option {
	return func(s *Session) { s.autoConnect = auto }
}

// Session manages the agent's current Connection.
type Session struct {
	factory     Factory
	hooks       []func(redmetrics.FlushReport)
	autoConnect bool
	checkCert   CertChecker
	after       func(time.Duration) <-chan time.Time
	newBackoff  func() *backoff

	reload chan config.ConnectionConfig

	mu        sync.RWMutex
	conn      *redmetrics.Connection
	cfg       config.ConnectionConfig
	since     time.Time
	lastFlush *redmetrics.FlushReport
	cert      *security.CertStatus
}

// New builds the initial Connection for cfg. It does not connect; Run does.
func New(cfg config.ConnectionConfig, opts ...Option) (*Session, error) {
	s := &Session{
		factory:     DefaultFactory,
		autoConnect: true,
		after:       time.After,
		newBackoff:  func() *backoff { return newBackoff(backoffInitial, backoffMax) },
		reload:      make(chan config.ConnectionConfig, 1),
	}
	for _, o := range opts {
		o(s)
	}

	conn, err := s.build(cfg)
	if err != nil {
		return nil, err
	}
	s.conn, s.cfg, s.since = conn, cfg, time.Now()
	return s, nil
}

// Current returns the active Connection.
func (s *Session) Current() *redmetrics.Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

// Config returns the active connection section.
func (s *Session) Config() config.ConnectionConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Status reports the active Connection's counters and target.
func (s *Session) Status() Status {
	s.mu.RLock()
	conn, cfg, since := s.conn, s.cfg, s.since
	var last *redmetrics.FlushReport
	if s.lastFlush != nil {
		r := *s.lastFlush
		last = &r
	}
	var cert *security.CertStatus
	if s.cert != nil {
		c := *s.cert
		cert = &c
	}
	s.mu.RUnlock()

	return Status{
		Stats:          conn.Stats(),
		BaseURL:        cfg.URL(),
		GameVersionID:  cfg.GameVersionID,
		BufferingDelay: cfg.BufferingDelay,
		Since:          since,
		LastFlush:      last,
		Cert:           cert,
	}
}

// Reload queues a new connection section for Run. Only the latest pending
// value is kept.
func (s *Session) Reload(cfg config.ConnectionConfig) {
	for {
		select {
		case s.reload <- cfg:
			return
		default:
			select {
			case <-s.reload:
			default:
			}
		}
	}
}

// Run keeps the current Connection connected and applies reloads until ctx
// is cancelled, then disconnects.
func (s *Session) Run(ctx context.Context) {
	for {
		next, ok := s.serve(ctx)
		if !ok {
			s.disconnect(s.Current())
			return
		}

		conn, err := s.build(next)
		if err != nil {
			slog.Error("session: rebuild failed, keeping previous connection", "err", err)
			continue
		}

		s.mu.Lock()
		old := s.conn
		s.conn, s.cfg, s.since, s.lastFlush, s.cert = conn, next, time.Now(), nil, nil
		s.mu.Unlock()

		s.disconnect(old)
		slog.Info("session: connection replaced", "base_url", next.URL(), "game_version", next.GameVersionID)
	}
}

// serve drives the current Connection until a different config arrives
// (returned with true) or ctx ends (false).
func (s *Session) serve(ctx context.Context) (config.ConnectionConfig, bool) {
	conn, cfg := s.Current(), s.Config()
	bo := s.newBackoff()

	var retry <-chan time.Time
	if s.autoConnect && conn.State() == redmetrics.Disconnected {
		retry = s.after(0)
	}

	for {
		select {
		case <-ctx.Done():
			return cfg, false

		case next := <-s.reload:
			if next.Equal(cfg) {
				slog.Debug("session: connection settings unchanged")
				continue
			}
			return next, true

		case <-retry:
			retry = nil
			err := conn.Connect(ctx, cfg.Config)
			switch {
			case err == nil:
				bo.reset()
				slog.Info("session: connected", "base_url", cfg.URL(), "player", conn.PlayerID())
				if s.checkCert != nil {
					go s.inspect(ctx, conn, cfg)
				}
			case ctx.Err() != nil:
			case errors.Is(err, redmetrics.ErrConfiguration), errors.Is(err, redmetrics.ErrAlreadyConnected):
				slog.Error("session: connect failed, not retrying", "err", err)
			default:
				wait := bo.next()
				slog.Error("session: connect failed, will retry",
					"base_url", cfg.URL(),
					"err", err,
					"retry_in", wait)
				retry = s.after(wait)
			}
		}
	}
}

func (s *Session) build(cfg config.ConnectionConfig) (*redmetrics.Connection, error) {
	return s.factory(cfg, redmetrics.WithFlushHook(s.observe))
}

func (s *Session) observe(r redmetrics.FlushReport) {
	s.mu.Lock()
	s.lastFlush = &r
	s.mu.Unlock()
	for _, fn := range s.hooks {
		fn(r)
	}
}

// inspect records the certificate status unless conn was replaced meanwhile.
func (s *Session) inspect(ctx context.Context, conn *redmetrics.Connection, cfg config.ConnectionConfig) {
	cs := s.checkCert(ctx, cfg)
	if cs == nil {
		return
	}
	switch cs.Status {
	case security.StatusExpired, security.StatusExpiring:
		slog.Warn("session: collector certificate", "status", cs.Status, "days_left", cs.DaysLeft)
	case security.StatusUnreachable:
		slog.Warn("session: collector certificate check failed", "base_url", cs.Endpoint)
	}

	s.mu.Lock()
	if s.conn == conn {
		s.cert = cs
	}
	s.mu.Unlock()
}

func (s *Session) disconnect(conn *redmetrics.Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	if err := conn.Disconnect(ctx); err != nil {
		slog.Warn("session: disconnect did not finish cleanly", "err", err)
	}
}

// --- bridge.Client ----------------------------------------------------------

// Connect connects the current Connection with cfg.
func (s *Session) Connect(ctx context.Context, cfg redmetrics.Config) error {
	return s.Current().Connect(ctx, cfg)
}

// Disconnect disconnects the current Connection. Run keeps going and will
// not reconnect it until the next reload.
func (s *Session) Disconnect(ctx context.Context) error {
	return s.Current().Disconnect(ctx)
}

// PostEvent queues an event on the current Connection.
func (s *Session) PostEvent(rec redmetrics.Record) *redmetrics.Delivery {
	return s.Current().PostEvent(rec)
}

// PostSnapshot queues a snapshot on the current Connection.
func (s *Session) PostSnapshot(rec redmetrics.Record) *redmetrics.Delivery {
	return s.Current().PostSnapshot(rec)
}

// UpdatePlayer updates the player on the current Connection.
func (s *Session) UpdatePlayer(ctx context.Context, info redmetrics.PlayerInfo) (redmetrics.PlayerInfo, error) {
	return s.Current().UpdatePlayer(ctx, info)
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

func newBackoff(initial, ceiling time.Duration) *backoff {
	return &backoff{initial: initial, max: ceiling, current: initial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > b.max {
		b.current = b.max
	}
	return d
}

func (b *backoff) reset() {
	b.current = b.initial
}
