package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/redmetrics/redmetrics-go/pkg/redmetrics"
)

// Command names accepted by Dispatch.
const (
	CmdConnect      = "connect"
	CmdDisconnect   = "disconnect"
	CmdPostEvent    = "postEvent"
	CmdPostSnapshot = "postSnapshot"
	CmdUpdatePlayer = "updatePlayer"
)

// maxLineSize bounds one command line.
const maxLineSize = 1 << 20

// ErrUnknownCommand is returned for a cmd outside the five operations.
var ErrUnknownCommand = errors.New("bridge: unknown command")

// ErrBadArgument is returned when a command argument is not the expected JSON.
var ErrBadArgument = errors.New("bridge: bad argument")

// Client is the part of a Connection the bridge drives.
type Client interface {
	Connect(ctx context.Context, cfg redmetrics.Config) error
	Disconnect(ctx context.Context) error
	PostEvent(rec redmetrics.Record) *redmetrics.Delivery
	PostSnapshot(rec redmetrics.Record) *redmetrics.Delivery
	UpdatePlayer(ctx context.Context, info redmetrics.PlayerInfo) (redmetrics.PlayerInfo, error)
}

// Command is one line of input to Serve.
type Command struct {
	Cmd  string          `json:"cmd"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Reply is written for every Command.
type Reply struct {
	Cmd    string                `json:"cmd"`
	OK     bool                  `json:"ok"`
	Error  string                `json:"error,omitempty"`
	Player redmetrics.PlayerInfo `json:"player,omitempty"`
}

// Options mirrors the connection options object of the connect command.
type Options struct {
	GameVersionID  string                `json:"gameVersionId"`
	BaseURL        string                `json:"baseUrl"`
	Protocol       string                `json:"protocol"`
	Host           string                `json:"host"`
	Port           int                   `json:"port"`
	BufferingDelay *float64              `json:"bufferingDelay"` // milliseconds
	Player         redmetrics.PlayerInfo `json:"player"`
}

// apply overlays the non-empty options onto base.
func (o Options) apply(base redmetrics.Config) redmetrics.Config {
	cfg := base
	if o.GameVersionID != "" {
		cfg.GameVersionID = o.GameVersionID
	}
	if o.BaseURL != "" {
		cfg.BaseURL = o.BaseURL
	}
	if o.Protocol != "" || o.Host != "" || o.Port != 0 {
		// Explicit endpoint parts win over an inherited base URL.
		if o.BaseURL == "" {
			cfg.BaseURL = ""
		}
		if o.Protocol != "" {
			cfg.Protocol = o.Protocol
		}
		if o.Host != "" {
			cfg.Host = o.Host
		}
		if o.Port != 0 {
			cfg.Port = o.Port
		}
	}
	if o.BufferingDelay != nil {
		cfg.BufferingDelay = time.Duration(*o.BufferingDelay * float64(time.Millisecond))
	}
	if o.Player != nil {
		cfg.Player = o.Player
	}
	return cfg
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithBaseConfig sets the config connect options are overlaid on. It is
// called on every connect so it can follow config reloads.
func WithBaseConfig(fn func() redmetrics.Config) Option {
	return func(b *Bridge) { b.base = fn }
}

// WithLogger sets the logger for command and delivery outcomes.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// Bridge translates JSON commands into Client calls.
type Bridge struct {
	client Client
	base   func() redmetrics.Config
	logger *slog.Logger

	mu       sync.Mutex
	watching map[*redmetrics.Delivery]struct{}
	wg       sync.WaitGroup
}

// New returns a Bridge driving client.
func New(client Client, opts ...Option) *Bridge {
	b := &Bridge{
		client:   client,
		base:     redmetrics.DefaultConfig,
		logger:   slog.Default(),
		watching: make(map[*redmetrics.Delivery]struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Connect parses optionsJSON, overlays it on the base config and connects.
// Empty options connect with the base config as is.
func (b *Bridge) Connect(ctx context.Context, optionsJSON string) error {
	var opts Options
	if optionsJSON != "" {
		if err := decodeArg(optionsJSON, &opts); err != nil {
			return err
		}
	}
	if err := b.client.Connect(ctx, opts.apply(b.base())); err != nil {
		return err
	}
	b.logger.Info("bridge: connected")
	return nil
}

// Disconnect disconnects the client.
func (b *Bridge) Disconnect(ctx context.Context) error {
	if err := b.client.Disconnect(ctx); err != nil {
		return err
	}
	b.logger.Info("bridge: disconnected")
	return nil
}

// PostEvent parses eventJSON and queues it.
func (b *Bridge) PostEvent(eventJSON string) (*redmetrics.Delivery, error) {
	var rec redmetrics.Record
	if err := decodeArg(eventJSON, &rec); err != nil {
		return nil, err
	}
	d := b.client.PostEvent(rec)
	b.watch(d)
	return d, nil
}

// PostSnapshot parses snapshotJSON and queues it.
func (b *Bridge) PostSnapshot(snapshotJSON string) (*redmetrics.Delivery, error) {
	var rec redmetrics.Record
	if err := decodeArg(snapshotJSON, &rec); err != nil {
		return nil, err
	}
	d := b.client.PostSnapshot(rec)
	b.watch(d)
	return d, nil
}

// UpdatePlayer parses playerJSON and updates the player.
func (b *Bridge) UpdatePlayer(ctx context.Context, playerJSON string) (redmetrics.PlayerInfo, error) {
	var info redmetrics.PlayerInfo
	if err := decodeArg(playerJSON, &info); err != nil {
		return nil, err
	}
	return b.client.UpdatePlayer(ctx, info)
}

// Dispatch runs one command line and returns its reply.
func (b *Bridge) Dispatch(ctx context.Context, line []byte) Reply {
	var cmd Command
	if err := json.Unmarshal(line, &cmd); err != nil {
		return Reply{Error: fmt.Errorf("%w: %w", ErrBadArgument, err).Error()}
	}

	reply := Reply{Cmd: cmd.Cmd}
	args := string(cmd.Args)

	var err error
	switch cmd.Cmd {
	case CmdConnect:
		err = b.Connect(ctx, args)
	case CmdDisconnect:
		err = b.Disconnect(ctx)
	case CmdPostEvent:
		_, err = b.PostEvent(args)
	case CmdPostSnapshot:
		_, err = b.PostSnapshot(args)
	case CmdUpdatePlayer:
		reply.Player, err = b.UpdatePlayer(ctx, args)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Cmd)
	}

	if err != nil {
		b.logger.Error("bridge: command failed", "cmd", cmd.Cmd, "err", err)
		reply.Error = err.Error()
		return reply
	}
	reply.OK = true
	return reply
}

// Serve reads commands from r until EOF or ctx is cancelled, writing one
// JSON reply per line to w. Blank lines are skipped.
func (b *Bridge) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	enc := json.NewEncoder(w)

	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := enc.Encode(b.Dispatch(ctx, line)); err != nil {
			return fmt.Errorf("bridge: write reply: %w", err)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("bridge: read commands: %w", err)
	}
	return nil
}

// Wait blocks until every watched delivery has been logged or ctx ends.
func (b *Bridge) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// watch logs the outcome of d once. Records queued between two flushes share
// a Delivery, so one watcher covers all of them. A nil d is ignored.
func (b *Bridge) watch(d *redmetrics.Delivery) {
	if d == nil {
		return
	}
	b.mu.Lock()
	if _, ok := b.watching[d]; ok {
		b.mu.Unlock()
		return
	}
	b.watching[d] = struct{}{}
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		<-d.Done()
		res, err := d.Wait(context.Background())
		if err != nil {
			b.logger.Warn("bridge: delivery failed", "err", err)
		} else {
			b.logger.Info("bridge: delivered", "events", res.Events, "snapshots", res.Snapshots)
		}
		b.mu.Lock()
		delete(b.watching, d)
		b.mu.Unlock()
	}()
}

func decodeArg(s string, v any) error {
	if s == "" || s == "null" {
		return fmt.Errorf("%w: missing JSON argument", ErrBadArgument)
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("%w: %w", ErrBadArgument, err)
	}
	return nil
}
