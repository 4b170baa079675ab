package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redmetrics/redmetrics-go/agent/internal/config"
	"github.com/redmetrics/redmetrics-go/agent/internal/security"
	"github.com/redmetrics/redmetrics-go/pkg/redmetrics"
)

// fakeCollector answers the collector endpoints in memory.
type fakeCollector struct {
	mu         sync.Mutex
	failStatus int // fail the first N GET /status calls
	statusHits int
	players    int
	events     int
	gameVers   []string
}

func (f *fakeCollector) Do(_ context.Context, method, url string, body, out any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var resp any
	switch {
	case strings.HasSuffix(url, "/status"):
		f.statusHits++
		if f.failStatus > 0 {
			f.failStatus--
			return errors.New("connection refused")
		}
	case strings.Contains(url, "/v1/gameVersion/"):
		f.gameVers = append(f.gameVers, url[strings.LastIndex(url, "/")+1:])
	case method == http.MethodPost && strings.HasSuffix(url, "/v1/player/"):
		f.players++
		resp = map[string]string{"id": fmt.Sprintf("player-%d", f.players)}
	case method == http.MethodPost && strings.HasSuffix(url, "/v1/event/"):
		raw, _ := json.Marshal(body)
		var recs []map[string]any
		_ = json.Unmarshal(raw, &recs)
		f.events += len(recs)
		resp = recs
	case method == http.MethodPost && strings.HasSuffix(url, "/v1/snapshot/"):
		resp = body
	}

	if out == nil || resp == nil {
		return nil
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (f *fakeCollector) snapshot() (statusHits, players, events int, gameVers []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusHits, f.players, f.events, append([]string(nil), f.gameVers...)
}

func connCfg(gv string) config.ConnectionConfig {
	return config.ConnectionConfig{
		Config: redmetrics.Config{
			BaseURL:        "http://collector.test",
			GameVersionID:  gv,
			BufferingDelay: time.Hour,
		},
		Timeout: time.Second,
	}
}

func fakeFactory(fc *fakeCollector) Factory {
	return func(cfg config.ConnectionConfig, opts ...redmetrics.Option) (*redmetrics.Connection, error) {
		if cfg.GameVersionID == "unbuildable" {
			return nil, errors.New("cannot build")
		}
		return redmetrics.New(append([]redmetrics.Option{redmetrics.WithTransport(fc)}, opts...)...), nil
	}
}

// startSession runs a Session with fast backoff and returns a stop func
// that cancels Run and waits for it to return.
func startSession(t *testing.T, s *Session) (stop func()) {
	t.Helper()
	s.newBackoff = func() *backoff { return newBackoff(time.Millisecond, 5*time.Millisecond) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	var once sync.Once
	stop = func() {
		once.Do(func() {
			cancel()
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				t.Error("Run did not return after cancel")
			}
		})
	}
	t.Cleanup(stop)
	return stop
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRun_ConnectsAutomatically(t *testing.T) {
	fc := &fakeCollector{}
	s, err := New(connCfg("gv-1"), WithFactory(fakeFactory(fc)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	startSession(t, s)

	waitFor(t, "connected", func() bool { return s.Current().Connected() })

	st := s.Status()
	if st.Stats.PlayerID != "player-1" {
		t.Errorf("player id: got %q", st.Stats.PlayerID)
	}
	if st.GameVersionID != "gv-1" || st.BaseURL != "http://collector.test" {
		t.Errorf("status target: got %+v", st)
	}
}

func TestRun_ChecksCertificateAfterConnect(t *testing.T) {
	fc := &fakeCollector{}
	checked := make(chan string, 1)
	checker := func(_ context.Context, cfg config.ConnectionConfig) *security.CertStatus {
		checked <- cfg.URL()
		return &security.CertStatus{Endpoint: cfg.URL(), Status: security.StatusExpiring, DaysLeft: 12}
	}
	s, err := New(connCfg("gv-1"), WithFactory(fakeFactory(fc)), WithCertChecker(checker))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Status().Cert != nil {
		t.Fatal("cert status before connect")
	}
	startSession(t, s)

	select {
	case u := <-checked:
		if u != "http://collector.test" {
			t.Errorf("checked url: got %q", u)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("certificate check never ran")
	}
	waitFor(t, "cert status", func() bool { return s.Status().Cert != nil })
	if got := s.Status().Cert; got.Status != security.StatusExpiring || got.DaysLeft != 12 {
		t.Errorf("cert: got %+v", got)
	}
}

func TestRun_RetriesTransientFailures(t *testing.T) {
	fc := &fakeCollector{failStatus: 3}
	s, err := New(connCfg("gv-1"), WithFactory(fakeFactory(fc)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	startSession(t, s)

	waitFor(t, "connected after retries", func() bool { return s.Current().Connected() })
	if hits, _, _, _ := fc.snapshot(); hits != 4 {
		t.Errorf("status hits: got %d, want 4", hits)
	}
}

func TestRun_ConfigurationErrorNotRetried(t *testing.T) {
	fc := &fakeCollector{}
	s, err := New(connCfg(""), WithFactory(fakeFactory(fc)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	startSession(t, s)

	time.Sleep(50 * time.Millisecond)
	if s.Current().State() != redmetrics.Disconnected {
		t.Errorf("state: got %v, want disconnected", s.Current().State())
	}
	if hits, _, _, _ := fc.snapshot(); hits != 0 {
		t.Errorf("status hits: got %d, want 0 (no network traffic)", hits)
	}
}

func TestRun_NoAutoConnect(t *testing.T) {
	fc := &fakeCollector{}
	s, err := New(connCfg("gv-1"), WithFactory(fakeFactory(fc)), WithAutoConnect(false))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	startSession(t, s)

	time.Sleep(30 * time.Millisecond)
	if s.Current().State() != redmetrics.Disconnected {
		t.Fatalf("state: got %v, want disconnected", s.Current().State())
	}

	if err := s.Connect(context.Background(), s.Config().Config); err != nil {
		t.Fatalf("Connect via session: %v", err)
	}
	if !s.Current().Connected() {
		t.Error("expected connected after explicit Connect")
	}
}

func TestReload_ChangedSettingsReplaceConnection(t *testing.T) {
	fc := &fakeCollector{}
	s, err := New(connCfg("gv-1"), WithFactory(fakeFactory(fc)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	startSession(t, s)
	waitFor(t, "first connect", func() bool { return s.Current().Connected() })

	old := s.Current()
	old.PostEvent(redmetrics.Record{"type": "start"})

	s.Reload(connCfg("gv-2"))
	waitFor(t, "replacement connected", func() bool {
		c := s.Current()
		return c != old && c.Connected()
	})

	if old.State() != redmetrics.Disconnected {
		t.Errorf("old connection state: got %v, want disconnected", old.State())
	}
	_, players, events, gvs := fc.snapshot()
	if players != 2 {
		t.Errorf("players created: got %d, want 2", players)
	}
	if events != 1 {
		t.Errorf("old connection should flush on replacement: events %d", events)
	}
	if len(gvs) != 2 || gvs[1] != "gv-2" {
		t.Errorf("game versions checked: got %v", gvs)
	}
	if s.Config().GameVersionID != "gv-2" {
		t.Errorf("active config: got %q", s.Config().GameVersionID)
	}
}

func TestReload_UnchangedKeepsConnection(t *testing.T) {
	fc := &fakeCollector{}
	s, err := New(connCfg("gv-1"), WithFactory(fakeFactory(fc)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	startSession(t, s)
	waitFor(t, "connected", func() bool { return s.Current().Connected() })

	before := s.Current()
	s.Reload(connCfg("gv-1"))
	time.Sleep(30 * time.Millisecond)

	if s.Current() != before {
		t.Error("identical reload must not replace the connection")
	}
	if _, players, _, _ := fc.snapshot(); players != 1 {
		t.Errorf("players created: got %d, want 1", players)
	}
}

func TestReload_BuildFailureKeepsPrevious(t *testing.T) {
	fc := &fakeCollector{}
	s, err := New(connCfg("gv-1"), WithFactory(fakeFactory(fc)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	startSession(t, s)
	waitFor(t, "connected", func() bool { return s.Current().Connected() })

	before := s.Current()
	s.Reload(connCfg("unbuildable"))
	time.Sleep(30 * time.Millisecond)

	if s.Current() != before || !before.Connected() {
		t.Error("failed rebuild must keep the previous connection running")
	}
	if s.Config().GameVersionID != "gv-1" {
		t.Errorf("active config: got %q", s.Config().GameVersionID)
	}
}

func TestRun_StopDisconnectsAndFlushes(t *testing.T) {
	fc := &fakeCollector{}
	var (
		mu      sync.Mutex
		reports []redmetrics.FlushReport
	)
	s, err := New(connCfg("gv-1"),
		WithFactory(fakeFactory(fc)),
		WithFlushHook(func(r redmetrics.FlushReport) {
			mu.Lock()
			reports = append(reports, r)
			mu.Unlock()
		}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stop := startSession(t, s)
	waitFor(t, "connected", func() bool { return s.Current().Connected() })

	d := s.PostEvent(redmetrics.Record{"type": "a"})
	s.PostEvent(redmetrics.Record{"type": "b"})
	stop()

	if s.Current().State() != redmetrics.Disconnected {
		t.Errorf("state after stop: got %v", s.Current().State())
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res, err := d.Wait(ctx)
	if err != nil {
		t.Fatalf("delivery: %v", err)
	}
	if res.Events != 2 {
		t.Errorf("delivered events: got %d, want 2", res.Events)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(reports) != 1 || reports[0].Events != 2 {
		t.Errorf("flush hook reports: got %+v", reports)
	}
	if st := s.Status(); st.LastFlush == nil || st.LastFlush.Events != 2 {
		t.Errorf("status last flush: got %+v", st.LastFlush)
	}
}

func TestNew_FactoryError(t *testing.T) {
	_, err := New(connCfg("unbuildable"), WithFactory(fakeFactory(&fakeCollector{})))
	if err == nil {
		t.Fatal("expected factory error from New")
	}
}

func TestDefaultFactory_BadTransport(t *testing.T) {
	cfg := connCfg("gv-1")
	cfg.Auth = config.AuthConfig{Mode: "mtls", CertFile: "/nonexistent/c.pem", KeyFile: "/nonexistent/k.pem"}
	if _, err := DefaultFactory(cfg); err == nil {
		t.Fatal("expected error for unreadable client certificate")
	}
}

func TestBackoff_GrowsAndCaps(t *testing.T) {
	b := newBackoff(100*time.Millisecond, 400*time.Millisecond)
	wants := []time.Duration{100, 200, 400, 400}
	for i, w := range wants {
		w *= time.Millisecond
		got := b.next()
		lo, hi := w*3/4, w*5/4
		if got < lo || got > hi {
			t.Errorf("step %d: got %v, want within [%v, %v]", i, got, lo, hi)
		}
	}
	b.reset()
	if got := b.next(); got > 125*time.Millisecond {
		t.Errorf("after reset: got %v", got)
	}
}
