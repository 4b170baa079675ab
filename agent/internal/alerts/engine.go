package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/redmetrics/redmetrics-go/agent/internal/compute"
	"github.com/redmetrics/redmetrics-go/agent/internal/config"
	"github.com/redmetrics/redmetrics-go/agent/internal/session"
)

const (
	// defaultCooldown applies to rules that leave cooldown unset. A rule that
	// resolves and fires again within its cooldown is not re-announced.
	defaultCooldown = 15 * time.Minute

	// maxHistoryLen caps the resolved alerts kept for Active.
	maxHistoryLen = 200

	// recentWindow is how long a resolved alert stays visible in Active.
	recentWindow = time.Hour

	webhookTimeout = 10 * time.Second
)

// Alert state values.
const (
	StateFiring   = "firing"
	StateResolved = "resolved"
)

// Alert represents a single alert event produced by the rule engine.
type Alert struct {
	ID          string     `json:"id"`
	RuleName    string     `json:"rule_name"`
	BaseURL     string     `json:"base_url"`
	GameVersion string     `json:"game_version_id"`
	Severity    string     `json:"severity"`
	Message     string     `json:"message"`
	Value       float64    `json:"value"`
	FiredAt     time.Time  `json:"fired_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	State       string     `json:"state"`
}

// Engine evaluates alert rules against session statuses and delivers webhook
// notifications when rules fire or resolve.
//
// Engine is safe for concurrent use.
type Engine struct {
	rules    []config.AlertRule
	webhooks []config.WebhookConfig
	client   *http.Client
	now      func() time.Time
	health   func() *compute.Result

	mu       sync.Mutex
	active   map[string]*Alert    // key: rule name; at most one firing alert per rule
	lastFire map[string]time.Time // last fire time per rule (for cooldown)
	history  []*Alert             // recently resolved alerts

	wg sync.WaitGroup // in-flight webhook deliveries
}

// Option configures an Engine.
type Option func(*Engine)

// WithHealth lets rules read the derived delivery health returned by fn.
func WithHealth(fn func() *compute.Result) Option {
	return func(e *Engine) { e.health = fn }
}

// New creates an Engine from the alerts configuration.
// An Engine with no rules is valid; Evaluate becomes a no-op.
func New(cfg config.AlertsConfig, opts ...Option) *Engine {
	e := &Engine{
		rules:    cfg.Rules,
		webhooks: cfg.Webhooks,
		client:   &http.Client{Timeout: webhookTimeout},
		now:      time.Now,
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Run evaluates the status returned by src every interval until ctx is
// cancelled, then waits for pending webhook deliveries. With no rules
// configured it returns immediately. The first evaluation happens one
// interval after Run starts, so a freshly started agent does not alert on
// its initial disconnected state.
func (e *Engine) Run(ctx context.Context, src func() session.Status, interval time.Duration) {
	defer e.wg.Wait()
	if len(e.rules) == 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Evaluate(src())
		}
	}
}

// Evaluate tests all configured rules against st.
// Alerts that fire are stored and webhook delivery is triggered asynchronously.
// Alerts that were firing but whose condition is now false are resolved.
//
// A rule stays firing while its condition holds; it is announced once when it
// fires and once when it resolves. A rule that fires again within its cooldown
// of the previous fire is suppressed until the cooldown elapses.
func (e *Engine) Evaluate(st session.Status) {
	now := e.now()
	var h *compute.Result
	if e.health != nil {
		h = e.health()
	}
	for _, rule := range e.rules {
		fires, value := evalCondition(rule.Condition, st, h)

		e.mu.Lock()
		var notify *Alert
		switch a, firing := e.active[rule.Name]; {
		case fires && !firing:
			cooldown := rule.Cooldown
			if cooldown <= 0 {
				cooldown = defaultCooldown
			}
			if last, ok := e.lastFire[rule.Name]; ok && now.Sub(last) < cooldown {
				break
			}
			sev := rule.Severity
			if sev == "" {
				sev = "warning"
			}
			a = &Alert{
				ID:          uuid.NewString(),
				RuleName:    rule.Name,
				BaseURL:     st.BaseURL,
				GameVersion: st.GameVersionID,
				Severity:    sev,
				Value:       value,
				Message: fmt.Sprintf("[%s] %s fired for %s: %s (value %.2f)",
					sev, rule.Name, st.BaseURL, rule.Condition, value),
				FiredAt: now,
				State:   StateFiring,
			}
			e.active[rule.Name] = a
			e.lastFire[rule.Name] = now
			cp := *a
			notify = &cp
			slog.Warn("alerts: fired", "rule", rule.Name, "value", value, "severity", sev)

		case !fires && firing:
			resolved := now
			a.State = StateResolved
			a.ResolvedAt = &resolved
			delete(e.active, rule.Name)

			e.history = append(e.history, a)
			if len(e.history) > maxHistoryLen {
				e.history = e.history[len(e.history)-maxHistoryLen:]
			}
			cp := *a
			notify = &cp
			slog.Info("alerts: resolved", "rule", rule.Name)
		}
		e.mu.Unlock()

		if notify != nil && len(e.webhooks) > 0 {
			e.wg.Add(1)
			go func() {
				defer e.wg.Done()
				e.deliver(notify)
			}()
		}
	}
}

// Active returns copies of all currently firing alerts plus any alerts
// resolved within the past hour, newest first.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindow)
	out := make([]*Alert, 0, len(e.active))

	for _, a := range e.active {
		cp := *a
		out = append(out, &cp)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	return out
}

// Wait blocks until in-flight webhook deliveries finish. Each delivery is
// bounded by the webhook client's timeout.
func (e *Engine) Wait() {
	e.wg.Wait()
}
