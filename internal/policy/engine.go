package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/peagelabs/peage/internal/capability"
)

// CapabilitySource resolves agent IDs to their declared capabilities, used
// for policy defaults.
type CapabilitySource interface {
	Get(id string) (capability.Capability, bool)
	List() []capability.Capability
}

// DailySpend reports an agent's settled spend for the current day.
type DailySpend interface {
	SpentToday(ctx context.Context, agentID string) float64
}

// Reservations is the in-memory reservation ledger the engine reserves
// against. The daily check and the reserve must be one atomic operation.
type Reservations interface {
	ReserveWithin(agentID string, amountUSD, spentTodayUSD, dailyLimitUSD float64) (id string, outstanding float64, ok bool)
	Outstanding(agentID string) float64
}

// DecisionSink receives every decision record, allow and deny alike.
type DecisionSink interface {
	Record(rec DecisionRecord)
}

// PolicyStore is the durable backing for agent policies.
type PolicyStore interface {
	LoadAll(ctx context.Context) ([]*AgentPolicy, error)
	Upsert(ctx context.Context, p *AgentPolicy) error
}

// Defaults are the configured fallback limits applied when a policy is
// created on first access.
type Defaults struct {
	DailyLimitUSD   float64
	PerCallLimitUSD float64
}

// Engine evaluates per-agent policy for prospective paid calls and owns the
// in-memory policy cache. Policies mutate only through Update/SetFrozen and
// are read on every decision.
type Engine struct {
	store        PolicyStore
	caps         CapabilitySource
	spend        DailySpend
	reservations Reservations
	decisions    DecisionSink
	defaults     Defaults

	mu    sync.Mutex
	cache map[string]*AgentPolicy

	degraded sync.Once
	now      func() time.Time
}

// NewEngine creates a policy engine. store may be nil for in-memory-only
// operation (tests, degraded mode).
func NewEngine(store PolicyStore, caps CapabilitySource, spend DailySpend, reservations Reservations, decisions DecisionSink, defaults Defaults) *Engine {
	return &Engine{
		store:        store,
		caps:         caps,
		spend:        spend,
		reservations: reservations,
		decisions:    decisions,
		defaults:     defaults,
		cache:        make(map[string]*AgentPolicy),
		now:          time.Now,
	}
}

// Hydrate loads all persisted policies into the cache. Called once at boot.
func (e *Engine) Hydrate(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	policies, err := e.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("hydrating policy cache: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range policies {
		e.cache[p.AgentID] = p
	}
	slog.Info("policy cache hydrated", "policies", len(policies))
	return nil
}

// GetPolicy returns a copy of the agent's policy, creating it with defaults
// on first access.
func (e *Engine) GetPolicy(agentID string) AgentPolicy {
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.getOrDefaultLocked(agentID)
}

// AllPolicies returns copies of every cached policy plus defaults for
// registered capabilities not yet touched.
func (e *Engine) AllPolicies() []AgentPolicy {
	e.mu.Lock()
	defer e.mu.Unlock()

	seen := make(map[string]struct{}, len(e.cache))
	for id := range e.cache {
		seen[id] = struct{}{}
	}
	for _, c := range e.caps.List() {
		seen[c.ID] = struct{}{}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]AgentPolicy, 0, len(ids))
	for _, id := range ids {
		out = append(out, *e.getOrDefaultLocked(id))
	}
	return out
}

// getOrDefaultLocked returns the cached policy, building capability-derived
// defaults on first access. Must be called with e.mu held.
func (e *Engine) getOrDefaultLocked(agentID string) *AgentPolicy {
	if p, ok := e.cache[agentID]; ok {
		return p
	}

	p := &AgentPolicy{
		AgentID:         agentID,
		DailyLimitUSD:   e.defaults.DailyLimitUSD,
		PerCallLimitUSD: e.defaults.PerCallLimitUSD,
	}
	if c, ok := e.caps.Get(agentID); ok {
		// The per-call ceiling must admit the capability's own price.
		if c.PriceUSD > p.PerCallLimitUSD {
			p.PerCallLimitUSD = c.PriceUSD
		}
		p.AllowedEndpoints = append([]string(nil), c.Prefixes...)
		if c.Payee != "" {
			p.AllowedPayees = []string{c.Payee}
		}
	}
	e.cache[agentID] = p
	return p
}

// Update applies a partial policy patch, persists the result and returns it.
// Persistence failure degrades to cache-only (logged once, non-fatal).
func (e *Engine) Update(ctx context.Context, agentID string, in UpdatePolicyInput, updatedBy string) AgentPolicy {
	e.mu.Lock()
	p := e.getOrDefaultLocked(agentID)

	if in.Frozen != nil {
		p.Frozen = *in.Frozen
	}
	if in.DailyLimitUSD != nil {
		p.DailyLimitUSD = *in.DailyLimitUSD
	}
	if in.PerCallLimitUSD != nil {
		p.PerCallLimitUSD = *in.PerCallLimitUSD
	}
	if in.AllowedEndpoints != nil {
		p.AllowedEndpoints = append([]string(nil), (*in.AllowedEndpoints)...)
	}
	if in.AllowedPayees != nil {
		p.AllowedPayees = append([]string(nil), (*in.AllowedPayees)...)
	}
	p.UpdatedAt = e.now().UTC()
	p.UpdatedBy = updatedBy
	snapshot := *p
	e.mu.Unlock()

	e.persist(ctx, &snapshot)
	return snapshot
}

// SetFrozen freezes or unfreezes an agent.
func (e *Engine) SetFrozen(ctx context.Context, agentID string, frozen bool, updatedBy string) AgentPolicy {
	return e.Update(ctx, agentID, UpdatePolicyInput{Frozen: &frozen}, updatedBy)
}

func (e *Engine) persist(ctx context.Context, p *AgentPolicy) {
	if e.store == nil {
		return
	}
	if err := e.store.Upsert(ctx, p); err != nil {
		e.degraded.Do(func() {
			slog.Error("policy store unreachable, policies held in memory only", "error", err)
		})
		slog.Warn("failed to persist policy", "agent_id", p.AgentID)
	}
}

// Evaluate decides one prospective paid call. Checks run in fixed order and
// short-circuit on the first failure: frozen, endpoint allowlist, per-call
// limit, payee allowlist, daily limit. On pass the quoted price is reserved
// atomically with the daily check and the reservation id returned.
//
// Endpoint allowlisting is prefix-based: an entry like "/capability/oracle/"
// authorizes every sub-path under it. This is intentionally coarse — it
// grants route families, not exact paths — and any tightening belongs in
// policy data, not here.
//
// Every decision, allow or deny, is recorded with the spent/reserved/
// remaining snapshot it was made against.
func (e *Engine) Evaluate(ctx context.Context, in EvaluateInput) Decision {
	policy := e.GetPolicy(in.AgentID)

	// Settled spend comes from the durable log; reservations cover the lag
	// between this read and the reserve below.
	spentToday := e.spend.SpentToday(ctx, in.AgentID)

	deny := func(code, reason string) Decision {
		reserved := e.reservations.Outstanding(in.AgentID)
		d := Decision{
			Allowed:           false,
			Code:              code,
			Reason:            reason,
			SpentTodayUSD:     spentToday,
			ReservedUSD:       reserved,
			RemainingDailyUSD: remaining(policy.DailyLimitUSD, spentToday, reserved),
		}
		e.record(in, d)
		return d
	}

	if policy.Frozen {
		return deny(CodeFrozen, fmt.Sprintf("agent %q is frozen", in.AgentID))
	}

	if !endpointAllowed(in.Endpoint, policy.AllowedEndpoints) {
		return deny(CodeEndpoint, fmt.Sprintf("endpoint %q is not in the allowlist", in.Endpoint))
	}

	if in.QuotedPriceUSD > policy.PerCallLimitUSD {
		return deny(CodePerCall, fmt.Sprintf(
			"quoted price $%.2f exceeds per-call limit $%.2f",
			in.QuotedPriceUSD, policy.PerCallLimitUSD))
	}

	if len(policy.AllowedPayees) > 0 && !payeeAllowed(in.Payee, policy.AllowedPayees) {
		return deny(CodePayee, fmt.Sprintf("payee %q is not in the allowlist", in.Payee))
	}

	reservationID, outstanding, ok := e.reservations.ReserveWithin(
		in.AgentID, in.QuotedPriceUSD, spentToday, policy.DailyLimitUSD)
	if !ok {
		return deny(CodeDaily, fmt.Sprintf(
			"daily limit $%.2f would be exceeded: $%.2f settled + $%.2f reserved + $%.2f quoted",
			policy.DailyLimitUSD, spentToday, outstanding, in.QuotedPriceUSD))
	}

	d := Decision{
		Allowed:           true,
		Code:              CodeAllowed,
		Reason:            "within policy",
		ReservationID:     reservationID,
		SpentTodayUSD:     spentToday,
		ReservedUSD:       outstanding,
		RemainingDailyUSD: remaining(policy.DailyLimitUSD, spentToday, outstanding+in.QuotedPriceUSD),
	}
	e.record(in, d)
	return d
}

func (e *Engine) record(in EvaluateInput, d Decision) {
	if e.decisions == nil {
		return
	}
	decision := "deny"
	if d.Allowed {
		decision = "allow"
	}
	e.decisions.Record(DecisionRecord{
		TraceID:           in.TraceID,
		SessionID:         in.SessionID,
		AgentID:           in.AgentID,
		Endpoint:          in.Endpoint,
		QuotedPriceUSD:    in.QuotedPriceUSD,
		Decision:          decision,
		Code:              d.Code,
		Reason:            d.Reason,
		SpentTodayUSD:     d.SpentTodayUSD,
		ReservedUSD:       d.ReservedUSD,
		RemainingDailyUSD: d.RemainingDailyUSD,
		BudgetBeforeUSD:   in.BudgetBeforeUSD,
		CreatedAt:         e.now().UTC(),
	})
}

func remaining(limit, spent, reserved float64) float64 {
	r := limit - spent - reserved
	if r < 0 {
		return 0
	}
	return r
}

// endpointAllowed reports whether the normalized endpoint path starts with
// any allowlisted prefix. Matching is case-insensitive and ignores the query
// string.
func endpointAllowed(endpoint string, prefixes []string) bool {
	path := normalizePath(endpoint)
	for _, prefix := range prefixes {
		if strings.HasPrefix(path, strings.ToLower(prefix)) {
			return true
		}
	}
	return false
}

func payeeAllowed(payee string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(a, payee) {
			return true
		}
	}
	return false
}

func normalizePath(endpoint string) string {
	path := endpoint
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	path = strings.ToLower(path)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}
