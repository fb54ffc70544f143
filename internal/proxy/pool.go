// Package proxy provides the outbound proxy pool: region-aware selection,
// health-based suspension and request argument injection.
package proxy

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/jonesrussell/linkscan/internal/logger"
	"github.com/jonesrussell/linkscan/internal/storage"
)

const (
	// defaultFailureThreshold is the failure count that opens the circuit.
	defaultFailureThreshold = 3
	// defaultCooldown is how long a suspended proxy stays out of rotation.
	defaultCooldown = 10 * time.Minute

	healthKeyPrefix = "proxy:health:"
	cursorKeyPrefix = "proxy:cursor:"
)

// Entry is one configured proxy. Static configuration, read-only during a run.
type Entry struct {
	ID          string            `json:"id"`
	URL         string            `json:"url"`
	Regions     []string          `json:"regions"`
	Priority    int               `json:"priority"`
	Headers     map[string]string `json:"headers"`
	Credentials string            `json:"credentials,omitempty"`
}

// Health tracks per-proxy failure state. Mutated after every use.
type Health struct {
	FailureCount   int       `json:"failure_count"`
	SuspendedUntil time.Time `json:"suspended_until,omitempty"`
}

// Strategy configures region routing: exact region first, then the mapped
// fallback chain, then the default chain.
type Strategy struct {
	Mappings  map[string][]string
	Fallbacks []string
}

// ReqContext describes the outbound request a proxy is being acquired for.
type ReqContext struct {
	Host   string
	Region string
}

// Selection is an acquired proxy.
type Selection struct {
	Entry Entry
}

// Config configures a Pool.
type Config struct {
	Entries          []Entry
	Strategy         Strategy
	FailureThreshold int
	Cooldown         time.Duration
}

// Pool selects proxies by region and priority with persisted round-robin
// cursors, so rotation stays consistent across process restarts.
type Pool struct {
	entries          []Entry
	strategy         Strategy
	failureThreshold int
	cooldown         time.Duration
	store            storage.OptionStore
	log              logger.Logger
	now              func() time.Time
}

// NewPool creates a proxy pool backed by store for cursor and health state.
func NewPool(cfg Config, store storage.OptionStore, log logger.Logger) *Pool {
	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = defaultFailureThreshold
	}

	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}

	return &Pool{
		entries:          cfg.Entries,
		strategy:         cfg.Strategy,
		failureThreshold: threshold,
		cooldown:         cooldown,
		store:            store,
		log:              log,
		now:              time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (p *Pool) SetClock(now func() time.Time) {
	p.now = now
}

// Acquire selects an eligible proxy for the request context. Regions are
// tried in order: exact match, configured fallback chain for that region,
// then the default chain. Within a region the highest-priority tier is used
// and equal-priority peers rotate round-robin. Returns nil when every
// candidate is suspended or no region matches.
func (p *Pool) Acquire(ctx context.Context, req ReqContext) (*Selection, error) {
	for _, region := range p.regionChain(req.Region) {
		candidates, err := p.eligible(ctx, region)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			continue
		}

		entry, err := p.rotate(ctx, region, candidates)
		if err != nil {
			return nil, err
		}
		return &Selection{Entry: entry}, nil
	}

	return nil, nil
}

// regionChain builds the ordered list of regions to try.
func (p *Pool) regionChain(region string) []string {
	var chain []string
	seen := make(map[string]bool)

	add := func(r string) {
		if r != "" && !seen[r] {
			seen[r] = true
			chain = append(chain, r)
		}
	}

	add(region)
	for _, r := range p.strategy.Mappings[region] {
		add(r)
	}
	for _, r := range p.strategy.Fallbacks {
		add(r)
	}

	return chain
}

// eligible returns non-suspended proxies serving region, restricted to the
// highest priority present.
func (p *Pool) eligible(ctx context.Context, region string) ([]Entry, error) {
	var matching []Entry
	for _, entry := range p.entries {
		if !serves(entry, region) {
			continue
		}

		health, err := p.loadHealth(ctx, entry.ID)
		if err != nil {
			return nil, err
		}
		if health.SuspendedUntil.After(p.now()) {
			continue
		}

		matching = append(matching, entry)
	}

	if len(matching) == 0 {
		return nil, nil
	}

	top := matching[0].Priority
	for _, entry := range matching[1:] {
		if entry.Priority > top {
			top = entry.Priority
		}
	}

	tier := matching[:0:0]
	for _, entry := range matching {
		if entry.Priority == top {
			tier = append(tier, entry)
		}
	}

	sort.Slice(tier, func(i, j int) bool { return tier[i].ID < tier[j].ID })
	return tier, nil
}

func serves(entry Entry, region string) bool {
	for _, r := range entry.Regions {
		if r == region {
			return true
		}
	}
	return false
}

// rotate advances the persisted cursor for (region, priority tier) and picks
// the next peer.
func (p *Pool) rotate(ctx context.Context, region string, tier []Entry) (Entry, error) {
	key := cursorKeyPrefix + region + ":" + strconv.Itoa(tier[0].Priority)
	cursor, err := p.store.Increment(ctx, key, 0)
	if err != nil {
		return Entry{}, fmt.Errorf("advance proxy cursor: %w", err)
	}
	return tier[int((cursor-1)%int64(len(tier)))], nil
}

// ReportOutcome records the result of using a proxy. Failures past the
// threshold suspend the proxy until the cooldown elapses; success resets the
// counter.
func (p *Pool) ReportOutcome(ctx context.Context, proxyID string, success bool, at time.Time) error {
	health, err := p.loadHealth(ctx, proxyID)
	if err != nil {
		return err
	}

	if success {
		health = Health{}
	} else {
		health.FailureCount++
		if health.FailureCount >= p.failureThreshold {
			health.SuspendedUntil = at.Add(p.cooldown)
			p.log.Warn("proxy suspended",
				logger.String("proxy_id", proxyID),
				logger.Int("failure_count", health.FailureCount),
				logger.Time("suspended_until", health.SuspendedUntil))
		}
	}

	return p.saveHealth(ctx, proxyID, health)
}

func (p *Pool) loadHealth(ctx context.Context, proxyID string) (Health, error) {
	raw, ok, err := p.store.Get(ctx, healthKeyPrefix+proxyID)
	if err != nil {
		return Health{}, fmt.Errorf("load proxy health: %w", err)
	}
	if !ok {
		return Health{}, nil
	}

	var health Health
	if err := json.Unmarshal([]byte(raw), &health); err != nil {
		return Health{}, fmt.Errorf("decode proxy health: %w", err)
	}
	return health, nil
}

func (p *Pool) saveHealth(ctx context.Context, proxyID string, health Health) error {
	data, err := json.Marshal(health)
	if err != nil {
		return fmt.Errorf("encode proxy health: %w", err)
	}
	if err := p.store.Set(ctx, healthKeyPrefix+proxyID, string(data), 0); err != nil {
		return fmt.Errorf("save proxy health: %w", err)
	}
	return nil
}

// Args carries outbound request arguments across the transport
// representations a caller might use.
type Args struct {
	Headers       map[string]string
	CurlOptions   map[string]string
	StreamContext map[string]any
}

// InjectProxyArguments merges the selected proxy's URL, custom headers and
// basic credentials into base across all three representations. The target
// URL is accepted for parity with the transport call sites; it rides along
// in the request itself.
func InjectProxyArguments(_ string, base Args, sel *Selection) Args {
	if sel == nil {
		return base
	}

	out := Args{
		Headers:       make(map[string]string, len(base.Headers)+len(sel.Entry.Headers)+1),
		CurlOptions:   make(map[string]string, len(base.CurlOptions)+2),
		StreamContext: make(map[string]any, len(base.StreamContext)+2),
	}
	for k, v := range base.Headers {
		out.Headers[k] = v
	}
	for k, v := range base.CurlOptions {
		out.CurlOptions[k] = v
	}
	for k, v := range base.StreamContext {
		out.StreamContext[k] = v
	}

	for k, v := range sel.Entry.Headers {
		out.Headers[k] = v
	}

	out.CurlOptions["proxy"] = sel.Entry.URL
	out.StreamContext["proxy"] = sel.Entry.URL
	out.StreamContext["request_fulluri"] = true

	if sel.Entry.Credentials != "" {
		auth := "Basic " + base64.StdEncoding.EncodeToString([]byte(sel.Entry.Credentials))
		out.Headers["Proxy-Authorization"] = auth
		out.CurlOptions["proxyuserpwd"] = sel.Entry.Credentials
	}

	return out
}
