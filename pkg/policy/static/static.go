// Package static provides a default, in-memory Engine implementation: a
// table of glob-matched rules over (principal, resource) pairs. The
// policy.Engine contract treats policy evaluation as a black-box and
// deliberately excludes Cedar-style file parsing, so this implementation
// never parses a Cedar policy; it is a plain rule table.
package static

import (
	"context"
	"fmt"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/olegmukhin/thoughtgate/pkg/logx"
	"github.com/olegmukhin/thoughtgate/pkg/policy"
)

// Rule matches a principal/resource pair by glob pattern against each
// field. An empty pattern (or "*") matches anything. RoleRequired, if set,
// requires the principal to carry that role among Roles.
type Rule struct {
	Name             string
	PrincipalNS      string
	PrincipalApp     string
	PrincipalSA      string
	RoleRequired     string
	ResourceServer   string
	ResourceName     string // matched against tool name or method name
	Decision         policy.Decision
}

func (r Rule) matches(req policy.Request) bool {
	if !globMatch(r.PrincipalNS, req.Principal.Namespace) {
		return false
	}
	if !globMatch(r.PrincipalApp, req.Principal.AppName) {
		return false
	}
	if !globMatch(r.PrincipalSA, req.Principal.ServiceAccount) {
		return false
	}
	if r.RoleRequired != "" && !hasRole(req.Principal.Roles, r.RoleRequired) {
		return false
	}
	if !globMatch(r.ResourceServer, req.Resource.Server) {
		return false
	}
	name := req.Resource.Name
	if req.Resource.Kind == policy.ResourceMcpMethod {
		name = req.Resource.Method
	}
	return globMatch(r.ResourceName, name)
}

func globMatch(pattern, value string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	ok, err := path.Match(pattern, value)
	return err == nil && ok
}

func hasRole(roles []string, want string) bool {
	for _, r := range roles {
		if r == want {
			return true
		}
	}
	return false
}

// RuleSet is an immutable snapshot of rules plus provenance, swapped
// atomically on Reload.
type RuleSet struct {
	Rules  []Rule
	Source policy.Source
}

// Engine is the default policy.Engine implementation.
type Engine struct {
	active atomic.Pointer[RuleSet]
	loader func(ctx context.Context) (*RuleSet, error)
	logger *logx.Logger

	mu              sync.Mutex // guards the counters below
	reloadCount     uint64
	lastReload      *time.Time
	evaluationCount atomic.Uint64
}

// New creates an Engine with an initial rule set and no reload source. Use
// NewWithLoader to support Reload.
func New(rules []Rule, source policy.Source) *Engine {
	e := &Engine{logger: logx.NewLogger("policy-static")}
	e.active.Store(&RuleSet{Rules: rules, Source: source})
	return e
}

// NewWithLoader creates an Engine whose Reload re-invokes loader to fetch a
// fresh RuleSet, matching the configmap_path / environment / embedded
// policy.source options.
func NewWithLoader(loader func(ctx context.Context) (*RuleSet, error)) (*Engine, error) {
	e := &Engine{logger: logx.NewLogger("policy-static"), loader: loader}
	rs, err := loader(context.Background())
	if err != nil {
		return nil, fmt.Errorf("static: initial load: %w", err)
	}
	e.active.Store(rs)
	return e, nil
}

// Evaluate implements policy.Engine.
func (e *Engine) Evaluate(_ context.Context, req policy.Request) (policy.Decision, error) {
	rs := e.active.Load()
	if rs == nil {
		return policy.Decision{}, fmt.Errorf("static: no active rule set")
	}
	e.evaluationCount.Add(1)

	var (
		haveApprove  bool
		minTimeout   time.Duration
		rejectReason string
	)

	for _, rule := range rs.Rules {
		if !rule.matches(req) {
			continue
		}
		switch rule.Decision.Kind {
		case policy.DecisionForward:
			return policy.Forward(), nil
		case policy.DecisionApprove:
			if !haveApprove || rule.Decision.Timeout < minTimeout {
				minTimeout = rule.Decision.Timeout
				haveApprove = true
			}
		case policy.DecisionReject:
			if rejectReason == "" {
				rejectReason = rule.Decision.Reason
			}
		}
	}

	if haveApprove {
		return policy.Approve(minTimeout), nil
	}
	if rejectReason != "" {
		return policy.Reject(rejectReason), nil
	}
	return policy.Reject(fmt.Sprintf("no policy matches principal=%s resource=%s", req.Principal, req.Resource)), nil
}

// Reload implements policy.Engine.
func (e *Engine) Reload(ctx context.Context) error {
	if e.loader == nil {
		return fmt.Errorf("static: engine has no reload source")
	}
	rs, err := e.loader(ctx)
	if err != nil {
		e.logger.Error("reload failed, keeping previous rule set: %v", err)
		return fmt.Errorf("static: reload: %w", err)
	}
	e.active.Store(rs)

	e.mu.Lock()
	e.reloadCount++
	now := time.Now()
	e.lastReload = &now
	e.mu.Unlock()

	e.logger.Info("reloaded %d rules from %v", len(rs.Rules), rs.Source.Kind)
	return nil
}

// Stats implements policy.Engine.
func (e *Engine) Stats() policy.Stats {
	rs := e.active.Load()
	count := 0
	if rs != nil {
		count = len(rs.Rules)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return policy.Stats{
		PolicyCount:     count,
		LastReload:      e.lastReload,
		ReloadCount:     e.reloadCount,
		EvaluationCount: e.evaluationCount.Load(),
	}
}
