package static

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/olegmukhin/thoughtgate/pkg/policy"
)

// yamlRule is the on-disk shape of a Rule, matching policy.source:
// configmap_path.
type yamlRule struct {
	Name           string `yaml:"name"`
	PrincipalNS    string `yaml:"principal_namespace"`
	PrincipalApp   string `yaml:"principal_app"`
	PrincipalSA    string `yaml:"principal_service_account"`
	RoleRequired   string `yaml:"role_required"`
	ResourceServer string `yaml:"resource_server"`
	ResourceName   string `yaml:"resource_name"`
	Decision       string `yaml:"decision"` // "forward" | "approve" | "reject"
	Timeout        string `yaml:"timeout,omitempty"`
	Reason         string `yaml:"reason,omitempty"`
}

type yamlFile struct {
	Rules []yamlRule `yaml:"rules"`
}

func (r yamlRule) toRule() (Rule, error) {
	var decision policy.Decision
	switch r.Decision {
	case "forward":
		decision = policy.Forward()
	case "approve":
		d, err := time.ParseDuration(r.Timeout)
		if err != nil {
			return Rule{}, fmt.Errorf("rule %q: invalid timeout %q: %w", r.Name, r.Timeout, err)
		}
		if d <= 0 {
			return Rule{}, fmt.Errorf("rule %q: timeout must be positive, got %q", r.Name, r.Timeout)
		}
		decision = policy.Approve(d)
	case "reject":
		reason := r.Reason
		if reason == "" {
			reason = fmt.Sprintf("denied by rule %s", r.Name)
		}
		decision = policy.Reject(reason)
	default:
		return Rule{}, fmt.Errorf("rule %q: unknown decision %q", r.Name, r.Decision)
	}

	return Rule{
		Name:           r.Name,
		PrincipalNS:    r.PrincipalNS,
		PrincipalApp:   r.PrincipalApp,
		PrincipalSA:    r.PrincipalSA,
		RoleRequired:   r.RoleRequired,
		ResourceServer: r.ResourceServer,
		ResourceName:   r.ResourceName,
		Decision:       decision,
	}, nil
}

// LoadFromFile reads a YAML rule file matching policy.source:
// configmap_path. It never panics on malformed input; parse failures are
// returned as plain errors for the caller to demote to PolicyEngineError.
func LoadFromFile(path string) (*RuleSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("static: read %s: %w", path, err)
	}

	var doc yamlFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("static: parse %s: %w", path, err)
	}

	rules := make([]Rule, 0, len(doc.Rules))
	for _, yr := range doc.Rules {
		rule, err := yr.toRule()
		if err != nil {
			return nil, fmt.Errorf("static: %s: %w", path, err)
		}
		rules = append(rules, rule)
	}

	return &RuleSet{
		Rules: rules,
		Source: policy.Source{
			Kind:     policy.SourceConfigMap,
			Path:     path,
			LoadedAt: time.Now(),
		},
	}, nil
}

// FileLoader returns a loader function bound to path, for use with
// NewWithLoader — each call to Reload re-reads the file.
func FileLoader(path string) func(ctx context.Context) (*RuleSet, error) {
	return func(_ context.Context) (*RuleSet, error) {
		return LoadFromFile(path)
	}
}
