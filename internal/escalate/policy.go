// Package escalate provides tiered on-call escalation: policy definitions
// loaded from YAML, hot-reload, and the per-incident deadline scheduler.
package escalate

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// Tier is one step of an escalation policy: a target to notify over a
// channel, and how long to wait at this step before the deadline passes.
type Tier struct {
	Target  string
	Channel string
	After   time.Duration
}

// UnmarshalYAML decodes a tier, parsing After with time.ParseDuration so
// policy files can say "5m" or "1h30m".
func (t *Tier) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Target  string `yaml:"target"`
		Channel string `yaml:"channel"`
		After   string `yaml:"after"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	d, err := time.ParseDuration(raw.After)
	if err != nil {
		return fmt.Errorf("tier %q: invalid after %q: %w", raw.Target, raw.After, err)
	}
	t.Target = raw.Target
	t.Channel = raw.Channel
	t.After = d
	return nil
}

// Policy is an ordered list of escalation tiers.
type Policy struct {
	Tiers []Tier `yaml:"tiers"`
}

// Validate checks a policy is usable: at least one tier, every tier with a
// target, a channel, and a positive wait.
func (p Policy) Validate() error {
	if len(p.Tiers) == 0 {
		return errors.New("policy has no tiers")
	}
	var errs []error
	for i, t := range p.Tiers {
		if t.Target == "" {
			errs = append(errs, fmt.Errorf("tier %d: missing target", i+1))
		}
		if t.Channel == "" {
			errs = append(errs, fmt.Errorf("tier %d: missing channel", i+1))
		}
		if t.After <= 0 {
			errs = append(errs, fmt.Errorf("tier %d: after must be positive, got %s", i+1, t.After))
		}
	}
	return errors.Join(errs...)
}

// PolicySet holds the default policy plus per-service overrides.
type PolicySet struct {
	Default  Policy            `yaml:"default"`
	Services map[string]Policy `yaml:"services"`
}

// Validate checks the default policy and every service override.
func (ps *PolicySet) Validate() error {
	var errs []error
	if err := ps.Default.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("default: %w", err))
	}
	for svc, p := range ps.Services {
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("service %s: %w", svc, err))
		}
	}
	return errors.Join(errs...)
}

// Load reads and validates a policy set from a YAML file.
func Load(path string) (*PolicySet, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is from trusted config, not user input
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	var ps PolicySet
	if err := yaml.Unmarshal(data, &ps); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	if err := ps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy file %s: %w", path, err)
	}
	return &ps, nil
}

// DefaultPolicySet builds the built-in single-tier policy used when no
// policy file is configured: page the primary on-call after ackTimeout.
func DefaultPolicySet(ackTimeout time.Duration) *PolicySet {
	return &PolicySet{
		Default: Policy{Tiers: []Tier{{
			Target:  "primary-oncall",
			Channel: "slack",
			After:   ackTimeout,
		}}},
	}
}

// Resolver hands out the current policy for a service and supports atomic
// replacement on hot-reload.
type Resolver struct {
	cur atomic.Pointer[PolicySet]
}

// NewResolver creates a resolver serving ps.
func NewResolver(ps *PolicySet) *Resolver {
	r := &Resolver{}
	r.cur.Store(ps)
	return r
}

// Swap replaces the active policy set. Timers already armed keep their
// current deadline; the new set applies from the next arm or tier advance.
func (r *Resolver) Swap(ps *PolicySet) {
	r.cur.Store(ps)
}

// PolicyFor returns the service's policy, falling back to the default.
func (r *Resolver) PolicyFor(service string) Policy {
	ps := r.cur.Load()
	if p, ok := ps.Services[service]; ok {
		return p
	}
	return ps.Default
}
