// Package store keeps every rule-set version ever loaded so past redactions
// can be replayed under the exact rules that produced them.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"archivegate/internal/redaction/models"
	dErrors "archivegate/pkg/domain-errors"
	"archivegate/pkg/platform/sentinel"
)

type entry struct {
	rs     *models.RuleSet
	digest string
}

// Registry is an in-memory, append-only map of rule-set versions.
type Registry struct {
	mu       sync.RWMutex
	versions map[string]entry
	order    []string
}

func NewRegistry() *Registry {
	return &Registry{versions: make(map[string]entry)}
}

// Register adds a rule set. Registering the same body again is a no-op;
// a different body under an existing version is a conflict.
func (r *Registry) Register(_ context.Context, rs *models.RuleSet) error {
	if err := rs.Validate(); err != nil {
		return err
	}
	digest := rs.Digest()

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.versions[rs.Version]; ok {
		if existing.digest == digest {
			return nil
		}
		return fmt.Errorf("rule set %s: %w", rs.Version, sentinel.ErrConflict)
	}
	r.versions[rs.Version] = entry{rs: clone(rs), digest: digest}
	r.order = append(r.order, rs.Version)
	return nil
}

// Get returns the rule set registered under version.
func (r *Registry) Get(_ context.Context, version string) (*models.RuleSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.versions[version]
	if !ok {
		return nil, fmt.Errorf("rule set %s: %w", version, sentinel.ErrNotFound)
	}
	return clone(e.rs), nil
}

// Latest returns the most recently registered rule set.
func (r *Registry) Latest(_ context.Context) (*models.RuleSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.order) == 0 {
		return nil, fmt.Errorf("no rule sets loaded: %w", sentinel.ErrNotFound)
	}
	return clone(r.versions[r.order[len(r.order)-1]].rs), nil
}

// Versions lists registered versions in registration order.
func (r *Registry) Versions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// LoadDir registers every *.yaml / *.yml rule set in dir, in file-name order.
func (r *Registry) LoadDir(ctx context.Context, dir string) error {
	matches, err := filepath.Glob(filepath.Join(dir, "*.y*ml"))
	if err != nil {
		return fmt.Errorf("list rule sets: %w", err)
	}
	sort.Strings(matches)
	for _, path := range matches {
		if ext := strings.ToLower(filepath.Ext(path)); ext != ".yaml" && ext != ".yml" {
			continue
		}
		rs, err := ParseFile(path)
		if err != nil {
			return err
		}
		if err := r.Register(ctx, rs); err != nil {
			return fmt.Errorf("register %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

// ParseFile reads one YAML rule set.
func ParseFile(path string) (*models.RuleSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule set %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes a YAML rule set and validates it. Unknown keys are rejected.
func Parse(raw []byte) (*models.RuleSet, error) {
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	var rs models.RuleSet
	if err := dec.Decode(&rs); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "malformed rule set")
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return &rs, nil
}

func clone(rs *models.RuleSet) *models.RuleSet {
	out := *rs
	out.Rules = make([]models.Rule, len(rs.Rules))
	for i, rule := range rs.Rules {
		rule.Detector.Terms = append([]string(nil), rule.Detector.Terms...)
		if rule.PreserveLength != nil {
			v := *rule.PreserveLength
			rule.PreserveLength = &v
		}
		out.Rules[i] = rule
	}
	return &out
}
