package rules

import (
	_ "embed"
	"fmt"
	"os"
	"sync"

	"github.com/opensource-finance/heron/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var builtinCatalog []byte

// Registry owns the rule catalog and its enabled flags.
// Toggles are the only writers; every read observes a single point in time.
type Registry struct {
	mu     sync.RWMutex
	groups []domain.RuleGroup
	index  map[string]ruleRef
}

type ruleRef struct {
	group int
	rule  int
}

// catalogFile is the YAML shape of a rule catalog. Omitted enabled flags
// default to true.
type catalogFile struct {
	Groups []struct {
		GroupID string `yaml:"group_id"`
		Label   string `yaml:"label"`
		Enabled *bool  `yaml:"enabled"`
		Rules   []struct {
			ID      string `yaml:"id"`
			Name    string `yaml:"name"`
			Score   int    `yaml:"score"`
			Desc    string `yaml:"desc"`
			Enabled *bool  `yaml:"enabled"`
		} `yaml:"rules"`
	} `yaml:"groups"`
}

// NewRegistry creates a registry from groups. Rule ids must be unique
// across all groups.
func NewRegistry(groups []domain.RuleGroup) (*Registry, error) {
	r := &Registry{
		groups: cloneGroups(groups),
		index:  make(map[string]ruleRef),
	}

	seenGroups := make(map[string]bool)
	for gi, g := range r.groups {
		if g.GroupID == "" {
			return nil, fmt.Errorf("%w: group %d has no group_id", domain.ErrInvalidInput, gi)
		}
		if seenGroups[g.GroupID] {
			return nil, fmt.Errorf("%w: duplicate group %s", domain.ErrInvalidInput, g.GroupID)
		}
		seenGroups[g.GroupID] = true

		for ri, rule := range g.Rules {
			if rule.ID == "" || rule.Name == "" {
				return nil, fmt.Errorf("%w: group %s rule %d needs id and name", domain.ErrInvalidInput, g.GroupID, ri)
			}
			if rule.Score < 0 {
				return nil, fmt.Errorf("%w: rule %s has negative score", domain.ErrInvalidInput, rule.ID)
			}
			if _, dup := r.index[rule.ID]; dup {
				return nil, fmt.Errorf("%w: duplicate rule id %s", domain.ErrInvalidInput, rule.ID)
			}
			r.index[rule.ID] = ruleRef{group: gi, rule: ri}
		}
	}

	return r, nil
}

// DefaultRegistry returns a registry built from the embedded catalog.
func DefaultRegistry() (*Registry, error) {
	groups, err := ParseCatalog(builtinCatalog)
	if err != nil {
		return nil, fmt.Errorf("failed to parse builtin catalog: %w", err)
	}
	return NewRegistry(groups)
}

// LoadRegistry builds a registry from a YAML catalog file, or from the
// embedded catalog when path is empty.
func LoadRegistry(path string) (*Registry, error) {
	if path == "" {
		return DefaultRegistry()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule catalog: %w", err)
	}

	groups, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rule catalog %s: %w", path, err)
	}
	return NewRegistry(groups)
}

// ParseCatalog decodes a YAML rule catalog.
func ParseCatalog(data []byte) ([]domain.RuleGroup, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	if len(file.Groups) == 0 {
		return nil, fmt.Errorf("%w: catalog has no groups", domain.ErrInvalidInput)
	}

	groups := make([]domain.RuleGroup, 0, len(file.Groups))
	for _, g := range file.Groups {
		group := domain.RuleGroup{
			GroupID: g.GroupID,
			Label:   g.Label,
			Enabled: g.Enabled == nil || *g.Enabled,
			Rules:   make([]domain.Rule, 0, len(g.Rules)),
		}
		for _, rule := range g.Rules {
			group.Rules = append(group.Rules, domain.Rule{
				ID:          rule.ID,
				Name:        rule.Name,
				Description: rule.Desc,
				Score:       rule.Score,
				Enabled:     rule.Enabled == nil || *rule.Enabled,
			})
		}
		groups = append(groups, group)
	}
	return groups, nil
}

// List returns a copy of the full catalog.
func (r *Registry) List() []domain.RuleGroup {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneGroups(r.groups)
}

// Toggle sets the enabled flag of a rule. Setting the current value is a no-op.
func (r *Registry) Toggle(ruleID string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref, ok := r.index[ruleID]
	if !ok {
		return fmt.Errorf("rule %s: %w", ruleID, domain.ErrNotFound)
	}
	r.groups[ref.group].Rules[ref.rule].Enabled = enabled
	return nil
}

// SetGroupEnabled sets the enabled flag of a whole group.
func (r *Registry) SetGroupEnabled(groupID string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.groups {
		if r.groups[i].GroupID == groupID {
			r.groups[i].Enabled = enabled
			return nil
		}
	}
	return fmt.Errorf("group %s: %w", groupID, domain.ErrNotFound)
}

// ActiveRuleScores maps rule id to base score for every rule whose group
// and own flag are both enabled.
func (r *Registry) ActiveRuleScores() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active := make(map[string]int, len(r.index))
	for _, g := range r.groups {
		if !g.Enabled {
			continue
		}
		for _, rule := range g.Rules {
			if rule.Enabled {
				active[rule.ID] = rule.Score
			}
		}
	}
	return active
}

// RulesCount returns the number of rules in the catalog.
func (r *Registry) RulesCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.index)
}

func cloneGroups(groups []domain.RuleGroup) []domain.RuleGroup {
	out := make([]domain.RuleGroup, len(groups))
	for i, g := range groups {
		out[i] = g
		out[i].Rules = make([]domain.Rule, len(g.Rules))
		copy(out[i].Rules, g.Rules)
	}
	return out
}
