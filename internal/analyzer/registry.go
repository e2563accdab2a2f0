package analyzer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/JakeFAU/site-evaluator/internal/evaluation"
)

type registered struct {
	analyzer   Analyzer
	convention Convention
}

// Registry maps analyzer ids to analyzers. It is built once at startup and
// read-only afterwards.
type Registry struct {
	byID map[string]registered
}

// NewRegistry registers analyzers, rejecting empty or duplicate ids and values
// that do not implement exactly one calling convention.
func NewRegistry(analyzers ...Analyzer) (*Registry, error) {
	r := &Registry{byID: make(map[string]registered, len(analyzers))}
	for _, a := range analyzers {
		if a == nil {
			return nil, fmt.Errorf("nil analyzer: %w", evaluation.ErrInvalidConfig)
		}
		id := a.ID()
		if strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("analyzer with empty id: %w", evaluation.ErrInvalidConfig)
		}
		if strings.TrimSpace(id) != id {
			return nil, fmt.Errorf("analyzer id %q has surrounding whitespace: %w", id, evaluation.ErrInvalidConfig)
		}
		if _, dup := r.byID[id]; dup {
			return nil, fmt.Errorf("duplicate analyzer %q: %w", id, evaluation.ErrInvalidConfig)
		}
		conv, err := ConventionOf(a)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", err, evaluation.ErrInvalidConfig)
		}
		r.byID[id] = registered{analyzer: a, convention: conv}
	}
	return r, nil
}

// Lookup returns the analyzer registered under id.
func (r *Registry) Lookup(id string) (Analyzer, Convention, bool) {
	reg, ok := r.byID[id]
	return reg.analyzer, reg.convention, ok
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PlannedGroup is a resolved analyzer group.
type PlannedGroup struct {
	Group   evaluation.AnalyzerGroup
	Members []Analyzer
}

// Plan is the immutable, validated group schedule for page evaluation.
type Plan struct {
	groups []PlannedGroup
}

// Groups returns the planned groups in declaration order.
func (p Plan) Groups() []PlannedGroup {
	return append([]PlannedGroup(nil), p.groups...)
}

// RequiresLivePage reports whether any group needs a live page.
func (p Plan) RequiresLivePage() bool {
	for _, g := range p.groups {
		if g.Group.RequiresLivePage {
			return true
		}
	}
	return false
}

// Plan resolves group configuration against the registry. Unknown ids fail
// with ErrUnknownAnalyzer; structural problems fail with ErrInvalidConfig.
func (r *Registry) Plan(groups []evaluation.AnalyzerGroup) (Plan, error) {
	if len(groups) == 0 {
		return Plan{}, fmt.Errorf("no analyzer groups configured: %w", evaluation.ErrInvalidConfig)
	}
	groupNames := make(map[string]struct{}, len(groups))
	owner := make(map[string]string)
	planned := make([]PlannedGroup, 0, len(groups))
	for _, g := range groups {
		name := strings.TrimSpace(g.Name)
		if name == "" {
			return Plan{}, fmt.Errorf("analyzer group with empty name: %w", evaluation.ErrInvalidConfig)
		}
		if _, dup := groupNames[name]; dup {
			return Plan{}, fmt.Errorf("duplicate analyzer group %q: %w", name, evaluation.ErrInvalidConfig)
		}
		groupNames[name] = struct{}{}
		if len(g.Analyzers) == 0 {
			return Plan{}, fmt.Errorf("analyzer group %q is empty: %w", name, evaluation.ErrInvalidConfig)
		}

		members := make([]Analyzer, 0, len(g.Analyzers))
		for _, id := range g.Analyzers {
			reg, ok := r.byID[id]
			if !ok {
				return Plan{}, fmt.Errorf("group %q references %q: %w", name, id, evaluation.ErrUnknownAnalyzer)
			}
			if prev, taken := owner[id]; taken {
				return Plan{}, fmt.Errorf("analyzer %q appears in groups %q and %q: %w", id, prev, name, evaluation.ErrInvalidConfig)
			}
			if reg.convention == ConventionLive && !g.RequiresLivePage {
				return Plan{}, fmt.Errorf("live-page analyzer %q in group %q without requires_live_page: %w", id, name, evaluation.ErrInvalidConfig)
			}
			owner[id] = name
			members = append(members, reg.analyzer)
		}
		group := evaluation.AnalyzerGroup{
			Name:             name,
			Analyzers:        append([]string(nil), g.Analyzers...),
			RequiresLivePage: g.RequiresLivePage,
		}
		planned = append(planned, PlannedGroup{Group: group, Members: members})
	}
	return Plan{groups: planned}, nil
}
