package curate

import (
	"context"
	"fmt"
	"sort"
)

// Plan is a star schema: the dimensions and facts built by every curation pass.
type Plan struct {
	Dimensions []DimensionSpec
	Facts      []FactSpec
}

func (p *Plan) names() map[string]bool {
	names := make(map[string]bool, len(p.Dimensions)+len(p.Facts))
	for _, d := range p.Dimensions {
		names[d.Name] = true
	}
	for _, f := range p.Facts {
		names[f.Name] = true
	}
	return names
}

// Dependencies returns the tables that must be Curated before name can be built.
func (p *Plan) Dependencies(name string) []string {
	for _, f := range p.Facts {
		if f.Name != name {
			continue
		}
		seen := map[string]bool{}
		var deps []string
		for _, fk := range f.ForeignKeys {
			if !seen[fk.Target] {
				seen[fk.Target] = true
				deps = append(deps, fk.Target)
			}
		}
		sort.Strings(deps)
		return deps
	}
	return nil
}

// Source returns the cleaned dataset a table is built from.
func (p *Plan) Source(name string) (string, bool) {
	for _, d := range p.Dimensions {
		if d.Name == name {
			return d.Source, true
		}
	}
	for _, f := range p.Facts {
		if f.Name == name {
			return f.Source, true
		}
	}
	return "", false
}

// Validate checks names are unique, every foreign key targets a table of the plan and the
// dependency graph is acyclic.
func (p *Plan) Validate() error {
	seen := map[string]bool{}
	check := func(name, source string) error {
		if name == "" {
			return &PlanError{Reason: "table name is required"}
		}
		if source == "" {
			return &PlanError{Reason: fmt.Sprintf("table %s has no source", name)}
		}
		if seen[name] {
			return &PlanError{Reason: fmt.Sprintf("duplicate table %s", name)}
		}
		seen[name] = true
		return nil
	}
	for _, d := range p.Dimensions {
		if err := check(d.Name, d.Source); err != nil {
			return err
		}
		if len(d.KeyFields) == 0 {
			return &PlanError{Reason: fmt.Sprintf("dimension %s has no key fields", d.Name)}
		}
	}
	names := p.names()
	for _, f := range p.Facts {
		if err := check(f.Name, f.Source); err != nil {
			return err
		}
		if f.MaxRejectRate < 0 || f.MaxRejectRate > 1 {
			return &PlanError{Reason: fmt.Sprintf("fact %s max reject rate %v outside [0, 1]", f.Name, f.MaxRejectRate)}
		}
		for _, fk := range f.ForeignKeys {
			if !names[fk.Target] {
				return &PlanError{Reason: fmt.Sprintf("fact %s references unknown table %s", f.Name, fk.Target)}
			}
			if fk.Target == f.Name {
				return &PlanError{Reason: fmt.Sprintf("fact %s references itself", f.Name)}
			}
			if _, err := ParsePolicy(string(fk.Policy)); err != nil {
				return &PlanError{Reason: fmt.Sprintf("fact %s: %v", f.Name, err)}
			}
		}
	}
	_, err := p.Levels()
	return err
}

// Levels orders the tables topologically: every table's dependencies sit in earlier levels.
// Tables within a level are independent and sorted by name.
func (p *Plan) Levels() ([][]string, error) {
	names := p.names()
	indegree := make(map[string]int, len(names))
	dependents := make(map[string][]string)
	for n := range names {
		indegree[n] = 0
	}
	for n := range names {
		for _, dep := range p.Dependencies(n) {
			if !names[dep] {
				return nil, &PlanError{Reason: fmt.Sprintf("table %s depends on unknown table %s", n, dep)}
			}
			indegree[n]++
			dependents[dep] = append(dependents[dep], n)
		}
	}

	var levels [][]string
	var ready []string
	for n, d := range indegree {
		if d == 0 {
			ready = append(ready, n)
		}
	}
	placed := 0
	for len(ready) > 0 {
		sort.Strings(ready)
		levels = append(levels, ready)
		placed += len(ready)
		var next []string
		for _, n := range ready {
			for _, m := range dependents[n] {
				indegree[m]--
				if indegree[m] == 0 {
					next = append(next, m)
				}
			}
		}
		ready = next
	}
	if placed != len(names) {
		var cyclic []string
		for n, d := range indegree {
			if d > 0 {
				cyclic = append(cyclic, n)
			}
		}
		sort.Strings(cyclic)
		return nil, &PlanError{Reason: fmt.Sprintf("dependency cycle among %v", cyclic)}
	}
	return levels, nil
}

// Build builds the named table of the plan within the pass.
func (p *Plan) Build(ctx context.Context, pass *Pass, name string) (*Result, error) {
	for _, d := range p.Dimensions {
		if d.Name == name {
			return pass.BuildDimension(ctx, d)
		}
	}
	for _, f := range p.Facts {
		if f.Name == name {
			return pass.BuildFact(ctx, f)
		}
	}
	return nil, fmt.Errorf("table %s is not part of the plan", name)
}
