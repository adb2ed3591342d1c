package control

import (
	"fmt"
	"sort"
	"strings"

	"arenasim.ai/internal/sim/team"
)

// Resolver turns a team's controller reference into a Factory.
type Resolver interface {
	Resolve(t team.Team, name, ref string) (Factory, error)
}

// SchemeResolver dispatches on the part of the reference before the first
// colon, e.g. "builtin:rush" or "lua:bots/kite.lua".
type SchemeResolver struct {
	schemes map[string]func(t team.Team, name, rest string) (Factory, error)
}

func NewSchemeResolver() *SchemeResolver {
	r := &SchemeResolver{schemes: map[string]func(team.Team, string, string) (Factory, error){}}
	r.Handle("builtin", resolveBuiltin)
	return r
}

func (r *SchemeResolver) Handle(scheme string, fn func(t team.Team, name, rest string) (Factory, error)) {
	r.schemes[strings.ToLower(scheme)] = fn
}

func (r *SchemeResolver) Resolve(t team.Team, name, ref string) (Factory, error) {
	scheme, rest, ok := strings.Cut(strings.TrimSpace(ref), ":")
	if !ok {
		return nil, fmt.Errorf("controller %q for %s: missing scheme", ref, name)
	}
	fn, ok := r.schemes[strings.ToLower(scheme)]
	if !ok {
		return nil, fmt.Errorf("controller %q for %s: unknown scheme %q", ref, name, scheme)
	}
	f, err := fn(t, name, rest)
	if err != nil {
		return nil, fmt.Errorf("controller %q for %s: %w", ref, name, err)
	}
	return f, nil
}

func resolveBuiltin(_ team.Team, _ string, rest string) (Factory, error) {
	f, ok := builtins[strings.ToLower(strings.TrimSpace(rest))]
	if !ok {
		return nil, fmt.Errorf("unknown builtin %q (have %s)", rest, strings.Join(BuiltinNames(), ", "))
	}
	return f, nil
}

func BuiltinNames() []string {
	out := make([]string, 0, len(builtins))
	for k := range builtins {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
