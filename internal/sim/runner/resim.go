package runner

import (
	"fmt"

	"arenasim.ai/internal/persistence/replay"
	"arenasim.ai/internal/sim/control"
	"arenasim.ai/internal/sim/maps"
	"arenasim.ai/internal/sim/signal"
	"arenasim.ai/internal/sim/team"
	"arenasim.ai/internal/sim/world"
)

// Resimulate replays every recorded match with the same maps and
// controllers and checks that each round produces the recorded digest and
// each match the recorded winner.
func Resimulate(rp *replay.Replay, loader maps.Loader, resolver control.Resolver, maxEffects int) error {
	if len(rp.Series.Teams) != 2 {
		return fmt.Errorf("series %s: expected 2 teams, have %d", rp.Series.SeriesID, len(rp.Series.Teams))
	}
	if resolver == nil {
		resolver = control.NewSchemeResolver()
	}
	a, b := rp.Series.Teams[0], rp.Series.Teams[1]
	mapping := team.NewMapping(a.Name, b.Name)

	prov := control.NewTeamProvider()
	for _, ref := range rp.Series.Teams {
		f, err := resolver.Resolve(ref.Team, ref.Name, ref.Controller)
		if err != nil {
			return err
		}
		p := control.NewPlayerProvider(ref.Name, f)
		p.MaxEffects = maxEffects
		prov.Register(ref.Team, p)
	}
	prov.Register(team.Neutral, control.Null{})

	var mem team.Memory
	for _, m := range rp.Matches {
		next, err := resimulateMatch(m, loader, prov, mapping, mem)
		if err != nil {
			return fmt.Errorf("match %d (%s): %w", m.Header.Index, m.Header.Map, err)
		}
		mem = next
	}
	return nil
}

func resimulateMatch(m *replay.Match, loader maps.Loader, prov control.Provider, mapping team.Mapping, mem team.Memory) (team.Memory, error) {
	def, err := loader.Load(m.Header.Map)
	if err != nil {
		return mem, err
	}
	if def.Seed != m.Header.Seed {
		return mem, fmt.Errorf("map seed %d differs from recorded seed %d", def.Seed, m.Header.Seed)
	}
	w, err := world.New(world.Config{Map: def, Provider: prov, Mapping: mapping, Memory: mem})
	if err != nil {
		return mem, err
	}
	defer w.Close()

	for i, rec := range m.Rounds {
		if i > 0 {
			if !w.IsRunning() {
				return mem, fmt.Errorf("world finished before recorded round %d", rec.Round)
			}
			w.RunRound()
		}
		envs, err := signal.EncodeAll(w.RoundSignals())
		if err != nil {
			return mem, err
		}
		if w.CurrentRound() != rec.Round {
			return mem, fmt.Errorf("at round %d, recorded round %d", w.CurrentRound(), rec.Round)
		}
		if got := signal.Digest(rec.Round, envs); got != rec.Digest {
			return mem, fmt.Errorf("round %d: digest %s, recorded %s", rec.Round, got, rec.Digest)
		}
	}

	if m.Footer == nil {
		return w.TeamMemory(), nil
	}
	out, ok := w.Outcome()
	if !ok {
		return mem, fmt.Errorf("no winner after %d rounds", len(m.Rounds)-1)
	}
	if out.Winner != m.Footer.Winner || out.Factor.String() != m.Footer.Factor {
		return mem, fmt.Errorf("winner %s by %s, recorded %s by %s", out.Winner, out.Factor, m.Footer.Winner, m.Footer.Factor)
	}
	return w.TeamMemory(), nil
}
