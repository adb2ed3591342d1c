package control

import (
	"arenasim.ai/internal/sim/team"
)

// Built-in strategies. They are deterministic and exist for demos, smoke
// tests and as opponents for scripted teams.
var builtins = map[string]Factory{
	"idle":       func() Controller { return FuncController(idleTurn) },
	"harvest":    func() Controller { return &harvester{} },
	"rush":       func() Controller { return &rusher{} },
	"breakpoint": func() Controller { return &breaker{} },
	"memory":     func() Controller { return &counter{} },
}

func idleTurn(View) ([]Effect, error) { return nil, nil }

type harvester struct{ info MatchInfo }

func (h *harvester) Setup(info MatchInfo) error {
	h.info = info
	return nil
}

func (h *harvester) Teardown() {}

func (h *harvester) Turn(v View) ([]Effect, error) {
	self := v.Self()
	out := []Effect{Harvest()}
	if v.Resources(self.Team) >= 2*h.info.SpawnCost {
		out = append(out, Spawn(spawnDir(self, h.info)))
	}
	return out, nil
}

func spawnDir(self ObjectInfo, info MatchInfo) (int, int) {
	dx := 1
	if self.X+1 >= info.Width {
		dx = -1
	}
	return dx, 0
}

// rusher walks toward the nearest enemy and attacks once in range.
type rusher struct{ info MatchInfo }

func (r *rusher) Setup(info MatchInfo) error {
	r.info = info
	return nil
}

func (r *rusher) Teardown() {}

func (r *rusher) Turn(v View) ([]Effect, error) {
	self := v.Self()
	target, ok := nearestEnemy(self, v.Objects())
	if !ok {
		return []Effect{Harvest()}, nil
	}
	if chebyshev(self, target) <= r.info.Range {
		return []Effect{Attack(target.ID, r.info.MaxDamage)}, nil
	}
	return []Effect{Move(sign(target.X-self.X), sign(target.Y-self.Y))}, nil
}

// breaker requests a breakpoint on its first turn, then idles.
type breaker struct{ fired bool }

func (b *breaker) Setup(MatchInfo) error { return nil }
func (b *breaker) Teardown()             {}

func (b *breaker) Turn(View) ([]Effect, error) {
	if b.fired {
		return nil, nil
	}
	b.fired = true
	return []Effect{Breakpoint()}, nil
}

// counter bumps memory slot 0 once per match, so a series shows how many
// matches the team has played. It also keeps harvesting to stay alive.
type counter struct{}

func (c *counter) Setup(MatchInfo) error { return nil }
func (c *counter) Teardown()             {}

func (c *counter) Turn(v View) ([]Effect, error) {
	if v.Round() != 0 {
		return []Effect{Harvest()}, nil
	}
	prev, err := v.PreviousMemory(0)
	if err != nil {
		return nil, err
	}
	return []Effect{WriteMemory(0, prev+1), Harvest()}, nil
}

func nearestEnemy(self ObjectInfo, objs []ObjectInfo) (ObjectInfo, bool) {
	var (
		best  ObjectInfo
		bestD = -1
	)
	for _, o := range objs {
		if o.Team == self.Team || o.Team == team.Neutral {
			continue
		}
		d := chebyshev(self, o)
		if bestD < 0 || d < bestD || (d == bestD && o.ID < best.ID) {
			best, bestD = o, d
		}
	}
	return best, bestD >= 0
}

func chebyshev(a, b ObjectInfo) int {
	return max(abs(a.X-b.X), abs(a.Y-b.Y))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
