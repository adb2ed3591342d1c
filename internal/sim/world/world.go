package world

import (
	"errors"
	"fmt"
	"math/rand"

	"arenasim.ai/internal/sim/control"
	"arenasim.ai/internal/sim/maps"
	"arenasim.ai/internal/sim/signal"
	"arenasim.ai/internal/sim/team"
)

type Config struct {
	Map      *maps.Definition
	Provider control.Provider
	Mapping  team.Mapping
	// Memory is the team memory carried in from the previous match of the
	// series. The world works on its own copy.
	Memory team.Memory
}

// Stats counts effects over the whole match.
type Stats struct {
	Applied int `json:"applied"`
	Dropped int `json:"dropped"`
	Spawned int `json:"spawned"`
	Deaths  int `json:"deaths"`
}

// World runs a single match. It is not safe for concurrent use: the runner
// drives it from one goroutine and publishes whatever others need.
type World struct {
	def      *maps.Definition
	provider control.Provider
	mapping  team.Mapping

	rng *rand.Rand
	ids *idAllocator
	reg *registry
	log *signal.Log

	round      int
	running    bool
	decided    bool
	winner     team.Team
	factor     DominationFactor
	breakpoint bool

	memory    team.Memory
	previous  team.Memory
	resources [2]int64
	radio     [2]map[int]int32

	stats Stats
}

// New builds the world for one match and places the map's initial objects.
// Their spawn signals form the setup batch, readable through RoundSignals
// before the first round.
func New(cfg Config) (*World, error) {
	if cfg.Map == nil {
		return nil, errors.New("world: nil map")
	}
	prov := cfg.Provider
	if prov == nil {
		prov = control.Null{}
	}
	rng := rand.New(rand.NewSource(cfg.Map.Seed))
	w := &World{
		def:      cfg.Map,
		provider: prov,
		mapping:  cfg.Mapping,
		rng:      rng,
		ids:      newIDAllocator(rng),
		reg:      newRegistry(),
		log:      signal.NewLog(),
		round:    -1,
		running:  true,
		memory:   cfg.Memory,
		previous: cfg.Memory,
		radio:    [2]map[int]int32{{}, {}},
	}
	if err := prov.MatchStarted(w.MatchInfo(team.Neutral)); err != nil {
		return nil, fmt.Errorf("world: start controllers: %w", err)
	}

	if cfg.Map.RandomIDs {
		w.ReserveRandomIDs(len(cfg.Map.Spawns))
	}
	for _, s := range cfg.Map.Spawns {
		o := &Object{ID: w.NextID(), Team: s.Team, Kind: s.Kind, HP: s.HP, X: s.X, Y: s.Y}
		if err := w.place(o, 0); err != nil {
			prov.MatchEnded()
			return nil, fmt.Errorf("world: map %s: %w", cfg.Map.Name, err)
		}
	}
	w.EndRandomIDs()

	for _, t := range []team.Team{team.A, team.B} {
		w.resources[t] = cfg.Map.StartResources
		w.log.Add(signal.Resources{Team: t, Amount: w.resources[t]})
	}
	return w, nil
}

func (w *World) place(o *Object, parent int) error {
	if err := w.reg.add(o); err != nil {
		return err
	}
	w.log.Add(signal.Spawn{ObjectID: o.ID, ParentID: parent, Team: o.Team, ObjKind: o.Kind, X: o.X, Y: o.Y, HP: o.HP})
	if o.Controllable() {
		w.provider.ObjectSpawned(o.Info())
	}
	return nil
}

// MatchInfo describes the match as seen by team t.
func (w *World) MatchInfo(t team.Team) control.MatchInfo {
	return control.MatchInfo{
		MapName:    w.def.Name,
		Seed:       w.def.Seed,
		Team:       t,
		Mapping:    w.mapping,
		Width:      w.def.Width,
		Height:     w.def.Height,
		RoundLimit: w.def.RoundLimit,
		SpawnCost:  w.def.SpawnCost,
		MaxDamage:  w.def.MaxDamage,
		Range:      w.def.AttackRange,
	}
}

// NextID pops the reserved pool while it has IDs, otherwise it returns the
// next sequential ID.
func (w *World) NextID() int { return w.ids.nextID() }

// ReserveRandomIDs draws n sequential IDs and shuffles the pool with the
// match RNG.
func (w *World) ReserveRandomIDs(n int) { w.ids.reserve(n) }

// EndRandomIDs discards reserved IDs that were never handed out.
func (w *World) EndRandomIDs() { w.ids.endReserved() }

func (w *World) CurrentRound() int     { return w.round }
func (w *World) IsRunning() bool       { return w.running }
func (w *World) Map() *maps.Definition { return w.def }

// Outcome returns the result once the match is decided.
func (w *World) Outcome() (Outcome, bool) {
	if !w.decided {
		return Outcome{}, false
	}
	return Outcome{Winner: w.winner, Factor: w.factor, Rounds: w.round + 1}, true
}

// RoundSignals returns the signals of the current round, or of setup before
// the first round has run.
func (w *World) RoundSignals() []signal.Signal { return w.log.Signals() }

func (w *World) Stats() Stats { return w.stats }

// TeamMemory returns a copy of the memory as it stands now.
func (w *World) TeamMemory() team.Memory { return w.memory }

func (w *World) SetTeamMemory(t team.Team, index int, value int64) error {
	return w.memory.Set(t, index, value)
}

func (w *World) SetTeamMemoryMasked(t team.Team, index int, value, mask int64) error {
	return w.memory.SetMasked(t, index, value, mask)
}

func (w *World) Resources(t team.Team) int64 {
	if !t.Competing() {
		return 0
	}
	return w.resources[t]
}

// Objects lists live objects in turn order.
func (w *World) Objects() []control.ObjectInfo {
	live := w.reg.live()
	out := make([]control.ObjectInfo, 0, len(live))
	for _, o := range live {
		out = append(out, o.Info())
	}
	return out
}

// Close tears down the controllers. Safe to call more than once.
func (w *World) Close() {
	if w.provider == nil {
		return
	}
	w.provider.MatchEnded()
	w.provider = nil
}
