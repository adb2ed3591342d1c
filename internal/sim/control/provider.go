package control

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"arenasim.ai/internal/sim/team"
)

// DefaultMaxEffectsPerTurn bounds how much a single turn may ask for.
const DefaultMaxEffectsPerTurn = 16

var ErrTooManyEffects = errors.New("effect budget exceeded")

// Null is the provider for affiliations that never act.
type Null struct{}

func (Null) MatchStarted(MatchInfo) error   { return nil }
func (Null) ObjectSpawned(ObjectInfo)       {}
func (Null) ObjectRemoved(int)              {}
func (Null) RoundStarted(int)               {}
func (Null) Turn(ObjectInfo, View) []Effect { return nil }
func (Null) MatchEnded()                    {}

// TeamProvider delegates every call to the provider registered for the
// object's team. Objects of an unregistered team get empty turns.
type TeamProvider struct {
	byTeam map[team.Team]Provider
	owner  map[int]team.Team
}

func NewTeamProvider() *TeamProvider {
	return &TeamProvider{
		byTeam: map[team.Team]Provider{},
		owner:  map[int]team.Team{},
	}
}

func (p *TeamProvider) Register(t team.Team, prov Provider) {
	p.byTeam[t] = prov
}

func (p *TeamProvider) For(t team.Team) Provider {
	if prov, ok := p.byTeam[t]; ok {
		return prov
	}
	return Null{}
}

func (p *TeamProvider) teams() []team.Team {
	out := make([]team.Team, 0, len(p.byTeam))
	for t := range p.byTeam {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (p *TeamProvider) MatchStarted(info MatchInfo) error {
	clear(p.owner)
	for _, t := range p.teams() {
		ti := info
		ti.Team = t
		if err := p.byTeam[t].MatchStarted(ti); err != nil {
			return fmt.Errorf("team %s: %w", t, err)
		}
	}
	return nil
}

func (p *TeamProvider) ObjectSpawned(obj ObjectInfo) {
	p.owner[obj.ID] = obj.Team
	p.For(obj.Team).ObjectSpawned(obj)
}

func (p *TeamProvider) ObjectRemoved(id int) {
	t, ok := p.owner[id]
	if !ok {
		return
	}
	delete(p.owner, id)
	p.For(t).ObjectRemoved(id)
}

func (p *TeamProvider) RoundStarted(round int) {
	for _, t := range p.teams() {
		p.byTeam[t].RoundStarted(round)
	}
}

func (p *TeamProvider) Turn(obj ObjectInfo, v View) []Effect {
	return p.For(obj.Team).Turn(obj, v)
}

func (p *TeamProvider) MatchEnded() {
	for _, t := range p.teams() {
		p.byTeam[t].MatchEnded()
	}
	clear(p.owner)
}

// Fault is an absorbed controller failure.
type Fault struct {
	Round    int
	ObjectID int
	Err      error
}

// PlayerProvider runs one competing team. Each object gets its own
// controller, built when the object spawns and torn down when it dies or the
// match ends.
type PlayerProvider struct {
	Name       string
	Factory    Factory
	MaxEffects int

	info  MatchInfo
	round int
	ctrls map[int]Controller

	mu     sync.Mutex
	faults []Fault
	total  int
}

func NewPlayerProvider(name string, f Factory) *PlayerProvider {
	return &PlayerProvider{Name: name, Factory: f, MaxEffects: DefaultMaxEffectsPerTurn}
}

func (p *PlayerProvider) MatchStarted(info MatchInfo) error {
	if p.Factory == nil {
		return fmt.Errorf("player %s: no controller factory", p.Name)
	}
	p.teardownAll()
	p.info = info
	p.round = -1
	p.ctrls = map[int]Controller{}
	p.mu.Lock()
	p.faults = nil
	p.total = 0
	p.mu.Unlock()
	return nil
}

func (p *PlayerProvider) ObjectSpawned(obj ObjectInfo) {
	c := p.Factory()
	if c == nil {
		p.fault(obj.ID, errors.New("factory returned nil controller"))
		return
	}
	err := guard(func() error { return c.Setup(p.info) })
	if err != nil {
		p.fault(obj.ID, fmt.Errorf("setup: %w", err))
		p.teardown(c)
		return
	}
	p.ctrls[obj.ID] = c
}

func (p *PlayerProvider) ObjectRemoved(id int) {
	if c, ok := p.ctrls[id]; ok {
		delete(p.ctrls, id)
		p.teardown(c)
	}
}

func (p *PlayerProvider) RoundStarted(round int) { p.round = round }

func (p *PlayerProvider) Turn(obj ObjectInfo, v View) []Effect {
	c := p.ctrls[obj.ID]
	if c == nil {
		return nil
	}
	var effects []Effect
	err := guard(func() error {
		var err error
		effects, err = c.Turn(v)
		return err
	})
	if err == nil && p.MaxEffects > 0 && len(effects) > p.MaxEffects {
		err = fmt.Errorf("%w: %d > %d", ErrTooManyEffects, len(effects), p.MaxEffects)
	}
	if err != nil {
		p.fault(obj.ID, err)
		return nil
	}
	return effects
}

func (p *PlayerProvider) MatchEnded() { p.teardownAll() }

// Faults returns the failures absorbed during the current match, oldest
// first, and the total count. Only the most recent 64 are retained.
func (p *PlayerProvider) Faults() ([]Fault, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Fault, len(p.faults))
	copy(out, p.faults)
	return out, p.total
}

func (p *PlayerProvider) fault(id int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total++
	p.faults = append(p.faults, Fault{Round: p.round, ObjectID: id, Err: err})
	if len(p.faults) > 64 {
		p.faults = p.faults[len(p.faults)-64:]
	}
}

func (p *PlayerProvider) teardown(c Controller) {
	_ = guard(func() error { c.Teardown(); return nil })
}

func (p *PlayerProvider) teardownAll() {
	ids := make([]int, 0, len(p.ctrls))
	for id := range p.ctrls {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		p.teardown(p.ctrls[id])
	}
	p.ctrls = nil
}

type panicError struct {
	value any
}

func (e *panicError) Error() string { return fmt.Sprintf("controller panic: %v", e.value) }

func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return fn()
}
