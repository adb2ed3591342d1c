package control

import (
	"errors"
	"strings"
	"testing"

	"arenasim.ai/internal/sim/team"
)

type stubView struct {
	round int
	self  ObjectInfo
	objs  []ObjectInfo
	res   map[team.Team]int64
	prev  [team.MemoryLength]int64
}

func (v *stubView) Round() int                  { return v.round }
func (v *stubView) Self() ObjectInfo            { return v.self }
func (v *stubView) Objects() []ObjectInfo       { return v.objs }
func (v *stubView) Resources(t team.Team) int64 { return v.res[t] }
func (v *stubView) Radio(int) int32             { return 0 }

func (v *stubView) Memory(i int) (int64, error) { return v.PreviousMemory(i) }

func (v *stubView) PreviousMemory(i int) (int64, error) {
	if i < 0 || i >= team.MemoryLength {
		return 0, team.ErrIndexOutOfRange
	}
	return v.prev[i], nil
}

func agent(id int, t team.Team, x, y int) ObjectInfo {
	return ObjectInfo{ID: id, Team: t, Kind: "AGENT", HP: 10, X: x, Y: y}
}

func TestPlayerProvider_AbsorbsFailures(t *testing.T) {
	calls := 0
	p := NewPlayerProvider("alpha", func() Controller {
		return FuncController(func(v View) ([]Effect, error) {
			calls++
			switch v.Round() {
			case 0:
				return nil, errors.New("boom")
			case 1:
				panic("bad script")
			case 2:
				return make([]Effect, DefaultMaxEffectsPerTurn+1), nil
			}
			return []Effect{Harvest()}, nil
		})
	})
	if err := p.MatchStarted(MatchInfo{Team: team.A}); err != nil {
		t.Fatalf("MatchStarted: %v", err)
	}
	obj := agent(1, team.A, 0, 0)
	p.ObjectSpawned(obj)

	for round := 0; round < 3; round++ {
		p.RoundStarted(round)
		if got := p.Turn(obj, &stubView{round: round, self: obj}); len(got) != 0 {
			t.Fatalf("round %d: expected empty turn, got %v", round, got)
		}
	}
	p.RoundStarted(3)
	if got := p.Turn(obj, &stubView{round: 3, self: obj}); len(got) != 1 || got[0].Kind != EffectHarvest {
		t.Fatalf("round 3: got %v", got)
	}

	faults, total := p.Faults()
	if total != 3 || len(faults) != 3 {
		t.Fatalf("faults: total=%d len=%d", total, len(faults))
	}
	var pe *panicError
	if !errors.As(faults[1].Err, &pe) {
		t.Fatalf("expected panic fault, got %v", faults[1].Err)
	}
	if !errors.Is(faults[2].Err, ErrTooManyEffects) {
		t.Fatalf("expected budget fault, got %v", faults[2].Err)
	}
	if faults[0].Round != 0 || faults[0].ObjectID != 1 {
		t.Fatalf("fault 0: %+v", faults[0])
	}
	if calls != 4 {
		t.Fatalf("calls=%d", calls)
	}
}

type lifecycle struct {
	setups, teardowns *int
	turns             int
}

func (l *lifecycle) Setup(MatchInfo) error { *l.setups++; return nil }
func (l *lifecycle) Teardown()             { *l.teardowns++ }

func (l *lifecycle) Turn(View) ([]Effect, error) {
	l.turns++
	return []Effect{Indicator(strings.Repeat("x", l.turns))}, nil
}

func TestPlayerProvider_FreshControllersPerMatch(t *testing.T) {
	var setups, teardowns int
	p := NewPlayerProvider("alpha", func() Controller {
		return &lifecycle{setups: &setups, teardowns: &teardowns}
	})
	obj := agent(3, team.A, 1, 1)
	for match := 0; match < 2; match++ {
		if err := p.MatchStarted(MatchInfo{Team: team.A}); err != nil {
			t.Fatalf("MatchStarted: %v", err)
		}
		p.ObjectSpawned(obj)
		got := p.Turn(obj, &stubView{self: obj})
		if len(got) != 1 || got[0].Text != "x" {
			t.Fatalf("match %d: state leaked between matches: %v", match, got)
		}
		p.MatchEnded()
	}
	if setups != 2 || teardowns != 2 {
		t.Fatalf("setups=%d teardowns=%d", setups, teardowns)
	}

	if err := p.MatchStarted(MatchInfo{Team: team.A}); err != nil {
		t.Fatalf("MatchStarted: %v", err)
	}
	p.ObjectSpawned(obj)
	p.ObjectRemoved(obj.ID)
	if teardowns != 3 {
		t.Fatalf("expected teardown on removal, got %d", teardowns)
	}
	if got := p.Turn(obj, &stubView{self: obj}); got != nil {
		t.Fatalf("removed object acted: %v", got)
	}
}

func TestPlayerProvider_SetupFailureIsAbsorbed(t *testing.T) {
	p := NewPlayerProvider("alpha", func() Controller { return &failingSetup{} })
	if err := p.MatchStarted(MatchInfo{}); err != nil {
		t.Fatalf("MatchStarted: %v", err)
	}
	obj := agent(1, team.A, 0, 0)
	p.ObjectSpawned(obj)
	if got := p.Turn(obj, &stubView{self: obj}); got != nil {
		t.Fatalf("expected no effects, got %v", got)
	}
	if _, total := p.Faults(); total != 1 {
		t.Fatalf("faults=%d", total)
	}
}

type failingSetup struct{}

func (failingSetup) Setup(MatchInfo) error       { return errors.New("no") }
func (failingSetup) Turn(View) ([]Effect, error) { return []Effect{Harvest()}, nil }
func (failingSetup) Teardown()                   {}

func TestTeamProvider_RoutesByTeam(t *testing.T) {
	mk := func(text string) *PlayerProvider {
		return NewPlayerProvider(text, func() Controller {
			return FuncController(func(View) ([]Effect, error) {
				return []Effect{Indicator(text)}, nil
			})
		})
	}
	tp := NewTeamProvider()
	tp.Register(team.A, mk("a"))
	tp.Register(team.B, mk("b"))
	tp.Register(team.Neutral, Null{})

	if err := tp.MatchStarted(MatchInfo{}); err != nil {
		t.Fatalf("MatchStarted: %v", err)
	}
	objs := []ObjectInfo{agent(1, team.A, 0, 0), agent(2, team.B, 1, 0), {ID: 3, Team: team.Neutral, Kind: "OBSTACLE"}}
	for _, o := range objs {
		tp.ObjectSpawned(o)
	}
	tp.RoundStarted(0)
	want := map[int]string{1: "a", 2: "b"}
	for _, o := range objs {
		got := tp.Turn(o, &stubView{self: o})
		if o.Team == team.Neutral {
			if len(got) != 0 {
				t.Fatalf("neutral object acted: %v", got)
			}
			continue
		}
		if len(got) != 1 || got[0].Text != want[o.ID] {
			t.Fatalf("object %d: got %v", o.ID, got)
		}
	}
	tp.ObjectRemoved(1)
	if got := tp.Turn(objs[0], &stubView{self: objs[0]}); got != nil {
		t.Fatalf("removed object acted: %v", got)
	}
	tp.MatchEnded()
}

func TestTeamProvider_MatchStartedFails(t *testing.T) {
	tp := NewTeamProvider()
	tp.Register(team.B, NewPlayerProvider("empty", nil))
	if err := tp.MatchStarted(MatchInfo{}); err == nil {
		t.Fatalf("expected error for provider without factory")
	}
}

func TestSchemeResolver(t *testing.T) {
	r := NewSchemeResolver()
	f, err := r.Resolve(team.A, "alpha", "builtin:Rush")
	if err != nil || f == nil {
		t.Fatalf("Resolve builtin: f=%v err=%v", f, err)
	}
	for _, ref := range []string{"rush", "nope:rush", "builtin:unknown"} {
		if _, err := r.Resolve(team.A, "alpha", ref); err == nil {
			t.Fatalf("expected error for %q", ref)
		}
	}
	r.Handle("test", func(team.Team, string, string) (Factory, error) {
		return func() Controller { return FuncController(idleTurn) }, nil
	})
	if _, err := r.Resolve(team.B, "beta", "TEST:anything"); err != nil {
		t.Fatalf("custom scheme: %v", err)
	}
}

func TestRusher(t *testing.T) {
	info := MatchInfo{Width: 10, Height: 10, Range: 2, MaxDamage: 3}
	r := &rusher{}
	if err := r.Setup(info); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	self := agent(1, team.A, 0, 0)
	far := agent(9, team.B, 5, 3)
	near := agent(7, team.B, 2, 2)

	got, _ := r.Turn(&stubView{self: self, objs: []ObjectInfo{self, far}})
	if len(got) != 1 || got[0].Kind != EffectMove || got[0].DX != 1 || got[0].DY != 1 {
		t.Fatalf("expected diagonal move, got %+v", got)
	}
	got, _ = r.Turn(&stubView{self: self, objs: []ObjectInfo{self, far, near}})
	if len(got) != 1 || got[0].Kind != EffectAttack || got[0].TargetID != 7 || got[0].Damage != 3 {
		t.Fatalf("expected attack on 7, got %+v", got)
	}
}

func TestCounterWritesPreviousPlusOne(t *testing.T) {
	c := &counter{}
	v := &stubView{round: 0}
	v.prev[0] = 4
	got, err := c.Turn(v)
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if len(got) != 2 || got[0].Kind != EffectWriteMemory || got[0].Value != 5 || got[0].Index != 0 {
		t.Fatalf("got %+v", got)
	}
	v.round = 1
	got, _ = c.Turn(v)
	if len(got) != 1 || got[0].Kind != EffectHarvest {
		t.Fatalf("later rounds should only harvest: %+v", got)
	}
}
