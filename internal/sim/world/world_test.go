package world

import (
	"errors"
	"sort"
	"testing"

	"arenasim.ai/internal/sim/control"
	"arenasim.ai/internal/sim/maps"
	"arenasim.ai/internal/sim/signal"
	"arenasim.ai/internal/sim/team"
)

func builtin(t *testing.T, name string) control.Factory {
	t.Helper()
	f, err := control.NewSchemeResolver().Resolve(team.A, "test", "builtin:"+name)
	if err != nil {
		t.Fatalf("resolve %s: %v", name, err)
	}
	return f
}

func funcs(fn control.FuncController) control.Factory {
	return func() control.Controller { return fn }
}

func newProvider(a, b control.Factory) *control.TeamProvider {
	tp := control.NewTeamProvider()
	tp.Register(team.A, control.NewPlayerProvider("alpha", a))
	tp.Register(team.B, control.NewPlayerProvider("beta", b))
	tp.Register(team.Neutral, control.Null{})
	return tp
}

func mustMap(t *testing.T, d maps.Definition) *maps.Definition {
	t.Helper()
	if d.Name == "" {
		d.Name = "test"
	}
	d.Normalize()
	if err := d.Validate(); err != nil {
		t.Fatalf("map: %v", err)
	}
	return &d
}

func newWorld(t *testing.T, def *maps.Definition, prov control.Provider, mem team.Memory) *World {
	t.Helper()
	w, err := New(Config{Map: def, Provider: prov, Mapping: team.NewMapping("alpha", "beta"), Memory: mem})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(w.Close)
	return w
}

func arenaMap(t *testing.T, seed int64) *maps.Definition {
	return mustMap(t, maps.Definition{
		Name: "arena", Seed: seed, Width: 12, Height: 8, RoundLimit: 80, RandomIDs: true,
		StartResources: 90,
		Spawns: []maps.Spawn{
			{Team: team.A, X: 0, Y: 0}, {Team: team.A, X: 0, Y: 3}, {Team: team.A, X: 1, Y: 7},
			{Team: team.B, X: 11, Y: 0}, {Team: team.B, X: 11, Y: 4}, {Team: team.B, X: 10, Y: 7},
			{Kind: maps.KindObstacle, X: 5, Y: 3}, {Kind: maps.KindObstacle, X: 6, Y: 4},
		},
	})
}

func roundDigest(t *testing.T, w *World) string {
	t.Helper()
	envs, err := signal.EncodeAll(w.RoundSignals())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return signal.Digest(w.CurrentRound(), envs)
}

func TestDeterminism_SameSeedSameSignals(t *testing.T) {
	play := func() ([]string, Outcome) {
		w := newWorld(t, arenaMap(t, 42), newProvider(builtin(t, "rush"), builtin(t, "harvest")), team.Memory{})
		digests := []string{roundDigest(t, w)}
		for w.RunRound() != Done {
			digests = append(digests, roundDigest(t, w))
		}
		digests = append(digests, roundDigest(t, w))
		out, ok := w.Outcome()
		if !ok {
			t.Fatalf("match not decided")
		}
		return digests, out
	}
	d1, o1 := play()
	d2, o2 := play()
	if len(d1) != len(d2) {
		t.Fatalf("round count mismatch: %d vs %d", len(d1), len(d2))
	}
	for i := range d1 {
		if d1[i] != d2[i] {
			t.Fatalf("digest mismatch at batch %d", i)
		}
	}
	if o1 != o2 {
		t.Fatalf("outcome mismatch: %+v vs %+v", o1, o2)
	}
}

func TestRoundCounter(t *testing.T) {
	w := newWorld(t, arenaMap(t, 1), newProvider(builtin(t, "idle"), builtin(t, "idle")), team.Memory{})
	if got := w.CurrentRound(); got != -1 {
		t.Fatalf("initial round = %d, want -1", got)
	}
	for i := 0; i < 10; i++ {
		if st := w.RunRound(); st != Continue {
			t.Fatalf("round %d: status %s", i, st)
		}
		if got := w.CurrentRound(); got != i {
			t.Fatalf("round = %d, want %d", got, i)
		}
		if got := w.RoundSignals(); len(got) != 0 {
			t.Fatalf("idle round %d emitted %d signals", i, len(got))
		}
	}
}

func TestIDPool(t *testing.T) {
	def := arenaMap(t, 7)
	def.RandomIDs = false
	draw := func() ([]int, []int) {
		w := newWorld(t, def, nil, team.Memory{})
		w.ReserveRandomIDs(6)
		var pooled []int
		for i := 0; i < 6; i++ {
			pooled = append(pooled, w.NextID())
		}
		var after []int
		for i := 0; i < 3; i++ {
			after = append(after, w.NextID())
		}
		return pooled, after
	}
	p1, a1 := draw()
	p2, _ := draw()

	first := len(def.Spawns) + 1
	sorted := append([]int(nil), p1...)
	sort.Ints(sorted)
	for i, id := range sorted {
		if id != first+i {
			t.Fatalf("pool ids = %v, want each of %d..%d once", p1, first, first+5)
		}
	}
	for i := range p1 {
		if p1[i] != p2[i] {
			t.Fatalf("pool order differs for the same seed: %v vs %v", p1, p2)
		}
	}
	last := first + 5
	for _, id := range a1 {
		if id <= last {
			t.Fatalf("post-pool ids not increasing: %v after %v", a1, p1)
		}
		last = id
	}
}

func TestRandomIDs_InitialSpawns(t *testing.T) {
	w := newWorld(t, arenaMap(t, 3), nil, team.Memory{})
	seen := map[int]bool{}
	for _, o := range w.Objects() {
		if o.ID < 1 || o.ID > 8 || seen[o.ID] {
			t.Fatalf("unexpected id set: %+v", w.Objects())
		}
		seen[o.ID] = true
	}
	if id := w.NextID(); id != 9 {
		t.Fatalf("NextID after setup = %d, want 9", id)
	}
}

func TestTeamMemory(t *testing.T) {
	w := newWorld(t, arenaMap(t, 1), nil, team.Memory{})
	if err := w.SetTeamMemory(team.A, team.MemoryLength, 1); !errors.Is(err, team.ErrIndexOutOfRange) {
		t.Fatalf("expected bounds error, got %v", err)
	}
	if err := w.SetTeamMemory(team.B, -1, 1); !errors.Is(err, team.ErrIndexOutOfRange) {
		t.Fatalf("expected bounds error, got %v", err)
	}
	values := []int64{0, -1, 0x0f0f, 1 << 40, -12345}
	for _, old := range values {
		for _, mask := range values {
			for _, x := range values {
				if err := w.SetTeamMemory(team.B, 5, old); err != nil {
					t.Fatal(err)
				}
				if err := w.SetTeamMemoryMasked(team.B, 5, x, mask); err != nil {
					t.Fatal(err)
				}
				mem := w.TeamMemory()
				got, _ := mem.Get(team.B, 5)
				if want := (old &^ mask) | (x & mask); got != want {
					t.Fatalf("old=%x mask=%x x=%x: got %x want %x", old, mask, x, got, want)
				}
				if (got^old)&^mask != 0 {
					t.Fatalf("bits outside mask changed")
				}
			}
		}
	}
}

func TestTeamMemory_CarriedFromPreviousMatch(t *testing.T) {
	var mem team.Memory
	if err := mem.Set(team.A, 0, 4); err != nil {
		t.Fatal(err)
	}
	w := newWorld(t, arenaMap(t, 1), newProvider(builtin(t, "memory"), builtin(t, "idle")), mem)
	w.RunRound()
	got := w.TeamMemory()
	if v, _ := got.Get(team.A, 0); v != 5 {
		t.Fatalf("slot 0 = %d, want 5", v)
	}
	var writes int
	for _, s := range w.RoundSignals() {
		if tm, ok := s.(signal.TeamMemory); ok {
			writes++
			if tm.Team != team.A || tm.Value != 5 {
				t.Fatalf("unexpected signal %+v", tm)
			}
		}
	}
	if writes != 3 {
		t.Fatalf("expected one write per A agent, got %d", writes)
	}
	if v, _ := mem.Get(team.A, 0); v != 4 {
		t.Fatalf("inbound memory mutated: %d", v)
	}
}

func TestOutcome_Destroyed(t *testing.T) {
	def := mustMap(t, maps.Definition{
		Width: 5, Height: 1,
		Spawns: []maps.Spawn{{Team: team.A, X: 0, Y: 0}, {Team: team.B, X: 2, Y: 0, HP: 3}},
	})
	w := newWorld(t, def, newProvider(builtin(t, "rush"), builtin(t, "idle")), team.Memory{})
	if st := w.RunRound(); st != Done {
		t.Fatalf("status %s, want DONE", st)
	}
	if w.IsRunning() {
		t.Fatalf("world still running after DONE")
	}
	out, ok := w.Outcome()
	if !ok || out.Winner != team.A || out.Factor != Destroyed || out.Rounds != 1 {
		t.Fatalf("outcome = %+v ok=%v", out, ok)
	}
	var kinds []signal.Kind
	for _, s := range w.RoundSignals() {
		kinds = append(kinds, s.Kind())
	}
	want := []signal.Kind{signal.KindAttack, signal.KindHealth, signal.KindDeath}
	if len(kinds) != len(want) {
		t.Fatalf("signals = %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("signals = %v, want %v", kinds, want)
		}
	}
	if st := w.RunRound(); st != Done || w.CurrentRound() != 0 {
		t.Fatalf("finished world advanced: %s round %d", st, w.CurrentRound())
	}
}

func TestOutcome_Tiebreaks(t *testing.T) {
	base := func(spawns ...maps.Spawn) *maps.Definition {
		return mustMap(t, maps.Definition{Width: 8, Height: 8, RoundLimit: 1, Seed: 9, Spawns: spawns})
	}
	cases := []struct {
		name   string
		def    *maps.Definition
		a, b   string
		winner team.Team
		factor DominationFactor
	}{
		{"more agents", base(maps.Spawn{Team: team.A, X: 0, Y: 0}, maps.Spawn{Team: team.B, X: 7, Y: 7, HP: 50}, maps.Spawn{Team: team.A, X: 0, Y: 2}), "idle", "idle", team.A, Pwned},
		{"more hit points", base(maps.Spawn{Team: team.A, X: 0, Y: 0, HP: 4}, maps.Spawn{Team: team.B, X: 7, Y: 7, HP: 5}), "idle", "idle", team.B, Owned},
		{"more resources", base(maps.Spawn{Team: team.A, X: 0, Y: 0}, maps.Spawn{Team: team.B, X: 7, Y: 7}), "idle", "harvest", team.B, BarelyBeat},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := newWorld(t, tc.def, newProvider(builtin(t, tc.a), builtin(t, tc.b)), team.Memory{})
			if st := w.RunRound(); st != Done {
				t.Fatalf("status %s", st)
			}
			out, _ := w.Outcome()
			if out.Winner != tc.winner || out.Factor != tc.factor {
				t.Fatalf("outcome = %+v, want %s by %s", out, tc.winner, tc.factor)
			}
		})
	}
}

func TestOutcome_FullTieIsSeeded(t *testing.T) {
	def := mustMap(t, maps.Definition{
		Width: 4, Height: 4, RoundLimit: 3, Seed: 11,
		Spawns: []maps.Spawn{{Team: team.A, X: 0, Y: 0}, {Team: team.B, X: 3, Y: 3}},
	})
	var first Outcome
	for i := 0; i < 3; i++ {
		w := newWorld(t, def, nil, team.Memory{})
		for w.RunRound() != Done {
		}
		out, _ := w.Outcome()
		if out.Factor != WonByDubiousReasons || out.Rounds != 3 {
			t.Fatalf("outcome = %+v", out)
		}
		if i == 0 {
			first = out
		} else if out != first {
			t.Fatalf("full tie not deterministic: %+v vs %+v", out, first)
		}
	}
}

func TestBreakpoint(t *testing.T) {
	w := newWorld(t, arenaMap(t, 5), newProvider(builtin(t, "breakpoint"), builtin(t, "idle")), team.Memory{})
	if st := w.RunRound(); st != Breakpoint {
		t.Fatalf("round 0 status %s, want BREAKPOINT", st)
	}
	if st := w.RunRound(); st != Continue {
		t.Fatalf("round 1 status %s, want CONTINUE", st)
	}
}

func TestSpawnedObjectsActNextRound(t *testing.T) {
	def := mustMap(t, maps.Definition{
		Width: 6, Height: 3, StartResources: 100, SpawnCost: 50,
		Spawns: []maps.Spawn{{Team: team.A, X: 0, Y: 0}, {Team: team.B, X: 5, Y: 2}},
	})
	w := newWorld(t, def, newProvider(builtin(t, "harvest"), builtin(t, "idle")), team.Memory{})
	w.RunRound()
	var spawned []signal.Spawn
	for _, s := range w.RoundSignals() {
		if sp, ok := s.(signal.Spawn); ok {
			spawned = append(spawned, sp)
		}
	}
	if len(spawned) != 1 || spawned[0].ParentID == 0 || spawned[0].X != 1 || spawned[0].ObjectID != 3 {
		t.Fatalf("spawns = %+v", spawned)
	}
	if got := w.Resources(team.A); got != 51 {
		t.Fatalf("resources = %d, want 51", got)
	}
	w.RunRound()
	if got := w.Resources(team.A); got != 53 {
		t.Fatalf("resources after round 1 = %d, want 53 (parent and child harvest)", got)
	}
	if st := w.Stats(); st.Spawned != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestInvalidEffectsAreDropped(t *testing.T) {
	def := mustMap(t, maps.Definition{
		Width: 3, Height: 3,
		Spawns: []maps.Spawn{{Team: team.A, X: 0, Y: 0}, {Team: team.A, X: 1, Y: 0}, {Team: team.B, X: 2, Y: 2}},
	})
	bad := funcs(func(v control.View) ([]control.Effect, error) {
		self := v.Self()
		return []control.Effect{
			control.Move(2, 0),
			control.Move(-1, 0),
			control.Attack(self.ID, 1),
			control.Attack(99, 1),
			control.WriteMemory(team.MemoryLength, 1),
			control.Spawn(0, 1),
			control.Broadcast(nil),
		}, nil
	})
	w := newWorld(t, def, newProvider(bad, builtin(t, "idle")), team.Memory{})
	w.RunRound()
	if got := w.RoundSignals(); len(got) != 0 {
		t.Fatalf("invalid effects emitted signals: %+v", got)
	}
	if st := w.Stats(); st.Dropped != 14 || st.Applied != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestBroadcastRadio(t *testing.T) {
	def := mustMap(t, maps.Definition{
		Width: 3, Height: 3,
		Spawns: []maps.Spawn{{Team: team.A, X: 0, Y: 0}, {Team: team.A, X: 1, Y: 0}, {Team: team.B, X: 2, Y: 2}},
	})
	var heard []int32
	ctrl := funcs(func(v control.View) ([]control.Effect, error) {
		heard = append(heard, v.Radio(3))
		return []control.Effect{control.Broadcast(map[int]int32{3: int32(v.Self().ID) * 10})}, nil
	})
	w := newWorld(t, def, newProvider(ctrl, builtin(t, "idle")), team.Memory{})
	w.RunRound()
	if len(heard) != 2 || heard[0] != 0 || heard[1] != 10 {
		t.Fatalf("heard = %v", heard)
	}
	sig, ok := w.RoundSignals()[0].(signal.Broadcast)
	if !ok || sig.ObjectID != 1 || sig.Team != team.A || sig.Channels[3] != 10 {
		t.Fatalf("broadcast = %+v", w.RoundSignals()[0])
	}
}
