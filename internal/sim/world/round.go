package world

import (
	"arenasim.ai/internal/sim/control"
	"arenasim.ai/internal/sim/maps"
	"arenasim.ai/internal/sim/signal"
	"arenasim.ai/internal/sim/team"
)

// Status is the result of one round.
type Status uint8

const (
	Continue Status = iota
	Breakpoint
	Done
)

func (s Status) String() string {
	switch s {
	case Continue:
		return "CONTINUE"
	case Breakpoint:
		return "BREAKPOINT"
	case Done:
		return "DONE"
	}
	return "UNKNOWN"
}

const maxIndicatorLen = 128

// RunRound advances the match by exactly one round. Objects act in registry
// order; objects created during the round act from the next one.
func (w *World) RunRound() Status {
	if !w.running || w.provider == nil {
		return Done
	}
	w.round++
	w.log.Reset(w.round)
	w.breakpoint = false
	w.provider.RoundStarted(w.round)

	for _, o := range w.reg.live() {
		if w.reg.get(o.ID) != o || !o.Controllable() {
			continue
		}
		effects := w.provider.Turn(o.Info(), &view{w: w, self: o})
		for _, e := range effects {
			if w.reg.get(o.ID) != o {
				break
			}
			if w.apply(o, e) {
				w.stats.Applied++
			} else {
				w.stats.Dropped++
			}
		}
	}
	return w.evaluate()
}

func (w *World) evaluate() Status {
	switch {
	case w.round+1 >= w.def.RoundLimit:
		w.decide()
		return Done
	case w.eliminated():
		w.decide()
		return Done
	case w.breakpoint:
		return Breakpoint
	}
	return Continue
}

// apply validates and performs one effect, emitting its signals. It reports
// false for effects that were dropped.
func (w *World) apply(o *Object, e control.Effect) bool {
	switch e.Kind {
	case control.EffectMove:
		return w.applyMove(o, e.DX, e.DY)
	case control.EffectAttack:
		return w.applyAttack(o, e.TargetID, e.Damage)
	case control.EffectHarvest:
		w.resources[o.Team] += w.def.HarvestYield
		w.log.Add(signal.Resources{Team: o.Team, Amount: w.resources[o.Team]})
		return true
	case control.EffectSpawn:
		return w.applySpawn(o, e.DX, e.DY)
	case control.EffectBroadcast:
		if len(e.Channels) == 0 {
			return false
		}
		for ch, v := range e.Channels {
			w.radio[o.Team][ch] = v
		}
		w.log.Add(signal.NewBroadcast(o.ID, o.Team, e.Channels))
		return true
	case control.EffectWriteMemory:
		var err error
		if e.Masked {
			err = w.memory.SetMasked(o.Team, e.Index, e.Value, e.Mask)
		} else {
			err = w.memory.Set(o.Team, e.Index, e.Value)
		}
		if err != nil {
			return false
		}
		v, _ := w.memory.Get(o.Team, e.Index)
		w.log.Add(signal.TeamMemory{Team: o.Team, Index: e.Index, Value: v})
		return true
	case control.EffectIndicator:
		text := e.Text
		if r := []rune(text); len(r) > maxIndicatorLen {
			text = string(r[:maxIndicatorLen])
		}
		w.log.Add(signal.Indicator{ObjectID: o.ID, Text: text})
		return true
	case control.EffectBreakpoint:
		w.breakpoint = true
		w.log.Add(signal.Breakpoint{ObjectID: o.ID})
		return true
	}
	return false
}

func (w *World) inBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < w.def.Width && y < w.def.Height
}

func step(d int) bool { return d >= -1 && d <= 1 }

func (w *World) applyMove(o *Object, dx, dy int) bool {
	if !step(dx) || !step(dy) || (dx == 0 && dy == 0) {
		return false
	}
	nx, ny := o.X+dx, o.Y+dy
	if !w.inBounds(nx, ny) || w.reg.occupied(nx, ny) {
		return false
	}
	w.reg.move(o, nx, ny)
	w.log.Add(signal.Move{ObjectID: o.ID, X: nx, Y: ny})
	return true
}

func (w *World) applyAttack(o *Object, targetID, damage int) bool {
	t := w.reg.get(targetID)
	if t == nil || t == o || t.Team == o.Team || t.Kind != maps.KindAgent || damage <= 0 {
		return false
	}
	if max(abs(t.X-o.X), abs(t.Y-o.Y)) > w.def.AttackRange {
		return false
	}
	damage = min(damage, w.def.MaxDamage)
	w.log.Add(signal.Attack{ObjectID: o.ID, TargetID: t.ID, Damage: damage})
	t.HP -= damage
	w.log.Add(signal.Health{ObjectID: t.ID, HP: max(t.HP, 0)})
	if t.HP <= 0 {
		w.kill(t)
	}
	return true
}

func (w *World) kill(o *Object) {
	w.reg.remove(o.ID)
	w.stats.Deaths++
	w.log.Add(signal.Death{ObjectID: o.ID})
	w.provider.ObjectRemoved(o.ID)
}

func (w *World) applySpawn(o *Object, dx, dy int) bool {
	if !step(dx) || !step(dy) || (dx == 0 && dy == 0) {
		return false
	}
	nx, ny := o.X+dx, o.Y+dy
	if !w.inBounds(nx, ny) || w.reg.occupied(nx, ny) {
		return false
	}
	if w.resources[o.Team] < w.def.SpawnCost {
		return false
	}
	w.resources[o.Team] -= w.def.SpawnCost
	w.log.Add(signal.Resources{Team: o.Team, Amount: w.resources[o.Team]})
	child := &Object{ID: w.NextID(), Team: o.Team, Kind: maps.KindAgent, HP: w.def.SpawnHP, X: nx, Y: ny}
	if err := w.place(child, o.ID); err != nil {
		return false
	}
	w.stats.Spawned++
	return true
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// view is the read side of the world handed to a controller for one turn.
type view struct {
	w    *World
	self *Object
}

func (v *view) Round() int                    { return v.w.round }
func (v *view) Self() control.ObjectInfo      { return v.self.Info() }
func (v *view) Objects() []control.ObjectInfo { return v.w.Objects() }
func (v *view) Resources(t team.Team) int64   { return v.w.Resources(t) }

func (v *view) Memory(index int) (int64, error) {
	return v.w.memory.Get(v.self.Team, index)
}

func (v *view) PreviousMemory(index int) (int64, error) {
	return v.w.previous.Get(v.self.Team, index)
}

func (v *view) Radio(channel int) int32 {
	return v.w.radio[v.self.Team][channel]
}
