package world

import (
	"fmt"

	"arenasim.ai/internal/sim/control"
	"arenasim.ai/internal/sim/maps"
	"arenasim.ai/internal/sim/team"
)

// Object is a simulated entity. The world registry owns it.
type Object struct {
	ID   int
	Team team.Team
	Kind string
	HP   int
	X, Y int
}

func (o *Object) Info() control.ObjectInfo {
	return control.ObjectInfo{ID: o.ID, Team: o.Team, Kind: o.Kind, HP: o.HP, X: o.X, Y: o.Y}
}

// Controllable reports whether the object takes turns.
func (o *Object) Controllable() bool {
	return o.Kind == maps.KindAgent && o.Team.Competing()
}

type cell struct{ x, y int }

// registry keeps objects in insertion order, which is also turn order.
type registry struct {
	order []int
	byID  map[int]*Object
	cells map[cell]int
}

func newRegistry() *registry {
	return &registry{byID: map[int]*Object{}, cells: map[cell]int{}}
}

func (r *registry) add(o *Object) error {
	if _, dup := r.byID[o.ID]; dup {
		return fmt.Errorf("object %d already registered", o.ID)
	}
	if id, taken := r.cells[cell{o.X, o.Y}]; taken {
		return fmt.Errorf("cell (%d,%d) occupied by %d", o.X, o.Y, id)
	}
	r.order = append(r.order, o.ID)
	r.byID[o.ID] = o
	r.cells[cell{o.X, o.Y}] = o.ID
	return nil
}

func (r *registry) remove(id int) {
	o, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	delete(r.cells, cell{o.X, o.Y})
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *registry) get(id int) *Object { return r.byID[id] }

func (r *registry) occupied(x, y int) bool {
	_, ok := r.cells[cell{x, y}]
	return ok
}

func (r *registry) move(o *Object, x, y int) {
	delete(r.cells, cell{o.X, o.Y})
	o.X, o.Y = x, y
	r.cells[cell{x, y}] = o.ID
}

// live returns the registered objects in insertion order. The slice is a
// snapshot; objects added afterwards are not in it.
func (r *registry) live() []*Object {
	out := make([]*Object, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}
