package control

import (
	"arenasim.ai/internal/sim/team"
)

// ObjectInfo is the read-only description of a simulated object handed to
// controllers.
type ObjectInfo struct {
	ID   int       `json:"id"`
	Team team.Team `json:"team"`
	Kind string    `json:"kind"`
	HP   int       `json:"hp"`
	X    int       `json:"x"`
	Y    int       `json:"y"`
}

// MatchInfo describes the match a controller is about to play.
type MatchInfo struct {
	MapName    string
	Seed       int64
	Team       team.Team
	Mapping    team.Mapping
	Width      int
	Height     int
	RoundLimit int
	SpawnCost  int64
	MaxDamage  int
	Range      int
}

// View is what a controller can observe while taking one object's turn. It
// is only valid for the duration of that turn.
type View interface {
	Round() int
	Self() ObjectInfo
	// Objects lists every live object in turn order.
	Objects() []ObjectInfo
	Resources(t team.Team) int64
	// Memory reads the own team's slot as written so far this series.
	Memory(index int) (int64, error)
	// PreviousMemory reads the own team's slot as it was when the match began.
	PreviousMemory(index int) (int64, error)
	Radio(channel int) int32
}

// Controller supplies turns for a single object.
type Controller interface {
	Setup(info MatchInfo) error
	Turn(v View) ([]Effect, error)
	Teardown()
}

// Factory builds a fresh controller. Providers call it once per object per
// match so nothing carries over between matches.
type Factory func() Controller

// Provider resolves and runs the turns of every object in a match.
type Provider interface {
	MatchStarted(info MatchInfo) error
	ObjectSpawned(obj ObjectInfo)
	ObjectRemoved(id int)
	RoundStarted(round int)
	// Turn never fails: a misbehaving controller yields an empty turn.
	Turn(obj ObjectInfo, v View) []Effect
	MatchEnded()
}

// FuncController adapts a plain function. Setup and Teardown are no-ops.
type FuncController func(v View) ([]Effect, error)

func (f FuncController) Setup(MatchInfo) error         { return nil }
func (f FuncController) Turn(v View) ([]Effect, error) { return f(v) }
func (f FuncController) Teardown()                     {}
