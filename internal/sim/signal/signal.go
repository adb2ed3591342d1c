package signal

import (
	"arenasim.ai/internal/sim/team"
)

type Kind string

const (
	KindSpawn      Kind = "SPAWN"
	KindMove       Kind = "MOVE"
	KindAttack     Kind = "ATTACK"
	KindHealth     Kind = "HEALTH"
	KindDeath      Kind = "DEATH"
	KindBroadcast  Kind = "BROADCAST"
	KindResources  Kind = "RESOURCES"
	KindTeamMemory Kind = "TEAM_MEMORY"
	KindIndicator  Kind = "INDICATOR"
	KindBreakpoint Kind = "BREAKPOINT"
)

// Signal is one state-changing effect observed during a round. The set of
// implementations is closed to this package.
type Signal interface {
	Kind() Kind
	sealed()
}

type Spawn struct {
	ObjectID int       `json:"object_id"`
	ParentID int       `json:"parent_id,omitempty"`
	Team     team.Team `json:"team"`
	ObjKind  string    `json:"obj_kind"`
	X        int       `json:"x"`
	Y        int       `json:"y"`
	HP       int       `json:"hp"`
}

type Move struct {
	ObjectID int `json:"object_id"`
	X        int `json:"x"`
	Y        int `json:"y"`
}

type Attack struct {
	ObjectID int `json:"object_id"`
	TargetID int `json:"target_id"`
	Damage   int `json:"damage"`
}

type Health struct {
	ObjectID int `json:"object_id"`
	HP       int `json:"hp"`
}

type Death struct {
	ObjectID int `json:"object_id"`
}

// Broadcast records a message. Channels maps channel index to the value
// written; keys are unique and their order carries no meaning.
type Broadcast struct {
	ObjectID int           `json:"object_id"`
	Team     team.Team     `json:"team"`
	Channels map[int]int32 `json:"channels"`
}

type Resources struct {
	Team   team.Team `json:"team"`
	Amount int64     `json:"amount"`
}

type TeamMemory struct {
	Team  team.Team `json:"team"`
	Index int       `json:"index"`
	Value int64     `json:"value"`
}

type Indicator struct {
	ObjectID int    `json:"object_id"`
	Text     string `json:"text"`
}

type Breakpoint struct {
	ObjectID int `json:"object_id"`
}

func (Spawn) Kind() Kind      { return KindSpawn }
func (Move) Kind() Kind       { return KindMove }
func (Attack) Kind() Kind     { return KindAttack }
func (Health) Kind() Kind     { return KindHealth }
func (Death) Kind() Kind      { return KindDeath }
func (Broadcast) Kind() Kind  { return KindBroadcast }
func (Resources) Kind() Kind  { return KindResources }
func (TeamMemory) Kind() Kind { return KindTeamMemory }
func (Indicator) Kind() Kind  { return KindIndicator }
func (Breakpoint) Kind() Kind { return KindBreakpoint }

func (Spawn) sealed()      {}
func (Move) sealed()       {}
func (Attack) sealed()     {}
func (Health) sealed()     {}
func (Death) sealed()      {}
func (Broadcast) sealed()  {}
func (Resources) sealed()  {}
func (TeamMemory) sealed() {}
func (Indicator) sealed()  {}
func (Breakpoint) sealed() {}

// NewBroadcast copies channels so later writes by the caller cannot reach the
// recorded payload.
func NewBroadcast(objectID int, t team.Team, channels map[int]int32) Broadcast {
	cp := make(map[int]int32, len(channels))
	for k, v := range channels {
		cp[k] = v
	}
	return Broadcast{ObjectID: objectID, Team: t, Channels: cp}
}
