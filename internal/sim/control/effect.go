package control

type EffectKind string

const (
	EffectMove        EffectKind = "MOVE"
	EffectAttack      EffectKind = "ATTACK"
	EffectHarvest     EffectKind = "HARVEST"
	EffectSpawn       EffectKind = "SPAWN"
	EffectBroadcast   EffectKind = "BROADCAST"
	EffectWriteMemory EffectKind = "WRITE_MEMORY"
	EffectIndicator   EffectKind = "INDICATOR"
	EffectBreakpoint  EffectKind = "BREAKPOINT"
)

// Effect is a request from a controller. The world validates it when it is
// applied; invalid effects are dropped without a signal.
type Effect struct {
	Kind EffectKind

	DX, DY   int
	TargetID int
	Damage   int

	Channels map[int]int32

	Index  int
	Value  int64
	Mask   int64
	Masked bool

	Text string
}

func Move(dx, dy int) Effect { return Effect{Kind: EffectMove, DX: dx, DY: dy} }

func Attack(targetID, damage int) Effect {
	return Effect{Kind: EffectAttack, TargetID: targetID, Damage: damage}
}

func Harvest() Effect { return Effect{Kind: EffectHarvest} }

func Spawn(dx, dy int) Effect { return Effect{Kind: EffectSpawn, DX: dx, DY: dy} }

func Broadcast(channels map[int]int32) Effect {
	return Effect{Kind: EffectBroadcast, Channels: channels}
}

func WriteMemory(index int, value int64) Effect {
	return Effect{Kind: EffectWriteMemory, Index: index, Value: value}
}

func WriteMemoryMasked(index int, value, mask int64) Effect {
	return Effect{Kind: EffectWriteMemory, Index: index, Value: value, Mask: mask, Masked: true}
}

func Indicator(text string) Effect { return Effect{Kind: EffectIndicator, Text: text} }

func Breakpoint() Effect { return Effect{Kind: EffectBreakpoint} }
