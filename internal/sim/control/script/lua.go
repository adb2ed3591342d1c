package script

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/Shopify/go-lua"

	"arenasim.ai/internal/sim/control"
	"arenasim.ai/internal/sim/team"
)

const turnFunc = "turn"

var errNoTurn = errors.New("script does not define turn(view)")

// Source is a compiled-once reference to a Lua script. Every controller gets
// its own interpreter state. MaxInstructions bounds each turn; zero means
// DefaultMaxInstructions.
type Source struct {
	Name            string
	Code            string
	MaxInstructions int
}

func Load(path string) (Source, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Source{}, err
	}
	return Source{Name: filepath.Base(path), Code: string(b)}, nil
}

// Factory returns a control.Factory running src.
func (src Source) Factory() control.Factory {
	return func() control.Controller { return &Controller{src: src} }
}

// NewResolver returns a resolver for builtin and "lua:" references. Script
// paths are relative to dir.
func NewResolver(dir string, maxInstructions int) *control.SchemeResolver {
	r := control.NewSchemeResolver()
	r.Handle("lua", Resolver(dir, maxInstructions))
	return r
}

// Resolver handles "lua:<path>" references relative to dir.
func Resolver(dir string, maxInstructions int) func(t team.Team, name, rest string) (control.Factory, error) {
	return func(_ team.Team, _ string, rest string) (control.Factory, error) {
		rel := filepath.Clean(strings.TrimSpace(rest))
		if rel == "." || filepath.IsAbs(rel) || strings.HasPrefix(rel, "..") {
			return nil, fmt.Errorf("invalid script path %q", rest)
		}
		src, err := Load(filepath.Join(dir, rel))
		if err != nil {
			return nil, err
		}
		src.MaxInstructions = maxInstructions
		return src.Factory(), nil
	}
}

// Controller runs turn(view) from a Lua script. Scripts see a view table and
// return a list of effect tables, e.g. {type="MOVE", dx=1, dy=0}.
//
// Lua numbers are doubles, so memory values travel exactly only within
// ±2^53. memory(i) also returns the value as hi, lo 32-bit halves (hi
// signed, lo unsigned), and write_memory accepts value_hi/value_lo and
// mask_hi/mask_lo in place of value and mask.
type Controller struct {
	src    Source
	l      *lua.State
	info   control.MatchInfo
	cur    control.View
	budget budget
}

func (c *Controller) Setup(info control.MatchInfo) error {
	c.info = info
	l := lua.NewState()
	openSafeLibraries(l)
	c.registerHelpers(l)
	c.budget = budget{limit: c.src.MaxInstructions}
	c.budget.install(l)

	if err := lua.LoadBuffer(l, c.src.Code, "@"+c.src.Name, ""); err != nil {
		return fmt.Errorf("load %s: %w", c.src.Name, err)
	}
	if err := l.ProtectedCall(0, 0, 0); err != nil {
		return fmt.Errorf("run %s: %w", c.src.Name, err)
	}
	l.Global(turnFunc)
	ok := l.IsFunction(-1)
	l.Pop(1)
	if !ok {
		return fmt.Errorf("%s: %w", c.src.Name, errNoTurn)
	}
	c.l = l
	return nil
}

func (c *Controller) Teardown() {
	c.l = nil
	c.cur = nil
}

func (c *Controller) Turn(v control.View) ([]control.Effect, error) {
	if c.l == nil {
		return nil, errors.New("controller not set up")
	}
	l := c.l
	c.cur = v
	defer func() { c.cur = nil }()

	l.SetTop(0)
	c.budget.install(l)
	l.Global(turnFunc)
	pushView(l, v)
	if err := l.ProtectedCall(1, 1, 0); err != nil {
		l.SetTop(0)
		return nil, fmt.Errorf("%s: turn: %w", c.src.Name, err)
	}
	defer l.SetTop(0)
	return readEffects(l)
}

func openSafeLibraries(l *lua.State) {
	libs := []lua.RegistryFunction{
		{Name: "_G", Function: lua.BaseOpen},
		{Name: "table", Function: lua.TableOpen},
		{Name: "string", Function: lua.StringOpen},
		{Name: "math", Function: lua.MathOpen},
		{Name: "bit32", Function: lua.Bit32Open},
	}
	for _, lib := range libs {
		lua.Require(l, lib.Name, lib.Function, true)
		l.Pop(1)
	}
	// No file access and no unseeded randomness.
	for _, name := range []string{"dofile", "loadfile"} {
		l.PushNil()
		l.SetGlobal(name)
	}
	l.Global("math")
	for _, name := range []string{"random", "randomseed"} {
		l.PushNil()
		l.SetField(-2, name)
	}
	l.Pop(1)
	l.Register("next", stableNext)
	l.Register("pairs", stablePairs)
}

func (c *Controller) registerHelpers(l *lua.State) {
	l.Register("memory", func(l *lua.State) int {
		return c.pushMemory(l, false)
	})
	l.Register("previous_memory", func(l *lua.State) int {
		return c.pushMemory(l, true)
	})
	l.Register("radio", func(l *lua.State) int {
		ch := lua.CheckInteger(l, 1)
		if c.cur == nil {
			lua.Errorf(l, "radio called outside turn")
		}
		l.PushInteger(int(c.cur.Radio(ch)))
		return 1
	})
}

func (c *Controller) pushMemory(l *lua.State, previous bool) int {
	idx := lua.CheckInteger(l, 1)
	if c.cur == nil {
		lua.Errorf(l, "memory called outside turn")
	}
	var (
		v   int64
		err error
	)
	if previous {
		v, err = c.cur.PreviousMemory(idx)
	} else {
		v, err = c.cur.Memory(idx)
	}
	if err != nil {
		lua.Errorf(l, "%s", err.Error())
	}
	l.PushNumber(float64(v))
	l.PushNumber(float64(int32(v >> 32)))
	l.PushNumber(float64(uint32(v)))
	return 3
}

func pushObject(l *lua.State, o control.ObjectInfo) {
	l.CreateTable(0, 6)
	l.PushInteger(o.ID)
	l.SetField(-2, "id")
	l.PushString(o.Team.String())
	l.SetField(-2, "team")
	l.PushString(o.Kind)
	l.SetField(-2, "kind")
	l.PushInteger(o.HP)
	l.SetField(-2, "hp")
	l.PushInteger(o.X)
	l.SetField(-2, "x")
	l.PushInteger(o.Y)
	l.SetField(-2, "y")
}

func pushView(l *lua.State, v control.View) {
	self := v.Self()
	l.CreateTable(0, 6)
	l.PushInteger(v.Round())
	l.SetField(-2, "round")
	pushObject(l, self)
	l.SetField(-2, "self")
	l.PushInteger(int(v.Resources(self.Team)))
	l.SetField(-2, "resources")
	l.PushInteger(int(v.Resources(self.Team.Opponent())))
	l.SetField(-2, "enemy_resources")

	objs := v.Objects()
	l.CreateTable(len(objs), 0)
	for i, o := range objs {
		pushObject(l, o)
		l.RawSetInt(-2, i+1)
	}
	l.SetField(-2, "objects")
}

func readEffects(l *lua.State) ([]control.Effect, error) {
	if l.IsNil(-1) {
		return nil, nil
	}
	if !l.IsTable(-1) {
		return nil, fmt.Errorf("turn must return a table, got %s", lua.TypeNameOf(l, -1))
	}
	n := l.RawLength(-1)
	out := make([]control.Effect, 0, n)
	for i := 1; i <= n; i++ {
		l.RawGetInt(-1, i)
		e, err := readEffect(l)
		l.Pop(1)
		if err != nil {
			return nil, fmt.Errorf("effect %d: %w", i, err)
		}
		out = append(out, e)
	}
	return out, nil
}

func readEffect(l *lua.State) (control.Effect, error) {
	if !l.IsTable(-1) {
		return control.Effect{}, fmt.Errorf("expected table, got %s", lua.TypeNameOf(l, -1))
	}
	kind := strings.ToUpper(fieldString(l, "type"))
	switch control.EffectKind(kind) {
	case control.EffectMove:
		return control.Move(fieldInt(l, "dx"), fieldInt(l, "dy")), nil
	case control.EffectAttack:
		return control.Attack(fieldInt(l, "target"), fieldInt(l, "damage")), nil
	case control.EffectHarvest:
		return control.Harvest(), nil
	case control.EffectSpawn:
		return control.Spawn(fieldInt(l, "dx"), fieldInt(l, "dy")), nil
	case control.EffectBroadcast:
		return control.Broadcast(fieldChannels(l)), nil
	case control.EffectWriteMemory:
		idx := fieldInt(l, "index")
		val, _, err := fieldWord(l, "value")
		if err != nil {
			return control.Effect{}, err
		}
		mask, masked, err := fieldWord(l, "mask")
		if err != nil {
			return control.Effect{}, err
		}
		if masked {
			return control.WriteMemoryMasked(idx, val, mask), nil
		}
		return control.WriteMemory(idx, val), nil
	case control.EffectIndicator:
		return control.Indicator(fieldString(l, "text")), nil
	case control.EffectBreakpoint:
		return control.Breakpoint(), nil
	}
	return control.Effect{}, fmt.Errorf("unknown effect type %q", kind)
}

func fieldInt(l *lua.State, key string) int {
	l.Field(-1, key)
	v, _ := l.ToInteger(-1)
	l.Pop(1)
	return v
}

// maxExact is the largest magnitude a double holds without losing integer
// precision.
const maxExact = 1 << 53

func fieldNumber(l *lua.State, key string) (float64, bool) {
	l.Field(-1, key)
	defer l.Pop(1)
	if l.TypeOf(-1) != lua.TypeNumber {
		return 0, false
	}
	return l.ToNumber(-1)
}

// fieldWord reads a 64-bit word either from key or from its key_hi/key_lo
// halves.
func fieldWord(l *lua.State, key string) (int64, bool, error) {
	hi, hasHi := fieldNumber(l, key+"_hi")
	lo, hasLo := fieldNumber(l, key+"_lo")
	if hasHi || hasLo {
		if !hasHi || !hasLo {
			return 0, false, fmt.Errorf("%s_hi and %s_lo must be given together", key, key)
		}
		if hi != math.Trunc(hi) || hi < math.MinInt32 || hi > math.MaxInt32 {
			return 0, false, fmt.Errorf("%s_hi %v is not a signed 32-bit integer", key, hi)
		}
		if lo != math.Trunc(lo) || lo < 0 || lo > math.MaxUint32 {
			return 0, false, fmt.Errorf("%s_lo %v is not an unsigned 32-bit integer", key, lo)
		}
		return int64(hi)<<32 | int64(lo), true, nil
	}
	n, ok := fieldNumber(l, key)
	if !ok {
		return 0, false, nil
	}
	if n != math.Trunc(n) || n > maxExact || n < -maxExact {
		return 0, false, fmt.Errorf("%s %v is not an integer within ±2^53; use %s_hi/%s_lo", key, n, key, key)
	}
	return int64(n), true, nil
}

func fieldString(l *lua.State, key string) string {
	l.Field(-1, key)
	s, _ := l.ToString(-1)
	l.Pop(1)
	return s
}

func fieldChannels(l *lua.State) map[int]int32 {
	out := map[int]int32{}
	l.Field(-1, "channels")
	if l.IsTable(-1) {
		l.PushNil()
		for l.Next(-2) {
			k, kok := l.ToInteger(-2)
			v, vok := l.ToInteger(-1)
			if kok && vok {
				out[k] = int32(v)
			}
			l.Pop(1)
		}
	}
	l.Pop(1)
	return out
}
