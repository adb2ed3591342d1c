package script

import (
	"sort"

	"github.com/Shopify/go-lua"
)

// DefaultMaxInstructions bounds one turn, and the top-level chunk run at
// setup, when no limit is configured.
const DefaultMaxInstructions = 1_000_000

// hookStep is how many VM instructions run between budget checks.
const hookStep = 1000

// budget counts VM instructions through a count hook. Once spent, the hook
// fires on every instruction so a pcall in the script cannot keep going.
type budget struct {
	limit int
	used  int
	step  int
}

func (b *budget) install(l *lua.State) {
	if b.limit <= 0 {
		b.limit = DefaultMaxInstructions
	}
	b.used = 0
	b.step = min(hookStep, b.limit)
	lua.SetDebugHook(l, b.hook, lua.MaskCount, b.step)
}

func (b *budget) hook(l *lua.State, _ lua.Debug) {
	b.used += b.step
	if b.used < b.limit {
		return
	}
	if b.step != 1 {
		b.step = 1
		lua.SetDebugHook(l, b.hook, lua.MaskCount, 1)
	}
	lua.Errorf(l, "instruction budget of %d exceeded", b.limit)
}

// tableKey is a table key with a total order: numbers ascending, then
// strings, then false and true.
type tableKey struct {
	rank int
	num  float64
	str  string
	b    bool
}

func (k tableKey) less(o tableKey) bool {
	if k.rank != o.rank {
		return k.rank < o.rank
	}
	switch k.rank {
	case 0:
		return k.num < o.num
	case 1:
		return k.str < o.str
	}
	return !k.b && o.b
}

func (k tableKey) push(l *lua.State) {
	switch k.rank {
	case 0:
		l.PushNumber(k.num)
	case 1:
		l.PushString(k.str)
	default:
		l.PushBoolean(k.b)
	}
}

func toKey(l *lua.State, index int) (tableKey, bool) {
	switch l.TypeOf(index) {
	case lua.TypeNumber:
		n, _ := l.ToNumber(index)
		return tableKey{rank: 0, num: n}, true
	case lua.TypeString:
		s, _ := l.ToString(index)
		return tableKey{rank: 1, str: s}, true
	case lua.TypeBoolean:
		return tableKey{rank: 2, b: l.ToBoolean(index)}, true
	}
	return tableKey{}, false
}

// sortedKeys lists the keys of the table at the absolute index. Tables,
// functions and userdata as keys have no stable order and raise an error.
func sortedKeys(l *lua.State, index int) []tableKey {
	var keys []tableKey
	l.PushNil()
	for l.Next(index) {
		l.Pop(1)
		k, ok := toKey(l, -1)
		if !ok {
			lua.Errorf(l, "%s keys cannot be iterated", lua.TypeNameOf(l, -1))
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })
	return keys
}

// stableNext replaces next. The raw traversal order depends on Go map
// iteration.
func stableNext(l *lua.State) int {
	lua.CheckType(l, 1, lua.TypeTable)
	l.SetTop(2)
	keys := sortedKeys(l, 1)
	i := 0
	if !l.IsNil(2) {
		k, ok := toKey(l, 2)
		i = sort.Search(len(keys), func(j int) bool { return !keys[j].less(k) })
		if !ok || i == len(keys) || keys[i] != k {
			lua.Errorf(l, "invalid key to 'next'")
		}
		i++
	}
	if i >= len(keys) {
		l.PushNil()
		return 1
	}
	keys[i].push(l)
	l.PushValue(-1)
	l.RawGet(1)
	return 2
}

// stablePairs replaces pairs. The key order is fixed when the loop starts;
// entries removed during the loop are skipped. __pairs is not honoured.
func stablePairs(l *lua.State) int {
	lua.CheckType(l, 1, lua.TypeTable)
	keys := sortedKeys(l, 1)
	pos := 0
	l.PushGoFunction(func(l *lua.State) int {
		for pos < len(keys) {
			k := keys[pos]
			pos++
			k.push(l)
			l.PushValue(-1)
			l.RawGet(1)
			if l.IsNil(-1) {
				l.Pop(2)
				continue
			}
			return 2
		}
		l.PushNil()
		return 1
	})
	l.PushValue(1)
	l.PushNil()
	return 3
}
