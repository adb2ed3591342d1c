package signal

import (
	"reflect"
	"testing"

	"arenasim.ai/internal/sim/team"
)

func TestLog_ResetClearsPreviousRound(t *testing.T) {
	l := NewLog()
	if l.Round() != -1 {
		t.Fatalf("fresh log round=%d want -1", l.Round())
	}
	l.Reset(0)
	l.Add(Move{ObjectID: 1, X: 2, Y: 3})
	l.Add(Death{ObjectID: 4})
	got := l.Signals()
	if len(got) != 2 || got[0].Kind() != KindMove || got[1].Kind() != KindDeath {
		t.Fatalf("unexpected signals: %#v", got)
	}

	// The handed-off copy survives the next reset.
	l.Reset(1)
	if l.Len() != 0 || l.Round() != 1 {
		t.Fatalf("after reset: len=%d round=%d", l.Len(), l.Round())
	}
	if len(got) != 2 {
		t.Fatalf("copy was truncated by reset")
	}
}

func TestBroadcast_CopiesChannels(t *testing.T) {
	ch := map[int]int32{1: 10, 7: 70}
	b := NewBroadcast(5, team.B, ch)
	ch[1] = 99
	ch[3] = 3
	if b.Channels[1] != 10 || len(b.Channels) != 2 {
		t.Fatalf("broadcast payload was mutated: %#v", b.Channels)
	}
}

func TestCodec_DecodeRestoresVariant(t *testing.T) {
	in := []Signal{
		Spawn{ObjectID: 3, Team: team.A, ObjKind: "AGENT", X: 1, Y: 2, HP: 10},
		Attack{ObjectID: 3, TargetID: 4, Damage: 2},
		NewBroadcast(3, team.A, map[int]int32{0: 1, 9: -4}),
		TeamMemory{Team: team.B, Index: 31, Value: -1},
		Breakpoint{ObjectID: 3},
	}
	envs, err := EncodeAll(in)
	if err != nil {
		t.Fatalf("EncodeAll: %v", err)
	}
	for i, env := range envs {
		got, err := Decode(env)
		if err != nil {
			t.Fatalf("Decode[%d]: %v", i, err)
		}
		if !reflect.DeepEqual(got, in[i]) {
			t.Fatalf("Decode[%d]: got %#v want %#v", i, got, in[i])
		}
	}
	if _, err := Decode(Envelope{Type: "NOPE", Data: []byte("{}")}); err == nil {
		t.Fatalf("expected error for unknown type")
	}
}

func TestDigest_IgnoresMapInsertionOrder(t *testing.T) {
	a := map[int]int32{}
	b := map[int]int32{}
	for i := 0; i < 50; i++ {
		a[i] = int32(i)
		b[49-i] = int32(49 - i)
	}
	ea, _ := EncodeAll([]Signal{NewBroadcast(1, team.A, a)})
	eb, _ := EncodeAll([]Signal{NewBroadcast(1, team.A, b)})
	if Digest(3, ea) != Digest(3, eb) {
		t.Fatalf("digest depends on map order")
	}
	if Digest(3, ea) == Digest(4, ea) {
		t.Fatalf("digest must include the round")
	}
}
