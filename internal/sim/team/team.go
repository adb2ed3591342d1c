package team

import (
	"fmt"
	"strings"
)

// Team is a logical side of a match. NEUTRAL objects never compete.
type Team uint8

const (
	A Team = iota
	B
	Neutral
)

func (t Team) String() string {
	switch t {
	case A:
		return "A"
	case B:
		return "B"
	case Neutral:
		return "NEUTRAL"
	default:
		return fmt.Sprintf("Team(%d)", uint8(t))
	}
}

// Competing reports whether t is one of the two playing sides.
func (t Team) Competing() bool { return t == A || t == B }

// Opponent returns the other competing team. Neutral maps to itself.
func (t Team) Opponent() Team {
	switch t {
	case A:
		return B
	case B:
		return A
	default:
		return t
	}
}

func Parse(s string) (Team, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A":
		return A, nil
	case "B":
		return B, nil
	case "NEUTRAL", "N":
		return Neutral, nil
	}
	return Neutral, fmt.Errorf("unknown team %q", s)
}

func (t Team) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Team) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Mapping assigns the stable numeric IDs recorded in replays.
type Mapping struct {
	NameA string
	NameB string
}

const (
	IDNeutral byte = 0
	IDA       byte = 1
	IDB       byte = 2
)

func NewMapping(nameA, nameB string) Mapping {
	return Mapping{NameA: nameA, NameB: nameB}
}

func (m Mapping) ID(t Team) byte {
	switch t {
	case A:
		return IDA
	case B:
		return IDB
	default:
		return IDNeutral
	}
}

func (m Mapping) Team(id byte) (Team, bool) {
	switch id {
	case IDA:
		return A, true
	case IDB:
		return B, true
	case IDNeutral:
		return Neutral, true
	}
	return Neutral, false
}

func (m Mapping) Name(t Team) string {
	switch t {
	case A:
		return m.NameA
	case B:
		return m.NameB
	default:
		return "neutralplayer"
	}
}
