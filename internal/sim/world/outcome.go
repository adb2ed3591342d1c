package world

import (
	"fmt"

	"arenasim.ai/internal/sim/team"
)

// DominationFactor classifies how a match was won, most decisive first.
type DominationFactor uint8

const (
	Destroyed DominationFactor = iota
	Pwned
	Owned
	BarelyBeat
	WonByDubiousReasons
)

var factorNames = [...]string{
	Destroyed:           "DESTROYED",
	Pwned:               "PWNED",
	Owned:               "OWNED",
	BarelyBeat:          "BARELY_BEAT",
	WonByDubiousReasons: "WON_BY_DUBIOUS_REASONS",
}

var factorReasons = [...]string{
	Destroyed:           "destroyed every enemy agent",
	Pwned:               "won on tiebreakers (more agents alive)",
	Owned:               "won on tiebreakers (more total hit points)",
	BarelyBeat:          "won on tiebreakers (more resources)",
	WonByDubiousReasons: "won by dubious reasons (coin flip)",
}

func (f DominationFactor) String() string {
	if int(f) < len(factorNames) {
		return factorNames[f]
	}
	return fmt.Sprintf("DominationFactor(%d)", uint8(f))
}

// Reason is the human-readable line used in winner banners.
func (f DominationFactor) Reason() string {
	if int(f) < len(factorReasons) {
		return factorReasons[f]
	}
	return f.String()
}

func (f DominationFactor) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

func (f *DominationFactor) UnmarshalText(b []byte) error {
	for i, name := range factorNames {
		if name == string(b) {
			*f = DominationFactor(i)
			return nil
		}
	}
	return fmt.Errorf("unknown domination factor %q", b)
}

// Outcome is the decided result of a match.
type Outcome struct {
	Winner team.Team        `json:"winner"`
	Factor DominationFactor `json:"factor"`
	Rounds int              `json:"rounds"`
}

// standing is one team's tiebreak metrics.
type standing struct {
	agents    int64
	hp        int64
	resources int64
}

func (w *World) standings() [2]standing {
	var out [2]standing
	for _, o := range w.reg.live() {
		if !o.Controllable() {
			continue
		}
		out[o.Team].agents++
		out[o.Team].hp += int64(o.HP)
	}
	out[team.A].resources = w.resources[team.A]
	out[team.B].resources = w.resources[team.B]
	return out
}

// eliminated reports whether at most one team still has agents.
func (w *World) eliminated() bool {
	s := w.standings()
	return s[team.A].agents == 0 || s[team.B].agents == 0
}

// decide picks the winner once the match is over. A unique surviving team wins
// outright; otherwise the tiebreak tiers are compared in order and a full tie
// is settled by the match RNG.
func (w *World) decide() {
	s := w.standings()
	a, b := s[team.A], s[team.B]
	switch {
	case a.agents > 0 && b.agents == 0:
		w.finish(team.A, Destroyed)
		return
	case b.agents > 0 && a.agents == 0:
		w.finish(team.B, Destroyed)
		return
	}
	tiers := []struct {
		factor DominationFactor
		a, b   int64
	}{
		{Pwned, a.agents, b.agents},
		{Owned, a.hp, b.hp},
		{BarelyBeat, a.resources, b.resources},
	}
	for _, tier := range tiers {
		if tier.a > tier.b {
			w.finish(team.A, tier.factor)
			return
		}
		if tier.b > tier.a {
			w.finish(team.B, tier.factor)
			return
		}
	}
	w.finish(team.Team(w.rng.Intn(2)), WonByDubiousReasons)
}

// finish sets the winner and stops the world. It only takes effect once.
func (w *World) finish(t team.Team, f DominationFactor) {
	if w.decided {
		return
	}
	w.decided = true
	w.running = false
	w.winner = t
	w.factor = f
}
