package protocol

import (
	"arenasim.ai/internal/sim/signal"
	"arenasim.ai/internal/sim/team"
)

// Replay file records. Each line of a replay is one record; Type tells them
// apart.

type TeamRef struct {
	Team       team.Team `json:"team"`
	ID         byte      `json:"id"`
	Name       string    `json:"name"`
	Controller string    `json:"controller"`
}

type SeriesHeader struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	SeriesID        string    `json:"series_id"`
	Teams           []TeamRef `json:"teams"`
	Maps            []string  `json:"maps"`
	Majority        bool      `json:"majority,omitempty"`
}

type MatchHeader struct {
	Type       string `json:"type"`
	Index      int    `json:"index"`
	Map        string `json:"map"`
	Seed       int64  `json:"seed"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	RoundLimit int    `json:"round_limit"`
}

// RoundRecord is one round's signals. Round -1 holds the setup batch.
type RoundRecord struct {
	Type    string            `json:"type"`
	Index   int               `json:"index"`
	Round   int               `json:"round"`
	Digest  string            `json:"digest"`
	Signals []signal.Envelope `json:"signals"`
}

type MatchFooter struct {
	Type       string    `json:"type"`
	Index      int       `json:"index"`
	Map        string    `json:"map"`
	Winner     team.Team `json:"winner"`
	WinnerName string    `json:"winner_name"`
	Factor     string    `json:"factor"`
	Rounds     int       `json:"rounds"`
	Faults     int       `json:"faults"`
}

type SeriesFooter struct {
	Type       string    `json:"type"`
	Winner     team.Team `json:"winner"`
	WinnerName string    `json:"winner_name"`
	WinsA      int       `json:"wins_a"`
	WinsB      int       `json:"wins_b"`
	Played     int       `json:"played"`
}

// ErrorRecord marks a replay whose series did not complete.
type ErrorRecord struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
