package protocol

import (
	"arenasim.ai/internal/sim/signal"
)

// Commands accepted on the control socket.
const (
	CmdStart     = "START"
	CmdPause     = "PAUSE"
	CmdResume    = "RESUME"
	CmdRun       = "RUN"
	CmdRunUntil  = "RUN_UNTIL"
	CmdEnqueue   = "ENQUEUE"
	CmdTerminate = "TERMINATE"
	CmdState     = "STATE"
)

// COMMAND (operator -> server)
type CommandMsg struct {
	Type            string           `json:"type"`
	ProtocolVersion string           `json:"protocol_version,omitempty"`
	ReqID           string           `json:"req_id,omitempty"`
	Cmd             string           `json:"cmd"`
	Round           int              `json:"round,omitempty"`
	Descriptor      *MatchDescriptor `json:"descriptor,omitempty"`
}

// ACK (server -> operator)
type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	OK              bool   `json:"ok"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	SeriesID        string `json:"series_id,omitempty"`
	State           string `json:"state"`
}

// STATE (server -> operator)
type StateMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	State           string `json:"state"`
	MatchRunning    bool   `json:"match_running"`
	Queued          int    `json:"queued"`
	SeriesID        string `json:"series_id,omitempty"`
	MatchIndex      int    `json:"match_index"`
	Map             string `json:"map,omitempty"`
	Round           int    `json:"round"`
	Ceiling         int    `json:"ceiling,omitempty"`
	WinsA           int    `json:"wins_a"`
	WinsB           int    `json:"wins_b"`
	WinnerSummary   string `json:"winner_summary,omitempty"`
}

// ROUND (server -> observers)
type RoundMsg struct {
	Type       string            `json:"type"`
	SeriesID   string            `json:"series_id"`
	MatchIndex int               `json:"match_index"`
	Map        string            `json:"map"`
	Round      int               `json:"round"`
	Digest     string            `json:"digest"`
	Signals    []signal.Envelope `json:"signals,omitempty"`
}

// RESULT (server -> observers)
type ResultMsg struct {
	Type     string        `json:"type"`
	SeriesID string        `json:"series_id"`
	Match    *MatchFooter  `json:"match,omitempty"`
	Series   *SeriesFooter `json:"series,omitempty"`
	Error    string        `json:"error,omitempty"`
}
