package protocol

import "encoding/json"

const Version = "1.0"

// Message types on the control socket.
const (
	TypeCommand = "COMMAND"
	TypeAck     = "ACK"
	TypeState   = "STATE"
	TypeRound   = "ROUND"
	TypeResult  = "RESULT"
)

// Record types in replay files.
const (
	RecordSeries    = "SERIES"
	RecordMatch     = "MATCH"
	RecordRound     = "ROUND"
	RecordMatchEnd  = "MATCH_END"
	RecordSeriesEnd = "SERIES_END"
	RecordError     = "ERROR"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
