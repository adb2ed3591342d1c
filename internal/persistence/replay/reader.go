package replay

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"arenasim.ai/internal/protocol"
	"arenasim.ai/internal/sim/signal"
)

// Match is one decoded match of a replay.
type Match struct {
	Header protocol.MatchHeader
	Rounds []protocol.RoundRecord
	Footer *protocol.MatchFooter
}

// Replay is a decoded replay file.
type Replay struct {
	Series  protocol.SeriesHeader
	Matches []*Match
	Footer  *protocol.SeriesFooter
	Error   *protocol.ErrorRecord
}

// Complete reports whether the series ran to its footer without an error
// marker.
func (r *Replay) Complete() bool { return r.Footer != nil && r.Error == nil }

func Open(path string) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

func Read(src io.Reader) (*Replay, error) {
	dec, err := zstd.NewReader(src)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	out := &Replay{}
	var cur *Match
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		base, err := protocol.DecodeBase(raw)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		switch base.Type {
		case protocol.RecordSeries:
			err = json.Unmarshal(raw, &out.Series)
		case protocol.RecordMatch:
			cur = &Match{}
			err = json.Unmarshal(raw, &cur.Header)
			out.Matches = append(out.Matches, cur)
		case protocol.RecordRound:
			if cur == nil {
				return nil, fmt.Errorf("line %d: round before match header", line)
			}
			var rec protocol.RoundRecord
			err = json.Unmarshal(raw, &rec)
			cur.Rounds = append(cur.Rounds, rec)
		case protocol.RecordMatchEnd:
			if cur == nil {
				return nil, fmt.Errorf("line %d: match footer before match header", line)
			}
			cur.Footer = &protocol.MatchFooter{}
			err = json.Unmarshal(raw, cur.Footer)
		case protocol.RecordSeriesEnd:
			out.Footer = &protocol.SeriesFooter{}
			err = json.Unmarshal(raw, out.Footer)
		case protocol.RecordError:
			out.Error = &protocol.ErrorRecord{}
			err = json.Unmarshal(raw, out.Error)
		default:
			err = fmt.Errorf("unknown record type %q", base.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Verify recomputes every round digest from the recorded signals.
func (r *Replay) Verify() error {
	for _, m := range r.Matches {
		for _, rec := range m.Rounds {
			if got := signal.Digest(rec.Round, rec.Signals); got != rec.Digest {
				return fmt.Errorf("match %d (%s) round %d: digest mismatch", m.Header.Index, m.Header.Map, rec.Round)
			}
			for i, env := range rec.Signals {
				if _, err := signal.Decode(env); err != nil {
					return fmt.Errorf("match %d round %d signal %d: %w", m.Header.Index, rec.Round, i, err)
				}
			}
		}
	}
	return nil
}
