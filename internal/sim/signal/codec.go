package signal

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Envelope is the JSON form of a signal: its kind plus the variant payload.
type Envelope struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data"`
}

func Encode(s Signal) (Envelope, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", s.Kind(), err)
	}
	return Envelope{Type: s.Kind(), Data: b}, nil
}

func EncodeAll(signals []Signal) ([]Envelope, error) {
	out := make([]Envelope, 0, len(signals))
	for _, s := range signals {
		env, err := Encode(s)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, nil
}

func Decode(env Envelope) (Signal, error) {
	var (
		s   Signal
		err error
	)
	switch env.Type {
	case KindSpawn:
		s, err = decodeAs[Spawn](env.Data)
	case KindMove:
		s, err = decodeAs[Move](env.Data)
	case KindAttack:
		s, err = decodeAs[Attack](env.Data)
	case KindHealth:
		s, err = decodeAs[Health](env.Data)
	case KindDeath:
		s, err = decodeAs[Death](env.Data)
	case KindBroadcast:
		s, err = decodeAs[Broadcast](env.Data)
	case KindResources:
		s, err = decodeAs[Resources](env.Data)
	case KindTeamMemory:
		s, err = decodeAs[TeamMemory](env.Data)
	case KindIndicator:
		s, err = decodeAs[Indicator](env.Data)
	case KindBreakpoint:
		s, err = decodeAs[Breakpoint](env.Data)
	default:
		return nil, fmt.Errorf("unknown signal type %q", env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return s, nil
}

func decodeAs[T Signal](b []byte) (Signal, error) {
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Digest hashes a round's envelopes. Map payloads marshal with sorted keys,
// so equal rounds always hash equal.
func Digest(round int, envs []Envelope) string {
	h := sha256.New()
	fmt.Fprintf(h, "round:%d;", round)
	for _, e := range envs {
		h.Write([]byte(e.Type))
		h.Write([]byte{':'})
		h.Write(e.Data)
		h.Write([]byte{';'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
