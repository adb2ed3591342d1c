package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBase = "https://arenasim.ai/schemas/"

var ErrInvalid = errors.New("invalid message")

// TeamSpec names one side of a series and the controller reference its
// objects are driven by, e.g. "builtin:rush" or "lua:bots/kite.lua".
type TeamSpec struct {
	Name       string `json:"name"`
	Controller string `json:"controller"`
}

// MatchDescriptor is one queued series: two teams, an ordered list of maps,
// and where the replay goes.
type MatchDescriptor struct {
	SeriesID string   `json:"series_id,omitempty"`
	TeamA    TeamSpec `json:"team_a"`
	TeamB    TeamSpec `json:"team_b"`
	Maps     []string `json:"maps"`
	// Majority stops the series once a team has won more than half the maps.
	Majority bool   `json:"majority,omitempty"`
	Output   string `json:"output,omitempty"`
}

var (
	schemasOnce sync.Once
	schemas     map[string]*jsonschema.Schema
	schemasErr  error
)

func compileSchemas() {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	names := []string{"descriptor.schema.json", "command.schema.json"}
	for _, name := range names {
		b, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			schemasErr = err
			return
		}
		if err := c.AddResource(schemaBase+name, bytes.NewReader(b)); err != nil {
			schemasErr = fmt.Errorf("schema %s: %w", name, err)
			return
		}
	}
	schemas = map[string]*jsonschema.Schema{}
	for _, name := range names {
		s, err := c.Compile(schemaBase + name)
		if err != nil {
			schemasErr = fmt.Errorf("compile %s: %w", name, err)
			return
		}
		schemas[name] = s
	}
}

// Validate checks raw JSON against one of the embedded schemas.
func Validate(schema string, raw []byte) error {
	schemasOnce.Do(compileSchemas)
	if schemasErr != nil {
		return schemasErr
	}
	s, ok := schemas[schema]
	if !ok {
		return fmt.Errorf("unknown schema %q", schema)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// DecodeDescriptor validates and decodes a descriptor. A missing series ID is
// filled with a fresh UUID.
func DecodeDescriptor(raw []byte) (MatchDescriptor, error) {
	var d MatchDescriptor
	if err := Validate("descriptor.schema.json", raw); err != nil {
		return d, err
	}
	if err := json.Unmarshal(raw, &d); err != nil {
		return d, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	d.Normalize()
	return d, nil
}

func (d *MatchDescriptor) Normalize() {
	if d.SeriesID == "" {
		d.SeriesID = uuid.NewString()
	}
}

// Check is the in-process counterpart of the schema for descriptors built in
// Go rather than decoded from JSON.
func (d MatchDescriptor) Check() error {
	if len(d.Maps) == 0 {
		return fmt.Errorf("%w: descriptor has no maps", ErrInvalid)
	}
	for _, ts := range []TeamSpec{d.TeamA, d.TeamB} {
		if ts.Name == "" || ts.Controller == "" {
			return fmt.Errorf("%w: team needs a name and a controller", ErrInvalid)
		}
	}
	return nil
}
