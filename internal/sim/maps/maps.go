package maps

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"arenasim.ai/internal/sim/team"
)

var ErrLoad = errors.New("map load failed")

const (
	KindAgent    = "AGENT"
	KindObstacle = "OBSTACLE"
)

// Definition is an immutable world layout plus the seed every match on it
// starts from.
type Definition struct {
	Name   string `yaml:"name"`
	Seed   int64  `yaml:"seed"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`

	RoundLimit int  `yaml:"round_limit"`
	RandomIDs  bool `yaml:"random_ids"`

	StartResources int64 `yaml:"start_resources"`
	HarvestYield   int64 `yaml:"harvest_yield"`
	SpawnCost      int64 `yaml:"spawn_cost"`
	SpawnHP        int   `yaml:"spawn_hp"`
	MaxDamage      int   `yaml:"max_damage"`
	AttackRange    int   `yaml:"attack_range"`

	Spawns []Spawn `yaml:"spawns"`
}

type Spawn struct {
	Team team.Team `yaml:"team"`
	Kind string    `yaml:"kind"`
	X    int       `yaml:"x"`
	Y    int       `yaml:"y"`
	HP   int       `yaml:"hp"`
}

func (d *Definition) Normalize() {
	if d.RoundLimit <= 0 {
		d.RoundLimit = 2000
	}
	if d.HarvestYield <= 0 {
		d.HarvestYield = 1
	}
	if d.SpawnCost <= 0 {
		d.SpawnCost = 50
	}
	if d.SpawnHP <= 0 {
		d.SpawnHP = 10
	}
	if d.MaxDamage <= 0 {
		d.MaxDamage = 3
	}
	if d.AttackRange <= 0 {
		d.AttackRange = 2
	}
	for i := range d.Spawns {
		if strings.TrimSpace(d.Spawns[i].Kind) == "" {
			d.Spawns[i].Kind = KindAgent
		}
		d.Spawns[i].Kind = strings.ToUpper(d.Spawns[i].Kind)
		if d.Spawns[i].Kind == KindObstacle {
			d.Spawns[i].Team = team.Neutral
		}
		if d.Spawns[i].HP <= 0 {
			d.Spawns[i].HP = d.SpawnHP
		}
	}
}

func (d Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("name must not be empty")
	}
	if d.Width <= 0 || d.Height <= 0 {
		return fmt.Errorf("map %s: width/height must be > 0", d.Name)
	}
	if d.StartResources < 0 {
		return fmt.Errorf("map %s: start_resources must be >= 0", d.Name)
	}
	seen := map[[2]int]bool{}
	var agents [2]int
	for i, s := range d.Spawns {
		if s.X < 0 || s.Y < 0 || s.X >= d.Width || s.Y >= d.Height {
			return fmt.Errorf("map %s: spawns[%d] (%d,%d) outside %dx%d", d.Name, i, s.X, s.Y, d.Width, d.Height)
		}
		if seen[[2]int{s.X, s.Y}] {
			return fmt.Errorf("map %s: spawns[%d] overlaps another spawn at (%d,%d)", d.Name, i, s.X, s.Y)
		}
		seen[[2]int{s.X, s.Y}] = true
		switch s.Kind {
		case KindAgent:
			if !s.Team.Competing() {
				return fmt.Errorf("map %s: spawns[%d] agents must belong to team A or B", d.Name, i)
			}
			agents[s.Team]++
		case KindObstacle:
		default:
			return fmt.Errorf("map %s: spawns[%d] unknown kind %q", d.Name, i, s.Kind)
		}
	}
	if agents[team.A] == 0 || agents[team.B] == 0 {
		return fmt.Errorf("map %s: both teams need at least one agent", d.Name)
	}
	return nil
}

func Parse(raw []byte) (*Definition, error) {
	var d Definition
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	d.Normalize()
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Loader resolves a map name to its definition.
type Loader interface {
	Load(name string) (*Definition, error)
}

// DirLoader reads <Dir>/<name>.yaml.
type DirLoader struct {
	Dir string
}

func (l DirLoader) Load(name string) (*Definition, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return nil, fmt.Errorf("%w: invalid map name %q", ErrLoad, name)
	}
	path := filepath.Join(l.Dir, name+".yaml")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoad, name, err)
	}
	d, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoad, path, err)
	}
	if d.Name != name {
		return nil, fmt.Errorf("%w: %s declares name %q", ErrLoad, path, d.Name)
	}
	return d, nil
}

// Static serves definitions from memory; tests and embedded setups use it.
type Static map[string]*Definition

func (s Static) Load(name string) (*Definition, error) {
	d, ok := s[name]
	if !ok || d == nil {
		return nil, fmt.Errorf("%w: unknown map %q", ErrLoad, name)
	}
	cp := *d
	cp.Spawns = append([]Spawn(nil), d.Spawns...)
	cp.Normalize()
	if err := cp.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoad, name, err)
	}
	return &cp, nil
}
