package main

import (
	"os"
	"path/filepath"
	"testing"

	"arenasim.ai/internal/sim/control/script"
	"arenasim.ai/internal/sim/maps"
	"arenasim.ai/internal/sim/runner"
	"arenasim.ai/internal/sim/team"
	"arenasim.ai/internal/tuning"
)

func TestReplayPath(t *testing.T) {
	dir := filepath.Join("data", "replays")
	cases := []struct {
		output string
		want   string
		ok     bool
	}{
		{"", filepath.Join(dir, "s1.jsonl.zst"), true},
		{"finals/s1", filepath.Join(dir, "finals", "s1.jsonl.zst"), true},
		{"finals/s1.jsonl.zst", filepath.Join(dir, "finals", "s1.jsonl.zst"), true},
		{"../escape", "", false},
		{"/abs/path", "", false},
	}
	for _, tc := range cases {
		got, err := replayPath(dir, runner.Descriptor{SeriesID: "s1", Output: tc.output})
		if tc.ok != (err == nil) {
			t.Fatalf("output %q: err=%v", tc.output, err)
		}
		if got != tc.want {
			t.Fatalf("output %q: path=%q want %q", tc.output, got, tc.want)
		}
	}
}

func TestReplayRecorders_CreatesFile(t *testing.T) {
	dir := t.TempDir()
	rec, err := replayRecorders(dir)(runner.Descriptor{SeriesID: "s9"})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "s9.jsonl.zst")); err != nil {
		t.Fatalf("stat: %v", err)
	}
}

func TestBundledAssets(t *testing.T) {
	loader := maps.DirLoader{Dir: filepath.Join("..", "..", "maps")}
	for _, name := range []string{"duel", "crossing"} {
		if _, err := loader.Load(name); err != nil {
			t.Fatalf("map %s: %v", name, err)
		}
	}
	d, err := readDescriptor(filepath.Join("..", "..", "configs", "series.example.json"))
	if err != nil {
		t.Fatalf("descriptor: %v", err)
	}
	d.Normalize()
	if err := d.Check(); err != nil {
		t.Fatalf("descriptor check: %v", err)
	}
	if _, err := script.NewResolver(filepath.Join("..", "..", "bots"), 0).Resolve(team.A, d.TeamA.Name, d.TeamA.Controller); err != nil {
		t.Fatalf("resolve %s: %v", d.TeamA.Controller, err)
	}
	if _, err := tuning.Load(filepath.Join("..", "..", "configs", "tuning.yaml")); err != nil {
		t.Fatalf("tuning: %v", err)
	}
}
