package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"arenasim.ai/internal/persistence/replay"
	"arenasim.ai/internal/sim/runner"
)

// replayRecorders writes each series to <dir>/<series_id>.jsonl.zst, or to
// the descriptor's output path resolved under dir.
func replayRecorders(dir string) runner.RecorderFactory {
	return func(d runner.Descriptor) (runner.Recorder, error) {
		path, err := replayPath(dir, d)
		if err != nil {
			return nil, err
		}
		return replay.Create(path)
	}
}

func replayPath(dir string, d runner.Descriptor) (string, error) {
	out := strings.TrimSpace(d.Output)
	if out == "" {
		return filepath.Join(dir, d.SeriesID+".jsonl.zst"), nil
	}
	if filepath.IsAbs(out) {
		return "", fmt.Errorf("output %q must be relative to the replay dir", out)
	}
	clean := filepath.Clean(out)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("output %q escapes the replay dir", out)
	}
	if !strings.HasSuffix(clean, ".jsonl.zst") {
		clean += ".jsonl.zst"
	}
	return filepath.Join(dir, clean), nil
}
