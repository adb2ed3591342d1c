package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "metrics":
			metricsCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd prints the replays under <data>/replays, newest first.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	partial := fs.Bool("partial", false, "include unfinished .partial replays")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "replays")
	files, err := listReplays(base, *partial)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, f := range files {
		fmt.Printf("%s\t%d\t%s\n", f.modTime, f.size, f.path)
	}
}

type replayFile struct {
	path    string
	size    int64
	modTime string
}

func listReplays(base string, partial bool) ([]replayFile, error) {
	var out []replayFile
	err := filepath.WalkDir(base, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if !strings.HasSuffix(name, ".jsonl.zst") && !(partial && strings.HasSuffix(name, ".jsonl.zst.partial")) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(base, path)
		out = append(out, replayFile{path: rel, size: info.Size(), modTime: info.ModTime().UTC().Format("2006-01-02T15:04:05Z")})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].modTime != out[j].modTime {
			return out[i].modTime > out[j].modTime
		}
		return out[i].path < out[j].path
	})
	return out, nil
}
