package main

import (
	"flag"
	"fmt"
	"os"

	"arenasim.ai/internal/persistence/replay"
	"arenasim.ai/internal/sim/control/script"
	"arenasim.ai/internal/sim/maps"
	"arenasim.ai/internal/sim/runner"
	"arenasim.ai/internal/tuning"
)

func main() {
	var (
		path       = flag.String("replay", "", "path to .jsonl.zst replay")
		mapDir     = flag.String("maps", "./maps", "map directory")
		botDir     = flag.String("bots", "./bots", "lua controller directory")
		resim      = flag.Bool("resim", false, "re-run every match and compare round digests")
		verbose    = flag.Bool("v", false, "print one line per round")
		maxEffects = flag.Int("max_effects", tuning.Defaults().MaxEffectsPerTurn, "effect budget used when the replay was recorded")
		maxInstr   = flag.Int("max_instructions", tuning.Defaults().MaxInstructionsPerTurn, "lua instruction budget used when the replay was recorded")
	)
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "missing -replay")
		os.Exit(2)
	}

	rp, err := replay.Open(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read replay:", err)
		os.Exit(1)
	}

	fmt.Printf("series %s protocol=%s maps=%v majority=%t\n", rp.Series.SeriesID, rp.Series.ProtocolVersion, rp.Series.Maps, rp.Series.Majority)
	for _, t := range rp.Series.Teams {
		fmt.Printf("  team %s id=%d name=%s controller=%s\n", t.Team, t.ID, t.Name, t.Controller)
	}
	for _, m := range rp.Matches {
		fmt.Printf("match %d map=%s seed=%d size=%dx%d rounds=%d\n", m.Header.Index, m.Header.Map, m.Header.Seed, m.Header.Width, m.Header.Height, len(m.Rounds))
		if *verbose {
			for _, r := range m.Rounds {
				fmt.Printf("  round %d signals=%d digest=%s\n", r.Round, len(r.Signals), r.Digest)
			}
		}
		if f := m.Footer; f != nil {
			fmt.Printf("  winner %s (%s) by %s after %d rounds, faults=%d\n", f.Winner, f.WinnerName, f.Factor, f.Rounds, f.Faults)
		}
	}
	switch {
	case rp.Footer != nil:
		fmt.Printf("series winner %s (%s) %d-%d over %d matches\n", rp.Footer.Winner, rp.Footer.WinnerName, rp.Footer.WinsA, rp.Footer.WinsB, rp.Footer.Played)
	case rp.Error != nil:
		fmt.Printf("series aborted: %s\n", rp.Error.Message)
	default:
		fmt.Println("series incomplete")
	}

	if err := rp.Verify(); err != nil {
		fmt.Fprintln(os.Stderr, "verify:", err)
		os.Exit(1)
	}
	fmt.Println("digests OK")

	if !*resim {
		return
	}
	if err := runner.Resimulate(rp, maps.DirLoader{Dir: *mapDir}, script.NewResolver(*botDir, *maxInstr), *maxEffects); err != nil {
		fmt.Fprintln(os.Stderr, "resim:", err)
		os.Exit(1)
	}
	fmt.Printf("resim OK matches=%d\n", len(rp.Matches))
}
