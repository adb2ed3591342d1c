package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"arenasim.ai/internal/protocol"
	"arenasim.ai/internal/sim/control"
	"arenasim.ai/internal/sim/signal"
	"arenasim.ai/internal/sim/team"
	"arenasim.ai/internal/sim/world"
	"arenasim.ai/internal/tuning"
)

// series is the state of one descriptor while it runs.
type series struct {
	desc    Descriptor
	mapping team.Mapping
	rec     Recorder
	prov    *control.TeamProvider
	players [2]*control.PlayerProvider

	memory team.Memory
	wins   [2]int
	played int
}

func (r *Runner) openRecorder(d Descriptor) (Recorder, error) {
	if r.recorders == nil {
		return nopRecorder{}, nil
	}
	rec, err := r.recorders(d)
	if err != nil {
		return nil, fmt.Errorf("open recorder: %w", err)
	}
	if rec == nil {
		return nopRecorder{}, nil
	}
	return rec, nil
}

// buildProvider composes the per-team providers: one player provider per
// competing team and a null provider for neutral objects.
func (r *Runner) buildProvider(s *series) error {
	s.prov = control.NewTeamProvider()
	for _, t := range []team.Team{team.A, team.B} {
		ts := s.desc.TeamA
		if t == team.B {
			ts = s.desc.TeamB
		}
		f, err := r.resolver.Resolve(t, ts.Name, ts.Controller)
		if err != nil {
			return err
		}
		p := control.NewPlayerProvider(ts.Name, f)
		p.MaxEffects = r.cfg.MaxEffectsPerTurn
		s.players[t] = p
		s.prov.Register(t, p)
	}
	s.prov.Register(team.Neutral, control.Null{})
	return nil
}

func (r *Runner) runSeries(ctx context.Context, d Descriptor) (err error) {
	rec, err := r.openRecorder(d)
	if err != nil {
		r.results.SeriesFailed(d.SeriesID, err)
		return err
	}
	s := &series{desc: d, mapping: team.NewMapping(d.TeamA.Name, d.TeamB.Name), rec: rec}

	r.updateProgress(func(p *progress) {
		*p = progress{seriesID: d.SeriesID, summary: p.summary}
	})

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v\n%s", p, debug.Stack())
		}
		if err != nil {
			cause := err
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				cause = errors.New("interrupted")
			}
			_ = rec.Abort(cause)
			r.results.SeriesFailed(d.SeriesID, cause)
			r.observer.Publish(protocol.ResultMsg{Type: protocol.TypeResult, SeriesID: d.SeriesID, Error: firstLine(cause.Error())})
		}
		if cerr := rec.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close recorder: %w", cerr)
		}
	}()

	r.debugf("running: %s vs. %s on %s", d.TeamA.Name, d.TeamB.Name, strings.Join(d.Maps, ","))
	if err := r.buildProvider(s); err != nil {
		return err
	}

	header := protocol.SeriesHeader{
		ProtocolVersion: protocol.Version,
		SeriesID:        d.SeriesID,
		Maps:            d.Maps,
		Majority:        d.Majority,
		Teams: []protocol.TeamRef{
			{Team: team.A, ID: s.mapping.ID(team.A), Name: d.TeamA.Name, Controller: d.TeamA.Controller},
			{Team: team.B, ID: s.mapping.ID(team.B), Name: d.TeamB.Name, Controller: d.TeamB.Controller},
		},
	}
	if err := rec.BeginSeries(header); err != nil {
		return fmt.Errorf("record series header: %w", err)
	}
	r.results.SeriesStarted(header, replayPath(rec))

	need := len(d.Maps)/2 + 1
	for i, name := range d.Maps {
		if err := r.runMatch(ctx, s, i, name); err != nil {
			return fmt.Errorf("match %d (%s): %w", i, name, err)
		}
		if d.Majority && (s.wins[team.A] >= need || s.wins[team.B] >= need) {
			if i+1 < len(d.Maps) {
				r.debugf("majority reached after %d of %d maps, skipping the rest", i+1, len(d.Maps))
			}
			break
		}
	}

	// Ties go to team A.
	winner := team.A
	if s.wins[team.B] > s.wins[team.A] {
		winner = team.B
	}
	footer := protocol.SeriesFooter{
		Winner:     winner,
		WinnerName: s.mapping.Name(winner),
		WinsA:      s.wins[team.A],
		WinsB:      s.wins[team.B],
		Played:     s.played,
	}
	if err := rec.EndSeries(footer); err != nil {
		return fmt.Errorf("record series footer: %w", err)
	}
	r.results.SeriesFinished(d.SeriesID, footer)
	r.observer.Publish(protocol.ResultMsg{Type: protocol.TypeResult, SeriesID: d.SeriesID, Series: &footer})
	r.sayf("series %s: %s wins %d-%d", d.SeriesID, footer.WinnerName, footer.WinsA, footer.WinsB)
	return nil
}

func (r *Runner) runMatch(ctx context.Context, s *series, index int, name string) error {
	def, err := r.maps.Load(name)
	if err != nil {
		r.warnf("couldn't load map %s", name)
		return err
	}
	r.debugf("running map %s (seed %d, %dx%d)", def.Name, def.Seed, def.Width, def.Height)

	var faultsBefore [2]int
	for _, t := range []team.Team{team.A, team.B} {
		_, faultsBefore[t] = s.players[t].Faults()
	}

	w, err := world.New(world.Config{Map: def, Provider: s.prov, Mapping: s.mapping, Memory: s.memory})
	if err != nil {
		return err
	}
	defer w.Close()

	header := protocol.MatchHeader{
		Index:      index,
		Map:        def.Name,
		Seed:       def.Seed,
		Width:      def.Width,
		Height:     def.Height,
		RoundLimit: def.RoundLimit,
	}
	if err := s.rec.BeginMatch(header); err != nil {
		return fmt.Errorf("record match header: %w", err)
	}
	r.updateProgress(func(p *progress) {
		p.matchIndex = index
		p.mapName = def.Name
		p.round = w.CurrentRound()
	})
	if err := r.recordRound(s, header, w); err != nil {
		return err
	}

	r.matchRunning.Store(true)
	defer r.matchRunning.Store(false)

	if r.cfg.Interactive {
		r.publishState()
	} else {
		r.sm.setCeiling(0)
		r.notify(func(State) (State, bool) { return Running, true })
	}

	started := time.Now()
	r.sayf("-------------------- Match Starting --------------------")
	r.sayf("%s vs. %s on %s", s.desc.TeamA.Name, s.desc.TeamB.Name, def.Name)

	count := 0
	for w.IsRunning() {
		err := r.sm.await(ctx, func(st State, ceiling int) bool {
			return st == Running && (ceiling <= 0 || w.CurrentRound()+1 < ceiling)
		})
		if err != nil {
			return err
		}

		status := w.RunRound()
		if err := r.recordRound(s, header, w); err != nil {
			return err
		}
		switch status {
		case world.Breakpoint:
			r.debugf("breakpoint at round %d", w.CurrentRound())
			r.notify(func(State) (State, bool) { return Paused, true })
		case world.Done:
			r.notify(func(State) (State, bool) { return Finished, true })
		}

		count++
		if count >= r.cfg.ThrottleCount && r.cfg.ThrottleCount > 0 {
			count = 0
			switch r.cfg.Throttle {
			case tuning.ThrottleYield:
				runtime.Gosched()
			case tuning.ThrottleSleep:
				time.Sleep(time.Millisecond)
			}
		}
	}

	out, ok := w.Outcome()
	if !ok {
		return errors.New("world stopped without a winner")
	}
	s.memory = w.TeamMemory()
	s.wins[out.Winner]++
	s.played++

	faults := 0
	for _, t := range []team.Team{team.A, team.B} {
		_, total := s.players[t].Faults()
		faults += total - faultsBefore[t]
	}

	banner := winnerBanner(s.mapping, out, w.CurrentRound())
	r.sayf("%s", banner)
	r.sayf("-------------------- Match Finished --------------------")
	r.debugf("match completed in %.4g seconds", time.Since(started).Seconds())

	footer := protocol.MatchFooter{
		Index:      index,
		Map:        def.Name,
		Winner:     out.Winner,
		WinnerName: s.mapping.Name(out.Winner),
		Factor:     out.Factor.String(),
		Rounds:     out.Rounds,
		Faults:     faults,
	}
	if err := s.rec.EndMatch(footer); err != nil {
		return fmt.Errorf("record match footer: %w", err)
	}
	r.results.MatchFinished(s.desc.SeriesID, header, footer)
	r.observer.Publish(protocol.ResultMsg{Type: protocol.TypeResult, SeriesID: s.desc.SeriesID, Match: &footer})
	r.updateProgress(func(p *progress) {
		p.winsA = s.wins[team.A]
		p.winsB = s.wins[team.B]
		p.summary = banner
	})
	r.notify(func(State) (State, bool) { return Finished, true })
	return nil
}

// recordRound hands the current signal batch to the recorder, the result
// sink and the live feed.
func (r *Runner) recordRound(s *series, h protocol.MatchHeader, w *world.World) error {
	envs, err := signal.EncodeAll(w.RoundSignals())
	if err != nil {
		return fmt.Errorf("encode round %d: %w", w.CurrentRound(), err)
	}
	rec := protocol.RoundRecord{
		Index:   h.Index,
		Round:   w.CurrentRound(),
		Digest:  signal.Digest(w.CurrentRound(), envs),
		Signals: envs,
	}
	if err := s.rec.WriteRound(rec); err != nil {
		return fmt.Errorf("record round %d: %w", rec.Round, err)
	}
	r.results.RoundPlayed(s.desc.SeriesID, rec)
	r.observer.Publish(protocol.RoundMsg{
		Type:       protocol.TypeRound,
		SeriesID:   s.desc.SeriesID,
		MatchIndex: h.Index,
		Map:        h.Map,
		Round:      rec.Round,
		Digest:     rec.Digest,
		Signals:    envs,
	})
	r.updateProgress(func(p *progress) { p.round = rec.Round })
	return nil
}

// winnerBanner centers "<name> (A)" in 50 columns and adds the round and the
// reason on a second line.
func winnerBanner(m team.Mapping, out world.Outcome, round int) string {
	name := "nobody"
	if out.Winner.Competing() {
		name = fmt.Sprintf("%s (%s)", m.Name(out.Winner), out.Winner)
	}
	pad := (50 - len(name)) / 2
	if pad < 0 {
		pad = 0
	}
	return fmt.Sprintf("%s%s wins (round %d)\nReason: The winning team %s.", strings.Repeat(" ", pad), name, round, out.Factor.Reason())
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
