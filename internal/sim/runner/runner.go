package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"arenasim.ai/internal/protocol"
	"arenasim.ai/internal/sim/control"
	"arenasim.ai/internal/sim/maps"
	"arenasim.ai/internal/tuning"
)

var ErrNoMaps = errors.New("runner: no map loader configured")

type Options struct {
	Config   tuning.Config
	Maps     maps.Loader
	Resolver control.Resolver

	// Optional.
	Recorders RecorderFactory
	Results   ResultSink
	Observer  Observer
	Logger    *log.Logger
}

// Runner drains a queue of series descriptors on one worker goroutine
// (Loop) and exposes the operator notifications. Notification methods are
// safe from any goroutine.
type Runner struct {
	cfg       tuning.Config
	maps      maps.Loader
	resolver  control.Resolver
	recorders RecorderFactory
	results   ResultSink
	observer  Observer
	logger    *log.Logger

	sm *machine
	q  *queue

	matchRunning atomic.Bool

	mu       sync.Mutex
	progress progress
}

// progress is what STATE reports about the series in flight.
type progress struct {
	seriesID   string
	matchIndex int
	mapName    string
	round      int
	winsA      int
	winsB      int
	summary    string
}

func New(opts Options) (*Runner, error) {
	if opts.Maps == nil {
		return nil, ErrNoMaps
	}
	cfg := opts.Config
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Runner{
		cfg:       cfg,
		maps:      opts.Maps,
		resolver:  opts.Resolver,
		recorders: opts.Recorders,
		results:   opts.Results,
		observer:  opts.Observer,
		logger:    opts.Logger,
		sm:        newMachine(),
		q:         newQueue(),
	}
	if r.resolver == nil {
		r.resolver = control.NewSchemeResolver()
	}
	if r.results == nil {
		r.results = nopResults{}
	}
	if r.observer == nil {
		r.observer = nopObserver{}
	}
	if r.logger == nil {
		r.logger = log.New(os.Stdout, "[runner] ", log.LstdFlags|log.Lmicroseconds)
	}
	return r, nil
}

func (r *Runner) Config() tuning.Config { return r.cfg }

// Start moves NOT_READY to READY. Any other state is left alone.
func (r *Runner) Start() {
	r.notify(func(s State) (State, bool) { return Ready, s == NotReady })
}

// Pause forces PAUSED unless the state is terminal.
func (r *Runner) Pause() {
	r.notify(func(s State) (State, bool) { return Paused, !s.Terminal() })
}

// Resume moves PAUSED to RUNNING. Any other state is left alone.
func (r *Runner) Resume() {
	r.notify(func(s State) (State, bool) { return Running, s == Paused })
}

// Run moves any state but PAUSED to RUNNING.
func (r *Runner) Run() {
	r.notify(func(s State) (State, bool) { return Running, s != Paused })
}

// RunUntil stops advancing before the round that would reach ceiling. Zero
// removes the ceiling.
func (r *Runner) RunUntil(ceiling int) {
	r.sm.setCeiling(ceiling)
	r.publishState()
}

func (r *Runner) notify(fn func(State) (State, bool)) {
	if r.sm.transition(fn) {
		r.publishState()
	}
}

// Enqueue appends a series. The descriptor is checked here so that a bad
// request never reaches the worker.
func (r *Runner) Enqueue(d Descriptor) (string, error) {
	d.Normalize()
	if err := d.Check(); err != nil {
		return "", err
	}
	d.Maps = append([]string(nil), d.Maps...)
	r.q.push(item{desc: d})
	r.debugf("queued series %s: %s vs. %s on %s", d.SeriesID, d.TeamA.Name, d.TeamB.Name, strings.Join(d.Maps, ","))
	return d.SeriesID, nil
}

// Terminate makes the worker exit once everything queued before it ran.
func (r *Runner) Terminate() {
	r.q.push(item{stop: true})
}

func (r *Runner) State() State {
	s, _ := r.sm.get()
	return s
}

func (r *Runner) IsMatchRunning() bool { return r.matchRunning.Load() }

// WinnerSummary is the banner of the last finished match.
func (r *Runner) WinnerSummary() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress.summary
}

// Snapshot is the STATE message for the current moment.
func (r *Runner) Snapshot() protocol.StateMsg {
	s, ceiling := r.sm.get()
	r.mu.Lock()
	p := r.progress
	r.mu.Unlock()
	return protocol.StateMsg{
		Type:            protocol.TypeState,
		ProtocolVersion: protocol.Version,
		State:           s.String(),
		MatchRunning:    r.matchRunning.Load(),
		Queued:          r.q.len(),
		SeriesID:        p.seriesID,
		MatchIndex:      p.matchIndex,
		Map:             p.mapName,
		Round:           p.round,
		Ceiling:         ceiling,
		WinsA:           p.winsA,
		WinsB:           p.winsB,
		WinnerSummary:   p.summary,
	}
}

func (r *Runner) publishState() { r.observer.Publish(r.Snapshot()) }

func (r *Runner) updateProgress(fn func(p *progress)) {
	r.mu.Lock()
	fn(&r.progress)
	r.mu.Unlock()
}

// Loop is the worker. It returns nil on the terminate sentinel or when ctx
// is cancelled, and the error of a failed series otherwise. After an error
// the runner stays in ERROR and the rest of the queue is not run.
func (r *Runner) Loop(ctx context.Context) error {
	for {
		it, err := r.q.pop(ctx)
		if err != nil {
			r.warnf("interrupted while waiting for the next series")
			return nil
		}
		if it.stop {
			r.debugf("shutting down worker")
			return nil
		}
		if err := r.runSeries(ctx, it.desc); err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				r.warnf("series %s interrupted", it.desc.SeriesID)
				return nil
			}
			r.warnf("series %s failed: %v", it.desc.SeriesID, err)
			r.sm.fail()
			r.publishState()
			return err
		}
	}
}

func (r *Runner) sayf(format string, args ...any) {
	r.emit("", fmt.Sprintf(format, args...))
}

func (r *Runner) warnf(format string, args ...any) {
	r.emit("warning: ", fmt.Sprintf(format, args...))
}

func (r *Runner) debugf(format string, args ...any) {
	if !r.cfg.Debug {
		return
	}
	r.emit("debug: ", fmt.Sprintf(format, args...))
}

// emit logs every line of msg separately so multi-line banners keep the
// prefix on each line.
func (r *Runner) emit(level, msg string) {
	for _, line := range strings.Split(msg, "\n") {
		r.logger.Printf("%s%s", level, line)
	}
}
