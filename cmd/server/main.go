package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"arenasim.ai/internal/persistence/indexdb"
	"arenasim.ai/internal/protocol"
	"arenasim.ai/internal/sim/control/script"
	"arenasim.ai/internal/sim/maps"
	"arenasim.ai/internal/sim/runner"
	"arenasim.ai/internal/transport/control"
	"arenasim.ai/internal/tuning"
)

func main() {
	var (
		addr         = flag.String("addr", ":8080", "http listen address")
		configDir    = flag.String("configs", "./configs", "config directory")
		tuningPath   = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml if present; ARENA_* env vars override it)")
		dbPath       = flag.String("db", "", "result index path (default: <data_dir>/index.db)")
		disableDB    = flag.Bool("disable_db", false, "disable the sqlite result index")
		exitWhenDone = flag.Bool("exit_when_done", false, "stop the server after the series given with -enqueue have run")
	)
	var enqueue multiFlag
	flag.Var(&enqueue, "enqueue", "descriptor json file to queue at startup (repeatable)")
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		if p := filepath.Join(*configDir, "tuning.yaml"); fileExists(p) {
			tp = p
		}
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}
	if err := os.MkdirAll(tune.DataDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		p := strings.TrimSpace(*dbPath)
		if p == "" {
			p = filepath.Join(tune.DataDir, "index.db")
		}
		idx, err = indexdb.OpenSQLite(p)
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		if err := idx.UpsertConfig(tune); err != nil {
			logger.Printf("index: upsert config: %v", err)
		}
	}

	hub := control.NewHub()
	opts := runner.Options{
		Config:    tune,
		Maps:      maps.DirLoader{Dir: tune.MapDir},
		Resolver:  script.NewResolver(tune.ScriptDir, tune.MaxInstructionsPerTurn),
		Recorders: replayRecorders(filepath.Join(tune.DataDir, "replays")),
		Observer:  hub,
		Logger:    log.New(os.Stdout, "[runner] ", log.LstdFlags|log.Lmicroseconds),
	}
	if idx != nil {
		opts.Results = idx
	}
	r, err := runner.New(opts)
	if err != nil {
		logger.Fatalf("runner: %v", err)
	}

	for _, path := range enqueue {
		d, err := readDescriptor(path)
		if err != nil {
			logger.Fatalf("descriptor %s: %v", path, err)
		}
		id, err := r.Enqueue(d)
		if err != nil {
			logger.Fatalf("enqueue %s: %v", path, err)
		}
		logger.Printf("queued series %s from %s", id, path)
	}
	if *exitWhenDone {
		r.Terminate()
	}

	ctx, cancel := signalContext()
	defer cancel()

	r.Start()
	loopDone := make(chan error, 1)
	go func() {
		err := r.Loop(ctx)
		if err != nil {
			logger.Printf("runner stopped: %v", err)
		}
		loopDone <- err
		if *exitWhenDone {
			cancel()
		}
	}()

	mux := http.NewServeMux()
	ctl := control.NewServer(r, hub, logger, control.Options{
		AllowRemote: envBool("ARENA_ALLOW_REMOTE_CONTROL", false),
		Metrics: func(w io.Writer) {
			writeIndexMetrics(w, idx)
		},
	})
	ctl.Register(mux)
	if envBool("ARENA_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (ARENA_ENABLE_PPROF_HTTP=false)")
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s (maps=%s bots=%s data=%s interactive=%t)", *addr, tune.MapDir, tune.ScriptDir, tune.DataDir, tune.Interactive)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}

	select {
	case err := <-loopDone:
		if err != nil {
			_ = idx.Close()
			os.Exit(1)
		}
	case <-time.After(5 * time.Second):
		logger.Printf("runner still busy at shutdown")
	}
}

func readDescriptor(path string) (protocol.MatchDescriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return protocol.MatchDescriptor{}, err
	}
	return protocol.DecodeDescriptor(raw)
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}

func writeIndexMetrics(w io.Writer, idx *indexdb.SQLiteIndex) {
	if idx == nil {
		return
	}
	s := idx.Stats()
	fmt.Fprintf(w, "# HELP arena_index_queue_depth Result index write queue depth.\n")
	fmt.Fprintf(w, "# TYPE arena_index_queue_depth gauge\n")
	fmt.Fprintf(w, "arena_index_queue_depth %d\n", s.QueueDepth)

	fmt.Fprintf(w, "# HELP arena_index_queue_capacity Result index write queue capacity.\n")
	fmt.Fprintf(w, "# TYPE arena_index_queue_capacity gauge\n")
	fmt.Fprintf(w, "arena_index_queue_capacity %d\n", s.QueueCapacity)

	fmt.Fprintf(w, "# HELP arena_index_dropped_total Index writes dropped because the queue was full.\n")
	fmt.Fprintf(w, "# TYPE arena_index_dropped_total counter\n")
	fmt.Fprintf(w, "arena_index_dropped_total{kind=%q} %d\n", "round", s.DropRoundTotal)
	fmt.Fprintf(w, "arena_index_dropped_total{kind=%q} %d\n", "result", s.DropResultTotal)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}
