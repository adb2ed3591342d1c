package indexdb

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"arenasim.ai/internal/protocol"
	"arenasim.ai/internal/sim/team"
	"arenasim.ai/internal/tuning"
)

func header(id string) protocol.SeriesHeader {
	return protocol.SeriesHeader{
		SeriesID: id,
		Maps:     []string{"duel", "cross"},
		Majority: true,
		Teams: []protocol.TeamRef{
			{Team: team.A, ID: team.IDA, Name: "alpha", Controller: "builtin:rush"},
			{Team: team.B, ID: team.IDB, Name: "beta", Controller: "builtin:idle"},
		},
	}
}

func TestSQLiteIndex_RecordSeries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")

	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	idx.SeriesStarted(header("s1"), "/data/replays/s1.jsonl.zst")
	idx.RoundPlayed("s1", protocol.RoundRecord{Index: 0, Round: 0, Digest: "d0"})
	idx.RoundPlayed("s1", protocol.RoundRecord{Index: 0, Round: 1, Digest: "d1"})
	idx.MatchFinished("s1", protocol.MatchHeader{Index: 0, Map: "duel", Seed: 42}, protocol.MatchFooter{
		Index: 0, Map: "duel", Winner: team.A, WinnerName: "alpha", Factor: "DESTROYED", Rounds: 2,
	})
	idx.SeriesFinished("s1", protocol.SeriesFooter{Winner: team.A, WinnerName: "alpha", WinsA: 2, Played: 2})

	idx.SeriesStarted(header("s2"), "")
	idx.SeriesFailed("s2", errors.New("map load failed"))

	if err := idx.UpsertConfig(tuning.Defaults()); err != nil {
		t.Fatalf("UpsertConfig: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	var (
		status, winner, replay string
		winsA                  int
	)
	row := db.QueryRow(`SELECT status,winner,wins_a,replay_path FROM series WHERE series_id='s1'`)
	if err := row.Scan(&status, &winner, &winsA, &replay); err != nil {
		t.Fatalf("Scan series: %v", err)
	}
	if status != StatusFinished || winner != "alpha" || winsA != 2 || replay != "/data/replays/s1.jsonl.zst" {
		t.Fatalf("series row mismatch: status=%s winner=%s wins_a=%d replay=%s", status, winner, winsA, replay)
	}

	var (
		seed   int64
		factor string
		rounds int
	)
	if err := db.QueryRow(`SELECT seed,factor,rounds FROM matches WHERE series_id='s1' AND idx=0`).Scan(&seed, &factor, &rounds); err != nil {
		t.Fatalf("Scan match: %v", err)
	}
	if seed != 42 || factor != "DESTROYED" || rounds != 2 {
		t.Fatalf("match row mismatch: seed=%d factor=%s rounds=%d", seed, factor, rounds)
	}

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM rounds WHERE series_id='s1'`).Scan(&n); err != nil || n != 2 {
		t.Fatalf("rounds=%d err=%v", n, err)
	}

	var failure string
	if err := db.QueryRow(`SELECT status,error FROM series WHERE series_id='s2'`).Scan(&status, &failure); err != nil {
		t.Fatalf("Scan failed series: %v", err)
	}
	if status != StatusFailed || failure != "map load failed" {
		t.Fatalf("failed series mismatch: status=%s error=%q", status, failure)
	}

	var digest string
	if err := db.QueryRow(`SELECT value FROM meta WHERE key='tuning_digest'`).Scan(&digest); err != nil || len(digest) != 64 {
		t.Fatalf("tuning digest=%q err=%v", digest, err)
	}
}

func TestSQLiteIndex_RecentSeries(t *testing.T) {
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer func() { _ = idx.Close() }()

	idx.SeriesStarted(header("s1"), "")
	idx.SeriesFinished("s1", protocol.SeriesFooter{Winner: team.B, WinnerName: "beta", WinsB: 1, Played: 1})

	// Result requests commit right away, but the writer is asynchronous.
	var rows []SeriesRow
	for i := 0; i < 200; i++ {
		rows, err = idx.RecentSeries(context.Background(), 10)
		if err != nil {
			t.Fatalf("RecentSeries: %v", err)
		}
		if len(rows) == 1 && rows[0].Status == StatusFinished {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(rows) != 1 || rows[0].Winner != "beta" || rows[0].TeamA != "alpha" || rows[0].WinsB != 1 {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqRound}

	s.RoundPlayed("s1", protocol.RoundRecord{Round: 2})
	s.MatchFinished("s1", protocol.MatchHeader{}, protocol.MatchFooter{})
	s.SeriesFailed("s1", nil)

	st := s.Stats()
	if st.DropRoundTotal != 1 {
		t.Fatalf("DropRoundTotal=%d want=1", st.DropRoundTotal)
	}
	if st.DropResultTotal != 2 {
		t.Fatalf("DropResultTotal=%d want=2", st.DropResultTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_NilIsNoop(t *testing.T) {
	var s *SQLiteIndex
	s.SeriesStarted(header("s1"), "")
	s.RoundPlayed("s1", protocol.RoundRecord{})
	if err := s.UpsertConfig(tuning.Defaults()); err != nil {
		t.Fatalf("UpsertConfig on nil: %v", err)
	}
	if st := s.Stats(); st.QueueCapacity != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestSQLiteIndex_WritesRacingClose(t *testing.T) {
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	idx.SeriesStarted(header("s1"), "")

	var wg sync.WaitGroup
	start := make(chan struct{})
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			<-start
			for i := 0; i < 2000; i++ {
				idx.RoundPlayed("s1", protocol.RoundRecord{Index: g, Round: i, Digest: "d"})
			}
		}(g)
	}
	close(start)
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	wg.Wait()

	idx.RoundPlayed("s1", protocol.RoundRecord{Round: 9999})
	idx.SeriesFailed("s1", errors.New("late"))
	if err := idx.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
