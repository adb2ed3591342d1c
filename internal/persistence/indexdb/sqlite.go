package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"arenasim.ai/internal/protocol"
	"arenasim.ai/internal/tuning"
)

// Series statuses.
const (
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// SQLiteIndex is a queryable index of series, match and round results. The
// replay files stay the source of truth; writes go through a single writer
// goroutine so the match loop never waits on disk.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	// mu guards ch against a send racing Close.
	mu     sync.RWMutex
	closed bool

	dropRound  atomic.Uint64
	dropResult atomic.Uint64
}

type reqKind int

const (
	reqSeriesStart reqKind = iota + 1
	reqRound
	reqMatch
	reqSeriesEnd
	reqSeriesFail
)

type req struct {
	kind     reqKind
	seriesID string
	at       string

	header protocol.SeriesHeader
	replay string
	round  protocol.RoundRecord
	match  protocol.MatchHeader
	footer protocol.MatchFooter
	end    protocol.SeriesFooter
	err    string
}

type Stats struct {
	QueueDepth      int    `json:"queue_depth"`
	QueueCapacity   int    `json:"queue_capacity"`
	DropRoundTotal  uint64 `json:"drop_round_total"`
	DropResultTotal uint64 `json:"drop_result_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS series (
			series_id TEXT PRIMARY KEY,
			team_a TEXT NOT NULL,
			team_b TEXT NOT NULL,
			controller_a TEXT NOT NULL,
			controller_b TEXT NOT NULL,
			maps_json TEXT NOT NULL,
			majority INTEGER NOT NULL,
			replay_path TEXT,
			status TEXT NOT NULL,
			winner TEXT,
			wins_a INTEGER NOT NULL DEFAULT 0,
			wins_b INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			started_at TEXT NOT NULL,
			finished_at TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_series_started ON series(started_at);`,
		`CREATE TABLE IF NOT EXISTS matches (
			series_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			map TEXT NOT NULL,
			seed INTEGER NOT NULL,
			winner TEXT NOT NULL,
			winner_name TEXT NOT NULL,
			factor TEXT NOT NULL,
			rounds INTEGER NOT NULL,
			faults INTEGER NOT NULL,
			PRIMARY KEY (series_id, idx)
		);`,
		`CREATE TABLE IF NOT EXISTS rounds (
			series_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			round INTEGER NOT NULL,
			digest TEXT NOT NULL,
			signals INTEGER NOT NULL,
			PRIMARY KEY (series_id, idx, round)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	if s == nil {
		return nil
	}
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:      len(s.ch),
		QueueCapacity:   cap(s.ch),
		DropRoundTotal:  s.dropRound.Load(),
		DropResultTotal: s.dropResult.Load(),
	}
}

func now() string { return time.Now().UTC().Format(time.RFC3339Nano) }

// enqueue never blocks; a full queue drops the request and counts it.
func (s *SQLiteIndex) enqueue(r req) {
	if s == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- r:
	default:
		if r.kind == reqRound {
			s.dropRound.Add(1)
		} else {
			s.dropResult.Add(1)
		}
	}
}

func (s *SQLiteIndex) SeriesStarted(h protocol.SeriesHeader, replayPath string) {
	s.enqueue(req{kind: reqSeriesStart, seriesID: h.SeriesID, header: h, replay: replayPath, at: now()})
}

func (s *SQLiteIndex) RoundPlayed(seriesID string, rec protocol.RoundRecord) {
	s.enqueue(req{kind: reqRound, seriesID: seriesID, round: rec})
}

func (s *SQLiteIndex) MatchFinished(seriesID string, h protocol.MatchHeader, f protocol.MatchFooter) {
	s.enqueue(req{kind: reqMatch, seriesID: seriesID, match: h, footer: f})
}

func (s *SQLiteIndex) SeriesFinished(seriesID string, f protocol.SeriesFooter) {
	s.enqueue(req{kind: reqSeriesEnd, seriesID: seriesID, end: f, at: now()})
}

func (s *SQLiteIndex) SeriesFailed(seriesID string, cause error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	s.enqueue(req{kind: reqSeriesFail, seriesID: seriesID, err: msg, at: now()})
}

// UpsertConfig stores the tuning the server runs with, as canonical JSON plus
// its digest.
func (s *SQLiteIndex) UpsertConfig(cfg tuning.Config) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	rows := [][2]string{
		{"schema_version", "1"},
		{"protocol_version", protocol.Version},
		{"tuning", string(b)},
		{"tuning_digest", hex.EncodeToString(sum[:])},
	}
	for _, r := range rows {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES(?,?)`, r[0], r[1]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SeriesRow is one row of the series table.
type SeriesRow struct {
	SeriesID   string `json:"series_id"`
	TeamA      string `json:"team_a"`
	TeamB      string `json:"team_b"`
	Status     string `json:"status"`
	Winner     string `json:"winner,omitempty"`
	WinsA      int    `json:"wins_a"`
	WinsB      int    `json:"wins_b"`
	Error      string `json:"error,omitempty"`
	ReplayPath string `json:"replay_path,omitempty"`
	StartedAt  string `json:"started_at"`
}

// RecentSeries lists the newest series first.
func (s *SQLiteIndex) RecentSeries(ctx context.Context, limit int) ([]SeriesRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT series_id,team_a,team_b,status,
		COALESCE(winner,''),wins_a,wins_b,COALESCE(error,''),COALESCE(replay_path,''),started_at
		FROM series ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SeriesRow
	for rows.Next() {
		var r SeriesRow
		if err := rows.Scan(&r.SeriesID, &r.TeamA, &r.TeamB, &r.Status, &r.Winner, &r.WinsA, &r.WinsB, &r.Error, &r.ReplayPath, &r.StartedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func teamName(h protocol.SeriesHeader, i int) (string, string) {
	if i < len(h.Teams) {
		return h.Teams[i].Name, h.Teams[i].Controller
	}
	return "", ""
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertSeries, _ := s.db.Prepare(`INSERT OR REPLACE INTO series(series_id,team_a,team_b,controller_a,controller_b,maps_json,majority,replay_path,status,started_at) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertRound, _ := s.db.Prepare(`INSERT OR REPLACE INTO rounds(series_id,idx,round,digest,signals) VALUES(?,?,?,?,?)`)
	insertMatch, _ := s.db.Prepare(`INSERT OR REPLACE INTO matches(series_id,idx,map,seed,winner,winner_name,factor,rounds,faults) VALUES(?,?,?,?,?,?,?,?,?)`)
	finishSeries, _ := s.db.Prepare(`UPDATE series SET status=?,winner=?,wins_a=?,wins_b=?,finished_at=? WHERE series_id=?`)
	failSeries, _ := s.db.Prepare(`UPDATE series SET status=?,error=?,finished_at=? WHERE series_id=?`)
	defer func() {
		for _, st := range []*sql.Stmt{insertSeries, insertRound, insertMatch, finishSeries, failSeries} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqSeriesStart:
			h := r.header
			nameA, ctrlA := teamName(h, 0)
			nameB, ctrlB := teamName(h, 1)
			maps, _ := json.Marshal(h.Maps)
			exec(insertSeries, r.seriesID, nameA, nameB, ctrlA, ctrlB, string(maps), h.Majority, r.replay, StatusRunning, r.at)
		case reqRound:
			exec(insertRound, r.seriesID, r.round.Index, r.round.Round, r.round.Digest, len(r.round.Signals))
		case reqMatch:
			f := r.footer
			exec(insertMatch, r.seriesID, f.Index, f.Map, r.match.Seed, f.Winner.String(), f.WinnerName, f.Factor, f.Rounds, f.Faults)
		case reqSeriesEnd:
			e := r.end
			exec(finishSeries, StatusFinished, e.WinnerName, e.WinsA, e.WinsB, r.at, r.seriesID)
		case reqSeriesFail:
			exec(failSeries, StatusFailed, r.err, r.at, r.seriesID)
		}
		// Results are rare and operators query them right away.
		if r.kind != reqRound || opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	commit()
}
