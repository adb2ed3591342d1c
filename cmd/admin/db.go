package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional; defaults to <data>/index.db)")
	seriesID := fs.String("series", "", "series id (required for matches and rounds)")
	match := fs.Int("match", -1, "match index filter (rounds)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "series"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if *limit <= 0 {
		*limit = 20
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index.db")
	}
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if q != "series" && q != "meta" && strings.TrimSpace(*seriesID) == "" {
		fmt.Fprintf(os.Stderr, "%s needs -series\n", q)
		os.Exit(2)
	}

	switch q {
	case "series":
		rows, err := db.Query(`SELECT series_id,team_a,team_b,controller_a,controller_b,maps_json,majority,status,
			COALESCE(winner,''),wins_a,wins_b,COALESCE(error,''),COALESCE(replay_path,''),started_at,COALESCE(finished_at,'')
			FROM series ORDER BY started_at DESC LIMIT ?`, *limit)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				SeriesID    string          `json:"series_id"`
				TeamA       string          `json:"team_a"`
				TeamB       string          `json:"team_b"`
				ControllerA string          `json:"controller_a"`
				ControllerB string          `json:"controller_b"`
				Maps        json.RawMessage `json:"maps"`
				Majority    bool            `json:"majority"`
				Status      string          `json:"status"`
				Winner      string          `json:"winner,omitempty"`
				WinsA       int             `json:"wins_a"`
				WinsB       int             `json:"wins_b"`
				Error       string          `json:"error,omitempty"`
				ReplayPath  string          `json:"replay_path,omitempty"`
				StartedAt   string          `json:"started_at"`
				FinishedAt  string          `json:"finished_at,omitempty"`
			}
			var maps string
			if err := rows.Scan(&r.SeriesID, &r.TeamA, &r.TeamB, &r.ControllerA, &r.ControllerB, &maps, &r.Majority, &r.Status,
				&r.Winner, &r.WinsA, &r.WinsB, &r.Error, &r.ReplayPath, &r.StartedAt, &r.FinishedAt); err != nil {
				fail("scan", err)
			}
			r.Maps = json.RawMessage(maps)
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}

	case "matches":
		rows, err := db.Query(`SELECT idx,map,seed,winner,winner_name,factor,rounds,faults FROM matches WHERE series_id=? ORDER BY idx`, *seriesID)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Index      int    `json:"index"`
				Map        string `json:"map"`
				Seed       int64  `json:"seed"`
				Winner     string `json:"winner"`
				WinnerName string `json:"winner_name"`
				Factor     string `json:"factor"`
				Rounds     int    `json:"rounds"`
				Faults     int    `json:"faults"`
			}
			if err := rows.Scan(&r.Index, &r.Map, &r.Seed, &r.Winner, &r.WinnerName, &r.Factor, &r.Rounds, &r.Faults); err != nil {
				fail("scan", err)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}

	case "rounds":
		rows, err := db.Query(`SELECT idx,round,digest,signals FROM rounds WHERE series_id=? AND (?<0 OR idx=?) ORDER BY idx,round LIMIT ?`,
			*seriesID, *match, *match, *limit)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Index   int    `json:"index"`
				Round   int    `json:"round"`
				Digest  string `json:"digest"`
				Signals int    `json:"signals"`
			}
			if err := rows.Scan(&r.Index, &r.Round, &r.Digest, &r.Signals); err != nil {
				fail("scan", err)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}

	case "meta":
		rows, err := db.Query(`SELECT key,value FROM meta ORDER BY key`)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		out := map[string]string{}
		for rows.Next() {
			var k, v string
			if err := rows.Scan(&k, &v); err != nil {
				fail("scan", err)
			}
			out[k] = v
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}
		printJSON(out)

	default:
		fmt.Fprintln(os.Stderr, "unknown query (want series|matches|rounds|meta):", q)
		os.Exit(2)
	}
}

func fail(what string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
	os.Exit(1)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
