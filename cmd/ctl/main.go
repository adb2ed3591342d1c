package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"arenasim.ai/internal/protocol"
)

func main() {
	var (
		url        = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		cmd        = flag.String("cmd", protocol.CmdState, "START|PAUSE|RESUME|RUN|RUN_UNTIL|ENQUEUE|TERMINATE|STATE")
		round      = flag.Int("round", 0, "ceiling round for RUN_UNTIL")
		descriptor = flag.String("descriptor", "", "descriptor json file for ENQUEUE")
		follow     = flag.Bool("follow", false, "keep printing STATE/ROUND/RESULT messages after the ACK")
		timeout    = flag.Duration("timeout", 10*time.Second, "how long to wait for the ACK")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[ctl] ", log.LstdFlags|log.Lmicroseconds)

	msg := protocol.CommandMsg{
		Type:            protocol.TypeCommand,
		ProtocolVersion: protocol.Version,
		ReqID:           uuid.NewString(),
		Cmd:             strings.ToUpper(strings.TrimSpace(*cmd)),
		Round:           *round,
	}
	if msg.Cmd == protocol.CmdEnqueue {
		if *descriptor == "" {
			logger.Fatalf("ENQUEUE needs -descriptor")
		}
		raw, err := os.ReadFile(*descriptor)
		if err != nil {
			logger.Fatalf("read descriptor: %v", err)
		}
		d, err := protocol.DecodeDescriptor(raw)
		if err != nil {
			logger.Fatalf("descriptor: %v", err)
		}
		msg.Descriptor = &d
	}

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(msg); err != nil {
		logger.Fatalf("send %s: %v", msg.Cmd, err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	go func() {
		<-stop
		_ = conn.Close()
	}()

	acked := false
	_ = conn.SetReadDeadline(time.Now().Add(*timeout))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !acked {
				logger.Fatalf("no ACK for %s: %v", msg.Cmd, err)
			}
			return
		}
		base, err := protocol.DecodeBase(raw)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeAck:
			var ack protocol.AckMsg
			if err := json.Unmarshal(raw, &ack); err != nil || (ack.ReqID != "" && ack.ReqID != msg.ReqID) {
				continue
			}
			acked = true
			if !ack.OK {
				logger.Fatalf("%s rejected: %s %s (state=%s)", msg.Cmd, ack.Code, ack.Message, ack.State)
			}
			if ack.SeriesID != "" {
				logger.Printf("%s ok series_id=%s state=%s", msg.Cmd, ack.SeriesID, ack.State)
			} else {
				logger.Printf("%s ok state=%s", msg.Cmd, ack.State)
			}
			if !*follow {
				return
			}
			_ = conn.SetReadDeadline(time.Time{})

		case protocol.TypeState:
			var st protocol.StateMsg
			if err := json.Unmarshal(raw, &st); err != nil {
				continue
			}
			if *follow || msg.Cmd == protocol.CmdState {
				printState(st)
			}

		case protocol.TypeRound:
			if !*follow {
				continue
			}
			var r protocol.RoundMsg
			if err := json.Unmarshal(raw, &r); err != nil {
				continue
			}
			fmt.Printf("ROUND %s match=%d map=%s round=%d signals=%d digest=%s\n", r.SeriesID, r.MatchIndex, r.Map, r.Round, len(r.Signals), r.Digest)

		case protocol.TypeResult:
			if !*follow {
				continue
			}
			var res protocol.ResultMsg
			if err := json.Unmarshal(raw, &res); err != nil {
				continue
			}
			switch {
			case res.Error != "":
				fmt.Printf("RESULT %s error: %s\n", res.SeriesID, res.Error)
			case res.Match != nil:
				fmt.Printf("RESULT %s match=%d %s wins by %s (%d rounds)\n", res.SeriesID, res.Match.Index, res.Match.WinnerName, res.Match.Factor, res.Match.Rounds)
			case res.Series != nil:
				fmt.Printf("RESULT %s series %s wins %d-%d\n", res.SeriesID, res.Series.WinnerName, res.Series.WinsA, res.Series.WinsB)
			}
		}
	}
}

func printState(st protocol.StateMsg) {
	fmt.Printf("STATE %s match_running=%t queued=%d series=%s match=%d map=%s round=%d wins=%d-%d\n",
		st.State, st.MatchRunning, st.Queued, st.SeriesID, st.MatchIndex, st.Map, st.Round, st.WinsA, st.WinsB)
	if st.WinnerSummary != "" {
		fmt.Println(st.WinnerSummary)
	}
}
