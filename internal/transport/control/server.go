package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"arenasim.ai/internal/protocol"
)

// Runner is the operator surface of the match runner.
type Runner interface {
	Start()
	Pause()
	Resume()
	Run()
	RunUntil(round int)
	Terminate()
	Enqueue(d protocol.MatchDescriptor) (string, error)
	Snapshot() protocol.StateMsg
}

type Options struct {
	// AllowRemote accepts commands from non-loopback peers. The live feed and
	// the state endpoint are always open.
	AllowRemote bool
	// Metrics appends extra exposition lines to /metrics.
	Metrics func(w io.Writer)
}

type Server struct {
	runner Runner
	hub    *Hub
	log    *log.Logger
	opts   Options

	upgrader websocket.Upgrader

	mu       sync.Mutex
	commands map[string]uint64
}

func NewServer(r Runner, hub *Hub, logger *log.Logger, opts Options) *Server {
	if hub == nil {
		hub = NewHub()
	}
	return &Server{
		runner: r,
		hub:    hub,
		log:    logger,
		opts:   opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		commands: map[string]uint64{},
	}
}

func (s *Server) Hub() *Hub { return s.hub }

// Register mounts the handlers on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/ws", s.WSHandler())
	mux.HandleFunc("/v1/state", s.StateHandler())
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", s.MetricsHandler())
}

func (s *Server) StateHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(s.runner.Snapshot())
	}
}

// WSHandler serves one operator connection: COMMAND messages in, ACKs plus
// the live STATE/ROUND/RESULT feed out.
func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		canCommand := s.opts.AllowRemote || isLoopbackRemote(r.RemoteAddr)

		subID, feed := s.hub.subscribe(256)
		defer s.hub.unsubscribe(subID)
		replies := make(chan []byte, 16)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				var b []byte
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b = <-replies:
				case b = <-feed:
				}
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					writeErr <- err
					cancel()
					return
				}
			}
		}()

		if b, err := json.Marshal(s.runner.Snapshot()); err == nil {
			replies <- b
		}

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			ack := s.handle(msg, canCommand)
			b, err := json.Marshal(ack)
			if err != nil {
				continue
			}
			select {
			case replies <- b:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (s *Server) handle(msg []byte, canCommand bool) protocol.AckMsg {
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeCommand {
		return s.reject("", protocol.ErrProtoBadRequest, "expected COMMAND")
	}
	if base.ProtocolVersion != "" && base.ProtocolVersion != protocol.Version {
		return s.reject("", protocol.ErrProtoVersion, "bad protocol_version")
	}
	if err := protocol.Validate("command.schema.json", msg); err != nil {
		return s.reject("", protocol.ErrProtoBadRequest, err.Error())
	}
	var cmd protocol.CommandMsg
	if err := json.Unmarshal(msg, &cmd); err != nil {
		return s.reject("", protocol.ErrProtoBadRequest, err.Error())
	}
	if !canCommand && cmd.Cmd != protocol.CmdState {
		return s.reject(cmd.ReqID, protocol.ErrForbidden, "commands are only accepted from loopback")
	}
	return s.Dispatch(cmd)
}

// Dispatch applies one decoded command to the runner.
func (s *Server) Dispatch(cmd protocol.CommandMsg) protocol.AckMsg {
	s.count(cmd.Cmd)
	var seriesID string
	switch cmd.Cmd {
	case protocol.CmdStart:
		s.runner.Start()
	case protocol.CmdPause:
		s.runner.Pause()
	case protocol.CmdResume:
		s.runner.Resume()
	case protocol.CmdRun:
		s.runner.Run()
	case protocol.CmdRunUntil:
		if cmd.Round < 0 {
			return s.reject(cmd.ReqID, protocol.ErrBadRequest, "round must be >= 0")
		}
		s.runner.RunUntil(cmd.Round)
	case protocol.CmdTerminate:
		s.runner.Terminate()
	case protocol.CmdState:
	case protocol.CmdEnqueue:
		if cmd.Descriptor == nil {
			return s.reject(cmd.ReqID, protocol.ErrBadRequest, "missing descriptor")
		}
		id, err := s.runner.Enqueue(*cmd.Descriptor)
		if err != nil {
			code := protocol.ErrInternal
			if errors.Is(err, protocol.ErrInvalid) {
				code = protocol.ErrInvalidDescriptor
			}
			return s.reject(cmd.ReqID, code, err.Error())
		}
		seriesID = id
	default:
		return s.reject(cmd.ReqID, protocol.ErrUnknownCommand, fmt.Sprintf("unknown command %q", cmd.Cmd))
	}
	if s.log != nil && cmd.Cmd != protocol.CmdState {
		s.log.Printf("command %s", cmd.Cmd)
	}
	return protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		ReqID:           cmd.ReqID,
		OK:              true,
		SeriesID:        seriesID,
		State:           s.runner.Snapshot().State,
	}
}

func (s *Server) reject(reqID, code, message string) protocol.AckMsg {
	return protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		ReqID:           reqID,
		Code:            code,
		Message:         message,
		State:           s.runner.Snapshot().State,
	}
}

func (s *Server) count(cmd string) {
	s.mu.Lock()
	s.commands[cmd]++
	s.mu.Unlock()
}

func (s *Server) MetricsHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		st := s.runner.Snapshot()

		running := 0
		if st.MatchRunning {
			running = 1
		}

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP arena_runner_state Current orchestration state.\n")
		fmt.Fprintf(rw, "# TYPE arena_runner_state gauge\n")
		fmt.Fprintf(rw, "arena_runner_state{state=%q} 1\n", st.State)

		fmt.Fprintf(rw, "# HELP arena_runner_match_running Whether a match is in progress.\n")
		fmt.Fprintf(rw, "# TYPE arena_runner_match_running gauge\n")
		fmt.Fprintf(rw, "arena_runner_match_running %d\n", running)

		fmt.Fprintf(rw, "# HELP arena_runner_queue_depth Queued series, including the stop marker.\n")
		fmt.Fprintf(rw, "# TYPE arena_runner_queue_depth gauge\n")
		fmt.Fprintf(rw, "arena_runner_queue_depth %d\n", st.Queued)

		fmt.Fprintf(rw, "# HELP arena_runner_round Current round of the match in progress.\n")
		fmt.Fprintf(rw, "# TYPE arena_runner_round gauge\n")
		fmt.Fprintf(rw, "arena_runner_round %d\n", st.Round)

		fmt.Fprintf(rw, "# HELP arena_series_wins Wins in the current series.\n")
		fmt.Fprintf(rw, "# TYPE arena_series_wins gauge\n")
		fmt.Fprintf(rw, "arena_series_wins{team=%q} %d\n", "A", st.WinsA)
		fmt.Fprintf(rw, "arena_series_wins{team=%q} %d\n", "B", st.WinsB)

		fmt.Fprintf(rw, "# HELP arena_feed_subscribers Connected feed subscribers.\n")
		fmt.Fprintf(rw, "# TYPE arena_feed_subscribers gauge\n")
		fmt.Fprintf(rw, "arena_feed_subscribers %d\n", s.hub.Subscribers())

		fmt.Fprintf(rw, "# HELP arena_feed_published_total Messages published to the feed.\n")
		fmt.Fprintf(rw, "# TYPE arena_feed_published_total counter\n")
		fmt.Fprintf(rw, "arena_feed_published_total %d\n", s.hub.Published())

		fmt.Fprintf(rw, "# HELP arena_feed_dropped_total Feed messages dropped for slow subscribers.\n")
		fmt.Fprintf(rw, "# TYPE arena_feed_dropped_total counter\n")
		fmt.Fprintf(rw, "arena_feed_dropped_total %d\n", s.hub.Dropped())

		s.mu.Lock()
		names := make([]string, 0, len(s.commands))
		for k := range s.commands {
			names = append(names, k)
		}
		sort.Strings(names)
		fmt.Fprintf(rw, "# HELP arena_commands_total Operator commands received.\n")
		fmt.Fprintf(rw, "# TYPE arena_commands_total counter\n")
		for _, k := range names {
			fmt.Fprintf(rw, "arena_commands_total{cmd=%q} %d\n", k, s.commands[k])
		}
		s.mu.Unlock()

		if s.opts.Metrics != nil {
			s.opts.Metrics(rw)
		}
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
