package control

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"arenasim.ai/internal/protocol"
)

type fakeRunner struct {
	mu      sync.Mutex
	calls   []string
	ceiling int
	queued  []protocol.MatchDescriptor
}

func (f *fakeRunner) record(name string) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
}

func (f *fakeRunner) Start()     { f.record("start") }
func (f *fakeRunner) Pause()     { f.record("pause") }
func (f *fakeRunner) Resume()    { f.record("resume") }
func (f *fakeRunner) Run()       { f.record("run") }
func (f *fakeRunner) Terminate() { f.record("terminate") }

func (f *fakeRunner) RunUntil(round int) {
	f.mu.Lock()
	f.ceiling = round
	f.mu.Unlock()
	f.record("run_until")
}

func (f *fakeRunner) Enqueue(d protocol.MatchDescriptor) (string, error) {
	d.Normalize()
	if err := d.Check(); err != nil {
		return "", err
	}
	f.mu.Lock()
	f.queued = append(f.queued, d)
	f.mu.Unlock()
	return d.SeriesID, nil
}

func (f *fakeRunner) Snapshot() protocol.StateMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return protocol.StateMsg{Type: protocol.TypeState, ProtocolVersion: protocol.Version, State: "READY", Queued: len(f.queued), Ceiling: f.ceiling}
}

func newTestServer(t *testing.T) (*Server, *fakeRunner, *httptest.Server) {
	t.Helper()
	fr := &fakeRunner{}
	s := NewServer(fr, NewHub(), nil, Options{
		Metrics: func(w io.Writer) { fmt.Fprintf(w, "arena_index_drop_round_total 0\n") },
	})
	mux := http.NewServeMux()
	s.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return s, fr, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readType reads messages until one of the wanted type arrives.
func readType(t *testing.T, conn *websocket.Conn, typ string, v any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if base.Type != typ {
			continue
		}
		if err := json.Unmarshal(msg, v); err != nil {
			t.Fatalf("unmarshal %s: %v", typ, err)
		}
		return
	}
}

func command(t *testing.T, conn *websocket.Conn, raw string) protocol.AckMsg {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}
	var ack protocol.AckMsg
	readType(t, conn, protocol.TypeAck, &ack)
	return ack
}

func TestWS_Commands(t *testing.T) {
	_, fr, srv := newTestServer(t)
	conn := dial(t, srv)

	var st protocol.StateMsg
	readType(t, conn, protocol.TypeState, &st)
	if st.State != "READY" {
		t.Fatalf("initial state = %+v", st)
	}

	if ack := command(t, conn, `{"type":"COMMAND","protocol_version":"1.0","req_id":"r1","cmd":"PAUSE"}`); !ack.OK || ack.ReqID != "r1" {
		t.Fatalf("pause ack = %+v", ack)
	}
	if ack := command(t, conn, `{"type":"COMMAND","cmd":"RUN_UNTIL","round":7}`); !ack.OK {
		t.Fatalf("run_until ack = %+v", ack)
	}
	ack := command(t, conn, `{"type":"COMMAND","req_id":"r3","cmd":"ENQUEUE","descriptor":{
		"team_a":{"name":"alpha","controller":"builtin:rush"},
		"team_b":{"name":"beta","controller":"builtin:idle"},
		"maps":["duel"],"majority":true}}`)
	if !ack.OK || ack.SeriesID == "" {
		t.Fatalf("enqueue ack = %+v", ack)
	}

	fr.mu.Lock()
	calls := strings.Join(fr.calls, ",")
	ceiling := fr.ceiling
	queued := len(fr.queued)
	fr.mu.Unlock()
	if calls != "pause,run_until" || ceiling != 7 || queued != 1 {
		t.Fatalf("runner saw calls=%s ceiling=%d queued=%d", calls, ceiling, queued)
	}
}

func TestWS_Rejections(t *testing.T) {
	_, fr, srv := newTestServer(t)
	conn := dial(t, srv)

	cases := []struct {
		raw  string
		code string
	}{
		{`not json`, protocol.ErrProtoBadRequest},
		{`{"type":"HELLO"}`, protocol.ErrProtoBadRequest},
		{`{"type":"COMMAND","protocol_version":"0.1","cmd":"RUN"}`, protocol.ErrProtoVersion},
		{`{"type":"COMMAND","cmd":"EXPLODE"}`, protocol.ErrProtoBadRequest},
		{`{"type":"COMMAND","cmd":"ENQUEUE","descriptor":{"team_a":{"name":"a","controller":"builtin:idle"},"team_b":{"name":"b","controller":"builtin:idle"},"maps":[]}}`, protocol.ErrProtoBadRequest},
	}
	for _, tc := range cases {
		ack := command(t, conn, tc.raw)
		if ack.OK || ack.Code != tc.code {
			t.Fatalf("%s: ack = %+v, want code %s", tc.raw, ack, tc.code)
		}
		if !protocol.IsKnownCode(ack.Code) {
			t.Fatalf("unknown code %q", ack.Code)
		}
	}
	if len(fr.calls) != 0 {
		t.Fatalf("rejected commands reached the runner: %v", fr.calls)
	}
}

func TestDispatch(t *testing.T) {
	s, fr, _ := newTestServer(t)

	if ack := s.Dispatch(protocol.CommandMsg{Cmd: "EXPLODE"}); ack.Code != protocol.ErrUnknownCommand {
		t.Fatalf("unknown command ack = %+v", ack)
	}
	if ack := s.Dispatch(protocol.CommandMsg{Cmd: protocol.CmdEnqueue}); ack.Code != protocol.ErrBadRequest {
		t.Fatalf("missing descriptor ack = %+v", ack)
	}
	bad := &protocol.MatchDescriptor{Maps: []string{"duel"}}
	if ack := s.Dispatch(protocol.CommandMsg{Cmd: protocol.CmdEnqueue, Descriptor: bad}); ack.Code != protocol.ErrInvalidDescriptor {
		t.Fatalf("invalid descriptor ack = %+v", ack)
	}
	for _, cmd := range []string{protocol.CmdStart, protocol.CmdRun, protocol.CmdResume, protocol.CmdTerminate, protocol.CmdState} {
		if ack := s.Dispatch(protocol.CommandMsg{Cmd: cmd}); !ack.OK {
			t.Fatalf("%s ack = %+v", cmd, ack)
		}
	}
	if got := strings.Join(fr.calls, ","); got != "start,run,resume,terminate" {
		t.Fatalf("calls = %s", got)
	}
}

func TestHandle_RemoteIsReadOnly(t *testing.T) {
	s, fr, _ := newTestServer(t)
	if ack := s.handle([]byte(`{"type":"COMMAND","cmd":"RUN"}`), false); ack.Code != protocol.ErrForbidden {
		t.Fatalf("remote RUN ack = %+v", ack)
	}
	if ack := s.handle([]byte(`{"type":"COMMAND","cmd":"STATE"}`), false); !ack.OK {
		t.Fatalf("remote STATE ack = %+v", ack)
	}
	if len(fr.calls) != 0 {
		t.Fatalf("calls = %v", fr.calls)
	}
}

func TestWS_FeedReceivesPublishedMessages(t *testing.T) {
	s, _, srv := newTestServer(t)
	conn := dial(t, srv)

	var st protocol.StateMsg
	readType(t, conn, protocol.TypeState, &st)

	deadline := time.Now().Add(5 * time.Second)
	for s.Hub().Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	s.Hub().Publish(protocol.RoundMsg{Type: protocol.TypeRound, SeriesID: "s1", Map: "duel", Round: 3, Digest: "abc"})

	var round protocol.RoundMsg
	readType(t, conn, protocol.TypeRound, &round)
	if round.SeriesID != "s1" || round.Round != 3 || round.Digest != "abc" {
		t.Fatalf("round = %+v", round)
	}
}

func TestHub_DropsOldestForSlowSubscribers(t *testing.T) {
	h := NewHub()
	id, ch := h.subscribe(1)
	defer h.unsubscribe(id)

	for i := 0; i < 3; i++ {
		h.Publish(map[string]int{"n": i})
	}
	if h.Dropped() != 2 || h.Published() != 3 {
		t.Fatalf("dropped=%d published=%d", h.Dropped(), h.Published())
	}
	if got := string(<-ch); got != `{"n":2}` {
		t.Fatalf("kept %s, want the newest message", got)
	}
}

func TestHTTP_StateAndMetrics(t *testing.T) {
	s, _, srv := newTestServer(t)
	s.Dispatch(protocol.CommandMsg{Cmd: protocol.CmdPause})

	resp, err := http.Get(srv.URL + "/v1/state")
	if err != nil {
		t.Fatalf("GET state: %v", err)
	}
	var st protocol.StateMsg
	err = json.NewDecoder(resp.Body).Decode(&st)
	resp.Body.Close()
	if err != nil || st.State != "READY" || st.Type != protocol.TypeState {
		t.Fatalf("state = %+v err=%v", st, err)
	}

	rec := httptest.NewRecorder()
	s.MetricsHandler()(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`arena_runner_state{state="READY"} 1`,
		`arena_commands_total{cmd="PAUSE"} 1`,
		`arena_feed_subscribers 0`,
		`arena_index_drop_round_total 0`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}

	resp, err = http.Get(srv.URL + "/healthz")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: %v %v", resp, err)
	}
	resp.Body.Close()
}
