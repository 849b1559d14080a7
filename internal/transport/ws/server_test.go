package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"voledrone.dev/internal/protocol"
)

type fakeVehicle struct {
	mu     sync.Mutex
	cmds   []string
	status chan protocol.StatusMsg
}

func (f *fakeVehicle) Submit(_ context.Context, source, cmd string) (protocol.AckMsg, error) {
	f.mu.Lock()
	f.cmds = append(f.cmds, source+"/"+cmd)
	f.mu.Unlock()
	return protocol.AckMsg{Type: protocol.TypeAck, ProtocolVersion: protocol.Version, AckFor: cmd, Accepted: true, Tick: 7}, nil
}

func (f *fakeVehicle) Subscribe(int) (<-chan protocol.StatusMsg, func()) {
	return f.status, func() {}
}

func (f *fakeVehicle) Latest() protocol.StatusMsg {
	return protocol.StatusMsg{Type: protocol.TypeStatus, ProtocolVersion: protocol.Version, Tick: 1}
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
}

func TestServer_HandshakeCommandAndStatus(t *testing.T) {
	veh := &fakeVehicle{status: make(chan protocol.StatusMsg, 1)}
	s := NewServer(veh, "vole-1", 100, zaptest.NewLogger(t).Sugar())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dial(t, srv)
	if err := conn.WriteJSON(protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, ClientName: "t", WantStatus: true}); err != nil {
		t.Fatalf("hello: %v", err)
	}
	var welcome protocol.WelcomeMsg
	readJSON(t, conn, &welcome)
	if welcome.Type != protocol.TypeWelcome || welcome.VehicleID != "vole-1" || welcome.TickMs != 100 || len(welcome.Commands) != len(protocol.Commands) {
		t.Fatalf("welcome: %+v", welcome)
	}
	var first protocol.StatusMsg
	readJSON(t, conn, &first)
	if first.Type != protocol.TypeStatus || first.Tick != 1 {
		t.Fatalf("initial status: %+v", first)
	}

	if err := conn.WriteJSON(protocol.CommandMsg{Type: protocol.TypeCommand, ProtocolVersion: protocol.Version, Command: protocol.CmdUnpack}); err != nil {
		t.Fatalf("command: %v", err)
	}
	var ack protocol.AckMsg
	readJSON(t, conn, &ack)
	if !ack.Accepted || ack.AckFor != protocol.CmdUnpack || ack.Tick != 7 {
		t.Fatalf("ack: %+v", ack)
	}

	veh.status <- protocol.StatusMsg{Type: protocol.TypeStatus, ProtocolVersion: protocol.Version, Tick: 9}
	var st protocol.StatusMsg
	readJSON(t, conn, &st)
	if st.Tick != 9 {
		t.Fatalf("status tick: got %d", st.Tick)
	}

	veh.mu.Lock()
	defer veh.mu.Unlock()
	if len(veh.cmds) != 1 || veh.cmds[0] != "ws:t/unpack" {
		t.Fatalf("submitted: %v", veh.cmds)
	}
}

func TestServer_RejectsBadCommands(t *testing.T) {
	veh := &fakeVehicle{}
	s := NewServer(veh, "vole-1", 100, zaptest.NewLogger(t).Sugar())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dial(t, srv)
	if err := conn.WriteJSON(protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version}); err != nil {
		t.Fatalf("hello: %v", err)
	}
	var welcome protocol.WelcomeMsg
	readJSON(t, conn, &welcome)

	cases := []struct {
		frame any
		code  string
	}{
		{map[string]string{"type": "PING"}, protocol.ErrProtoBadRequest},
		{protocol.CommandMsg{Type: protocol.TypeCommand, ProtocolVersion: "0.9", Command: protocol.CmdUp}, protocol.ErrProtoVersion},
		{protocol.CommandMsg{Type: protocol.TypeCommand, ProtocolVersion: protocol.Version, Command: "dig-faster"}, protocol.ErrUnknownCommand},
	}
	for _, tc := range cases {
		if err := conn.WriteJSON(tc.frame); err != nil {
			t.Fatalf("write: %v", err)
		}
		var ack protocol.AckMsg
		readJSON(t, conn, &ack)
		if ack.Accepted || ack.Code != tc.code {
			t.Fatalf("frame %+v: got %+v, want code %s", tc.frame, ack, tc.code)
		}
	}
	if len(veh.cmds) != 0 {
		t.Fatalf("rejected frames reached the vehicle: %v", veh.cmds)
	}
}

func TestServer_HandshakeRequiresHello(t *testing.T) {
	s := NewServer(&fakeVehicle{}, "vole-1", 100, zaptest.NewLogger(t).Sugar())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dial(t, srv)
	if err := conn.WriteJSON(protocol.CommandMsg{Type: protocol.TypeCommand, ProtocolVersion: protocol.Version, Command: protocol.CmdUp}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy close, got %v", err)
	}
}

func TestStatusHandler(t *testing.T) {
	s := NewServer(&fakeVehicle{}, "vole-1", 100, zaptest.NewLogger(t).Sugar())
	srv := httptest.NewServer(s.StatusHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var st protocol.StatusMsg
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Type != protocol.TypeStatus || st.Tick != 1 {
		t.Fatalf("status: %+v", st)
	}
}

func TestServer_KeepsIdleWatchersConnected(t *testing.T) {
	veh := &fakeVehicle{status: make(chan protocol.StatusMsg, 1)}
	s := NewServer(veh, "vole-1", 100, zaptest.NewLogger(t).Sugar())
	s.ReadTimeout = 300 * time.Millisecond
	s.PingInterval = 50 * time.Millisecond
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dial(t, srv)
	if err := conn.WriteJSON(protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, ClientName: "watcher", WantStatus: true}); err != nil {
		t.Fatalf("hello: %v", err)
	}
	var welcome protocol.WelcomeMsg
	readJSON(t, conn, &welcome)
	var first protocol.StatusMsg
	readJSON(t, conn, &first)

	// Stay silent for several read timeouts; the reads below answer pings.
	go func() {
		time.Sleep(4 * s.ReadTimeout)
		veh.status <- protocol.StatusMsg{Type: protocol.TypeStatus, ProtocolVersion: protocol.Version, Tick: 12}
	}()
	var st protocol.StatusMsg
	readJSON(t, conn, &st)
	if st.Tick != 12 {
		t.Fatalf("status tick: got %d want 12", st.Tick)
	}
}
