package tcp_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/novcord/server/internal/adapters/tcp"
	"github.com/novcord/server/internal/app"
	"github.com/novcord/server/internal/domain"
	"github.com/novcord/server/internal/protocol"
)

// recordingVoice tracks LeaveChannel calls from session cleanup.
type recordingVoice struct {
	mu       sync.Mutex
	channels map[domain.UserID]domain.ChannelID
	left     []domain.UserID
}

func newRecordingVoice() *recordingVoice {
	return &recordingVoice{channels: make(map[domain.UserID]domain.ChannelID)}
}

func (v *recordingVoice) JoinChannel(id domain.UserID, ch domain.ChannelID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.channels[id] = ch
}

func (v *recordingVoice) LeaveChannel(id domain.UserID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.channels, id)
	v.left = append(v.left, id)
}

func (v *recordingVoice) ChannelOf(id domain.UserID) (domain.ChannelID, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	ch, ok := v.channels[id]
	return ch, ok
}

func (v *recordingVoice) Members(ch domain.ChannelID) []domain.UserID {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []domain.UserID
	for id, c := range v.channels {
		if c == ch {
			out = append(out, id)
		}
	}
	return out
}

func (v *recordingVoice) leftUsers() []domain.UserID {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]domain.UserID(nil), v.left...)
}

type fixture struct {
	reg   *app.Registry
	mux   *app.Mux
	voice *recordingVoice
	srv   *tcp.Server
}

func startServer(t *testing.T) *fixture {
	t.Helper()
	reg := app.NewRegistry()
	dispatch := app.NewDispatcher(reg)
	mux := app.NewMux()
	voice := newRecordingVoice()

	srv, err := tcp.Listen("127.0.0.1:0", reg, dispatch, mux, voice)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { srv.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Serve(ctx)

	return &fixture{reg: reg, mux: mux, voice: voice, srv: srv}
}

type client struct {
	t    *testing.T
	conn net.Conn
}

func dial(t *testing.T, f *fixture) *client {
	t.Helper()
	conn, err := net.Dial("tcp", f.srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &client{t: t, conn: conn}
}

func (c *client) send(env protocol.Envelope) {
	c.t.Helper()
	if err := protocol.WriteEnvelope(c.conn, env); err != nil {
		c.t.Fatalf("send: %v", err)
	}
}

func (c *client) recv() protocol.Envelope {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	env, err := protocol.ReadEnvelope(c.conn)
	if err != nil {
		c.t.Fatalf("recv: %v", err)
	}
	return env
}

func (c *client) connect(id int) {
	c.t.Helper()
	c.send(protocol.Envelope{"action": "connect", "payload": map[string]any{"id": id}})
	resp := c.recv()
	if resp["status"] != "ok" || resp["msg"] != "Connected" {
		c.t.Fatalf("connect response = %v", resp)
	}
}

func expectStatus(t *testing.T, env protocol.Envelope, userID float64, status string) {
	t.Helper()
	if env["event"] != "user_status" || env["user_id"] != userID || env["status"] != status {
		t.Fatalf("envelope = %v, want user_status %v %s", env, userID, status)
	}
}

func TestConnectAndReplay(t *testing.T) {
	f := startServer(t)

	s1 := dial(t, f)
	s1.connect(1)
	// The broadcast runs before the replay, so a fresh session sees its own
	// online event exactly once.
	expectStatus(t, s1.recv(), 1, "online")

	s2 := dial(t, f)
	s2.connect(2)
	expectStatus(t, s2.recv(), 2, "online") // own event, via broadcast
	expectStatus(t, s2.recv(), 1, "online") // replay of the existing online set

	expectStatus(t, s1.recv(), 2, "online")

	if !f.reg.IsOnline(1) || !f.reg.IsOnline(2) {
		t.Fatal("both users should be online")
	}
}

func TestCommandPassthrough(t *testing.T) {
	f := startServer(t)
	f.mux.Handle("echo", func(_ context.Context, payload map[string]any) (protocol.Envelope, error) {
		return protocol.Envelope{"status": "ok", "got": payload["text"]}, nil
	})

	c := dial(t, f)
	c.send(protocol.Envelope{"action": "echo", "payload": map[string]any{"text": "hi"}})
	resp := c.recv()
	if resp["status"] != "ok" || resp["got"] != "hi" {
		t.Fatalf("resp = %v", resp)
	}
}

func TestProcessorErrorKeepsSessionAlive(t *testing.T) {
	f := startServer(t)
	boom := errors.New("storage unavailable")
	f.mux.Handle("broken", func(_ context.Context, _ map[string]any) (protocol.Envelope, error) {
		return nil, boom
	})
	f.mux.Handle("fine", func(_ context.Context, _ map[string]any) (protocol.Envelope, error) {
		return protocol.Envelope{"status": "ok"}, nil
	})

	c := dial(t, f)
	c.send(protocol.Envelope{"action": "broken", "payload": map[string]any{}})
	resp := c.recv()
	if resp["status"] != "error" || resp["msg"] != "storage unavailable" {
		t.Fatalf("error resp = %v", resp)
	}

	// The session must survive a processor failure.
	c.send(protocol.Envelope{"action": "fine", "payload": map[string]any{}})
	if resp := c.recv(); resp["status"] != "ok" {
		t.Fatalf("followup resp = %v", resp)
	}
}

func TestUnknownActionRejected(t *testing.T) {
	f := startServer(t)
	c := dial(t, f)
	c.send(protocol.Envelope{"action": "no_such_thing", "payload": map[string]any{}})
	resp := c.recv()
	if resp["status"] != "error" {
		t.Fatalf("resp = %v", resp)
	}
}

func TestDisconnectCleanup(t *testing.T) {
	f := startServer(t)

	s1 := dial(t, f)
	s1.connect(1)
	expectStatus(t, s1.recv(), 1, "online")

	s5 := dial(t, f)
	s5.connect(5)
	expectStatus(t, s5.recv(), 5, "online")
	expectStatus(t, s5.recv(), 1, "online")
	expectStatus(t, s1.recv(), 5, "online")

	f.voice.JoinChannel(5, "7")

	s5.conn.Close()

	// The surviving session observes the offline broadcast.
	expectStatus(t, s1.recv(), 5, "offline")

	if f.reg.IsOnline(5) {
		t.Fatal("user 5 should be offline after disconnect")
	}
	if _, ok := f.voice.ChannelOf(5); ok {
		t.Fatal("voice membership should be gone after disconnect")
	}
	left := f.voice.leftUsers()
	if len(left) != 1 || left[0] != 5 {
		t.Fatalf("LeaveChannel calls = %v", left)
	}
}

func TestMalformedFrameDropsConnection(t *testing.T) {
	f := startServer(t)

	c := dial(t, f)
	c.connect(9)
	expectStatus(t, c.recv(), 9, "online")

	// A length prefix promising more bytes than will ever arrive.
	if _, err := c.conn.Write([]byte{0x00, 0x00, 0xFF, 0xFF, '{'}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = c.conn.(*net.TCPConn).CloseWrite()

	// Server must tear the session down and run cleanup.
	deadline := time.Now().Add(2 * time.Second)
	for f.reg.IsOnline(9) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if f.reg.IsOnline(9) {
		t.Fatal("user 9 still online after protocol error")
	}
}

func TestReconnectDoesNotGoOfflineFromStaleCleanup(t *testing.T) {
	f := startServer(t)

	first := dial(t, f)
	first.connect(3)
	expectStatus(t, first.recv(), 3, "online")

	second := dial(t, f)
	second.connect(3)
	expectStatus(t, second.recv(), 3, "online")

	// Old transport goes away; the presence entry now belongs to the new
	// session and must survive the stale handler's cleanup.
	first.conn.Close()

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if !f.reg.IsOnline(3) {
			t.Fatal("reconnect was knocked offline by stale cleanup")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
