package api

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/fleetlink-core/internal/agent"
	"github.com/nerrad567/fleetlink-core/internal/dashboard"
)

const frameTimeout = 2 * time.Second

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func dial(t *testing.T, env *testEnv, path string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(env.ts, path), nil)
	if err != nil {
		t.Fatalf("Dial(%s) error = %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	//nolint:errcheck // deadline failure surfaces as a read error
	conn.SetReadDeadline(time.Now().Add(frameTimeout))
	var frame map[string]any
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return frame
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
}

// dialAgent opens an agent channel and consumes the greeting.
func dialAgent(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	conn := dial(t, env, "/ws/agent")
	greeting := readFrame(t, conn)
	if greeting["messageType"] != agent.TypeInfo || greeting["message"] != agent.InfoConnected {
		t.Fatalf("greeting = %v", greeting)
	}
	return conn
}

func register(t *testing.T, conn *websocket.Conn, mac, owner string) {
	t.Helper()
	send(t, conn, map[string]any{
		"messageType": "register",
		"macAddress":  mac,
		"ipAddress":   "10.0.0.5",
		"machineName": "build-box",
		"userId":      owner,
	})
	reply := readFrame(t, conn)
	if reply["messageType"] != agent.TypeInfo {
		t.Fatalf("register reply = %v", reply)
	}
}

// dialDashboard opens a dashboard channel authenticated as userID.
func dialDashboard(t *testing.T, env *testEnv, userID string, role any) *websocket.Conn {
	t.Helper()
	conn := dial(t, env, "/ws/dashboard")
	send(t, conn, dashboard.Frame{Event: dashboard.EventAuth, Data: map[string]string{"token": token(t, userID, role)}})
	expectEvent(t, conn, dashboard.EventAuthSuccess)
	return conn
}

// expectEvent reads dashboard frames until event arrives and returns its data.
func expectEvent(t *testing.T, conn *websocket.Conn, event string) any {
	t.Helper()
	deadline := time.Now().Add(frameTimeout)
	for time.Now().Before(deadline) {
		frame := readFrame(t, conn)
		if frame["event"] == event {
			return frame["data"]
		}
	}
	t.Fatalf("no %s frame", event)
	return nil
}

// waitFor polls cond until it holds. Channel close handling runs on the
// server's read goroutine, after the client has already returned.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(frameTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestAgentSocket_RegisterThenExists(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	conn := dialAgent(t, env)

	register(t, conn, "aa-bb-cc-dd-ee-01", "u1")

	send(t, conn, map[string]any{"messageType": "exists", "macAddress": macA})
	reply := readFrame(t, conn)
	payload, _ := reply["payload"].(map[string]any)
	if reply["messageType"] != agent.TypeExists || payload["exists"] != true || payload["isConnected"] != true {
		t.Errorf("exists reply = %v", reply)
	}
	if _, ok := env.agents.Registry().Get(macA); !ok {
		t.Error("agent not in registry after register")
	}
}

func TestAgentSocket_InvalidFrameKeepsChannelOpen(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	conn := dialAgent(t, env)

	send(t, conn, map[string]any{"messageType": "register", "macAddress": "nope"})
	reply := readFrame(t, conn)
	if reply["messageType"] != agent.TypeError || !strings.HasPrefix(reply["message"].(string), "Invalid register message") {
		t.Errorf("reply = %v", reply)
	}

	send(t, conn, map[string]any{"messageType": "exists", "macAddress": macA})
	if reply := readFrame(t, conn); reply["messageType"] != agent.TypeExists {
		t.Errorf("reply after invalid frame = %v", reply)
	}
}

func TestAgentSocket_CloseMarksDisconnected(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	conn := dialAgent(t, env)
	register(t, conn, macA, "u1")

	conn.Close()

	waitFor(t, "registry sweep", func() bool {
		_, ok := env.agents.Registry().Get(macA)
		return !ok
	})
	if d := env.device(t, macA); d.IsConnected || d.LastSeen == nil {
		t.Errorf("device after close = %+v", d)
	}
}

func TestDashboardSocket_ScopedBroadcast(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	owner := dialDashboard(t, env, "u1", "user")
	stranger := dialDashboard(t, env, "u2", "user")
	admin := dialDashboard(t, env, "root", []string{"admin"})

	agentConn := dialAgent(t, env)
	register(t, agentConn, macA, "u1")

	for name, conn := range map[string]*websocket.Conn{"owner": owner, "admin": admin} {
		data, _ := expectEvent(t, conn, dashboard.EventDeviceUpdate).(map[string]any)
		if data["macAddress"] != macA || data["isConnected"] != true {
			t.Errorf("%s device-update = %v", name, data)
		}
	}

	// The stranger's next frame must be its own listing, not the broadcast.
	send(t, stranger, dashboard.Frame{Event: dashboard.EventGetDevices, Data: map[string]string{}})
	if frame := readFrame(t, stranger); frame["event"] != dashboard.EventDevicesList {
		t.Errorf("stranger received %v", frame)
	}
}

func TestDashboardSocket_ShutdownViaSession(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.seed(t, macA, "u1", false)
	conn := dialDashboard(t, env, "u1", "user")

	send(t, conn, dashboard.Frame{Event: dashboard.EventRegisterDevice, Data: dashboard.RegisterRequest{MACAddress: macA}})
	expectEvent(t, conn, dashboard.EventRegisterSuccess)
	if !env.device(t, macA).IsConnected {
		t.Fatal("register-device did not mark the device connected")
	}

	send(t, conn, dashboard.Frame{Event: dashboard.EventShutdownRequest, Data: dashboard.ShutdownRequest{MACAddress: macA}})
	cmd, _ := expectEvent(t, conn, dashboard.EventShutdownCommand).(map[string]any)
	if cmd["macAddress"] != macA {
		t.Errorf("shutdown-command = %v", cmd)
	}
	resp, _ := expectEvent(t, conn, dashboard.EventShutdownResponse).(map[string]any)
	if resp["success"] != true {
		t.Errorf("shutdown-response = %v", resp)
	}
	if env.device(t, macA).IsConnected {
		t.Error("device still connected after shutdown")
	}
}

func TestDashboardSocket_CloseSweepsSessions(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.seed(t, macA, "u1", false)
	conn := dialDashboard(t, env, "u1", "user")

	send(t, conn, dashboard.Frame{Event: dashboard.EventRegisterDevice, Data: dashboard.RegisterRequest{MACAddress: macA}})
	expectEvent(t, conn, dashboard.EventRegisterSuccess)

	conn.Close()

	waitFor(t, "session sweep", func() bool { return len(env.hub.Snapshot().Sessions) == 0 })
	if env.device(t, macA).IsConnected {
		t.Error("device still connected after its only session closed")
	}
}

func TestServer_CloseClosesChannels(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	conn := dialAgent(t, env)
	register(t, conn, macA, "u1")

	if err := env.srv.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	//nolint:errcheck // deadline failure surfaces as a read error
	conn.SetReadDeadline(time.Now().Add(frameTimeout))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("ReadMessage() error = %v, want going-away close", err)
	}
	// Close waits for close handling, so no polling is needed here.
	if env.device(t, macA).IsConnected {
		t.Error("device still connected after server close")
	}

	if _, _, err := websocket.DefaultDialer.DialContext(context.Background(), wsURL(env.ts, "/ws/agent"), nil); err == nil {
		t.Error("Dial() after Close() should fail")
	}
}
