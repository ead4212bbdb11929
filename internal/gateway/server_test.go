package gateway

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/goswarm/internal/bus"
	"github.com/nextlevelbuilder/goswarm/pkg/protocol"
)

const testReadTimeout = 2 * time.Second

func newTestGateway(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	srv := NewServer(cfg)
	srv.Start()
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Shutdown()
		ts.Close()
	})
	return srv, ts
}

func dialGateway(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// call sends one request and reads frames until its response arrives.
// Event frames interleaving with responses are skipped.
func call(t *testing.T, conn *websocket.Conn, id, method string, params interface{}) *protocol.ResponseFrame {
	t.Helper()
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			t.Fatalf("marshal params: %v", err)
		}
		raw = data
	}
	req := protocol.RequestFrame{Type: protocol.FrameTypeRequest, ID: id, Method: method, Params: raw}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("write %s: %v", method, err)
	}
	return awaitResponse(t, conn, id)
}

func awaitResponse(t *testing.T, conn *websocket.Conn, id string) *protocol.ResponseFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(testReadTimeout))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read response %s: %v", id, err)
		}
		frameType, err := protocol.ParseFrameType(data)
		if err != nil {
			t.Fatalf("parse frame: %v", err)
		}
		if frameType != protocol.FrameTypeResponse {
			continue
		}
		var resp protocol.ResponseFrame
		if err := json.Unmarshal(data, &resp); err != nil {
			t.Fatalf("unmarshal response: %v", err)
		}
		if resp.ID != id {
			continue
		}
		return &resp
	}
}

func connectClient(t *testing.T, conn *websocket.Conn, token string) *protocol.ResponseFrame {
	t.Helper()
	params := map[string]string{}
	if token != "" {
		params["token"] = token
	}
	return call(t, conn, "connect-1", protocol.MethodConnect, params)
}

func resultMap(t *testing.T, resp *protocol.ResponseFrame) map[string]interface{} {
	t.Helper()
	m, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("result is %T, want map", resp.Result)
	}
	return m
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnectWithToken(t *testing.T) {
	_, ts := newTestGateway(t, Config{Token: "secret"})
	conn := dialGateway(t, ts)

	resp := connectClient(t, conn, "wrong")
	if resp.OK {
		t.Fatal("connect with wrong token succeeded")
	}
	if resp.Error == nil || resp.Error.Code != protocol.ErrUnauthorized {
		t.Fatalf("error = %+v, want code %q", resp.Error, protocol.ErrUnauthorized)
	}

	resp = call(t, conn, "connect-2", protocol.MethodConnect, map[string]string{"token": "secret"})
	if !resp.OK {
		t.Fatalf("connect with correct token failed: %+v", resp.Error)
	}
	result := resultMap(t, resp)
	if got := result["protocol"]; got != float64(protocol.ProtocolVersion) {
		t.Errorf("protocol = %v, want %d", got, protocol.ProtocolVersion)
	}
	server, ok := result["server"].(map[string]interface{})
	if !ok {
		t.Fatalf("server field is %T, want map", result["server"])
	}
	if server["name"] != "goswarm" {
		t.Errorf("server.name = %v, want goswarm", server["name"])
	}
}

func TestOpenGatewayAcceptsConnect(t *testing.T) {
	_, ts := newTestGateway(t, Config{})
	conn := dialGateway(t, ts)

	resp := connectClient(t, conn, "")
	if !resp.OK {
		t.Fatalf("connect on open gateway failed: %+v", resp.Error)
	}
}

func TestHealthAllowedBeforeConnect(t *testing.T) {
	_, ts := newTestGateway(t, Config{Token: "secret"})
	conn := dialGateway(t, ts)

	resp := call(t, conn, "h1", protocol.MethodHealth, nil)
	if !resp.OK {
		t.Fatalf("health before connect failed: %+v", resp.Error)
	}
	if got := resultMap(t, resp)["status"]; got != "ok" {
		t.Errorf("status = %v, want ok", got)
	}
}

func TestMethodsRequireConnect(t *testing.T) {
	_, ts := newTestGateway(t, Config{Token: "secret"})
	conn := dialGateway(t, ts)

	resp := call(t, conn, "s1", protocol.MethodStatus, nil)
	if resp.OK {
		t.Fatal("status before connect succeeded")
	}
	if resp.Error == nil || resp.Error.Code != protocol.ErrUnauthorized {
		t.Fatalf("error = %+v, want code %q", resp.Error, protocol.ErrUnauthorized)
	}
}

func TestUnknownMethod(t *testing.T) {
	_, ts := newTestGateway(t, Config{})
	conn := dialGateway(t, ts)
	connectClient(t, conn, "")

	resp := call(t, conn, "u1", "bogus.method", nil)
	if resp.OK {
		t.Fatal("unknown method succeeded")
	}
	if resp.Error == nil || resp.Error.Code != protocol.ErrInvalidRequest {
		t.Fatalf("error = %+v, want code %q", resp.Error, protocol.ErrInvalidRequest)
	}
	if !strings.Contains(resp.Error.Message, "unknown method") {
		t.Errorf("message = %q, want mention of unknown method", resp.Error.Message)
	}
}

func TestStatusReportsClients(t *testing.T) {
	_, ts := newTestGateway(t, Config{})
	conn := dialGateway(t, ts)
	connectClient(t, conn, "")

	resp := call(t, conn, "s1", protocol.MethodStatus, nil)
	if !resp.OK {
		t.Fatalf("status failed: %+v", resp.Error)
	}
	result := resultMap(t, resp)
	if clients, _ := result["clients"].(float64); clients < 1 {
		t.Errorf("clients = %v, want >= 1", result["clients"])
	}
	if got := result["protocol"]; got != float64(protocol.ProtocolVersion) {
		t.Errorf("protocol = %v, want %d", got, protocol.ProtocolVersion)
	}
}

func TestMalformedFramesGetErrors(t *testing.T) {
	_, ts := newTestGateway(t, Config{})
	conn := dialGateway(t, ts)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp := awaitResponse(t, conn, "")
	if resp.OK || resp.Error == nil || resp.Error.Code != protocol.ErrInvalidRequest {
		t.Fatalf("malformed frame response = %+v, want invalid_request", resp)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"res","id":"x"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp = awaitResponse(t, conn, "")
	if resp.OK || resp.Error == nil || resp.Error.Code != protocol.ErrInvalidRequest {
		t.Fatalf("response-frame response = %+v, want invalid_request", resp)
	}
}

func TestEventsReachOnlyAuthenticatedClients(t *testing.T) {
	b := bus.New()
	srv, ts := newTestGateway(t, Config{Token: "secret", Bus: b})

	authed := dialGateway(t, ts)
	resp := connectClient(t, authed, "secret")
	if !resp.OK {
		t.Fatalf("connect failed: %+v", resp.Error)
	}

	bystander := dialGateway(t, ts)
	waitFor(t, time.Second, "both clients registered", func() bool {
		return srv.ClientCount() == 2
	})

	b.Publish(protocol.EventDelegationCompleted, map[string]interface{}{
		"delegation_id": "d1",
	})

	authed.SetReadDeadline(time.Now().Add(testReadTimeout))
	var event protocol.EventFrame
	for {
		_, data, err := authed.ReadMessage()
		if err != nil {
			t.Fatalf("read event: %v", err)
		}
		frameType, _ := protocol.ParseFrameType(data)
		if frameType != protocol.FrameTypeEvent {
			continue
		}
		if err := json.Unmarshal(data, &event); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		break
	}
	if event.Event != protocol.EventDelegationCompleted {
		t.Errorf("event = %q, want %q", event.Event, protocol.EventDelegationCompleted)
	}
	if event.Payload["delegation_id"] != "d1" {
		t.Errorf("payload delegation_id = %v, want d1", event.Payload["delegation_id"])
	}

	bystander.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := bystander.ReadMessage(); err == nil {
		t.Error("unauthenticated client received a frame, want none")
	}
}

func TestRateLimitedRequests(t *testing.T) {
	_, ts := newTestGateway(t, Config{RequestsPerMinute: 60, Burst: 1})
	conn := dialGateway(t, ts)

	resp := connectClient(t, conn, "")
	if !resp.OK {
		t.Fatalf("connect failed: %+v", resp.Error)
	}

	resp = call(t, conn, "h1", protocol.MethodHealth, nil)
	if resp.OK {
		t.Fatal("request past burst succeeded, want rate limited")
	}
	if resp.Error == nil || resp.Error.Code != protocol.ErrRateLimited {
		t.Fatalf("error = %+v, want code %q", resp.Error, protocol.ErrRateLimited)
	}
}

func TestClientCountTracksConnections(t *testing.T) {
	srv, ts := newTestGateway(t, Config{})

	c1 := dialGateway(t, ts)
	c2 := dialGateway(t, ts)
	connectClient(t, c1, "")
	connectClient(t, c2, "")

	waitFor(t, time.Second, "both clients registered", func() bool {
		return srv.ClientCount() == 2
	})

	c2.Close()
	waitFor(t, time.Second, "disconnect noticed", func() bool {
		return srv.ClientCount() == 1
	})
}

func TestShutdownClosesClients(t *testing.T) {
	srv, ts := newTestGateway(t, Config{})
	conn := dialGateway(t, ts)
	connectClient(t, conn, "")

	waitFor(t, time.Second, "client registered", func() bool {
		return srv.ClientCount() == 1
	})

	srv.Shutdown()

	conn.SetReadDeadline(time.Now().Add(testReadTimeout))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	waitFor(t, time.Second, "client map drained", func() bool {
		return srv.ClientCount() == 0
	})

	// Connections after shutdown are refused.
	late := dialGateway(t, ts)
	late.SetReadDeadline(time.Now().Add(testReadTimeout))
	if _, _, err := late.ReadMessage(); err == nil {
		t.Error("read on post-shutdown connection succeeded, want close")
	}
}
