package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"CapIot.gateway/internal/models"
	"CapIot.gateway/internal/registry"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	mu          sync.Mutex
	conns       map[string]registry.Conn
	registered  []*models.RegisterMessage
	messages    []any
	disconnects []string
	messageErr  error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{conns: make(map[string]registry.Conn)}
}

func (g *fakeGateway) HandleRegister(conn registry.Conn, msg *models.RegisterMessage) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.conns[msg.DeviceID] = conn
	g.registered = append(g.registered, msg)
	return nil
}

func (g *fakeGateway) HandleMessage(deviceID string, msg any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.messages = append(g.messages, msg)
	return g.messageErr
}

func (g *fakeGateway) HandleDisconnect(deviceID, connID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.disconnects = append(g.disconnects, deviceID)
}

func (g *fakeGateway) registeredCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.registered)
}

func (g *fakeGateway) messageCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.messages)
}

func (g *fakeGateway) disconnectedDevices() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.disconnects))
	copy(out, g.disconnects)
	return out
}

func (g *fakeGateway) conn(deviceID string) registry.Conn {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.conns[deviceID]
}

func dialTestServer(t *testing.T, gateway Gateway) *websocket.Conn {
	t.Helper()
	tr := NewWSTransport(gateway)
	server := httptest.NewServer(http.HandlerFunc(tr.HandleDeviceSocket))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/esp32"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

const registerFrame = `{
	"type": "register",
	"deviceId": "esp32-sim-1",
	"name": "ESP32 Test Node",
	"firmwareVersion": "2.1.0",
	"capabilities": [{"id": "camera", "label": "Camera Module", "configurable": true}],
	"samplingRate": 500
}`

func readFrame(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func TestRegisterReachesGateway(t *testing.T) {
	gateway := newFakeGateway()
	ws := dialTestServer(t, gateway)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(registerFrame)))

	assert.Eventually(t, func() bool { return gateway.registeredCount() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestMalformedFrameEchoesProtocolError(t *testing.T) {
	gateway := newFakeGateway()
	ws := dialTestServer(t, gateway)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type": `)))

	frame := readFrame(t, ws)
	assert.Equal(t, string(models.TypeError), frame["type"])
	assert.Equal(t, string(models.ErrorCodeProtocolError), frame["code"])

	// The connection survives a rejected frame.
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(registerFrame)))
	assert.Eventually(t, func() bool { return gateway.registeredCount() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestMessagesBeforeRegisterAreRejected(t *testing.T) {
	gateway := newFakeGateway()
	ws := dialTestServer(t, gateway)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type": "heartbeat"}`)))

	frame := readFrame(t, ws)
	assert.Equal(t, string(models.ErrorCodeProtocolError), frame["code"])
	assert.Equal(t, 0, gateway.messageCount())
}

func TestRegisterCannotChangeDeviceIDOnSameConnection(t *testing.T) {
	gateway := newFakeGateway()
	ws := dialTestServer(t, gateway)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(registerFrame)))
	require.Eventually(t, func() bool { return gateway.registeredCount() == 1 },
		time.Second, 5*time.Millisecond)

	secondIdentity := strings.Replace(registerFrame, "esp32-sim-1", "esp32-sim-2", 1)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(secondIdentity)))

	frame := readFrame(t, ws)
	assert.Equal(t, string(models.ErrorCodeProtocolError), frame["code"])
	assert.Equal(t, 1, gateway.registeredCount(),
		"a register under a new id must not reach the gateway")

	// Re-registering under the same id stays allowed (idempotent reconnect).
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(registerFrame)))
	assert.Eventually(t, func() bool { return gateway.registeredCount() == 2 },
		time.Second, 5*time.Millisecond)
}

func TestInboundMessagesRoutedByDeviceID(t *testing.T) {
	gateway := newFakeGateway()
	ws := dialTestServer(t, gateway)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(registerFrame)))
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type": "heartbeat"}`)))

	assert.Eventually(t, func() bool { return gateway.messageCount() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestOutboundFramesDeliveredInOrder(t *testing.T) {
	gateway := newFakeGateway()
	ws := dialTestServer(t, gateway)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(registerFrame)))
	require.Eventually(t, func() bool { return gateway.conn("esp32-sim-1") != nil },
		time.Second, 5*time.Millisecond)

	conn := gateway.conn("esp32-sim-1")
	require.NoError(t, conn.Send(models.NewConfigUpdate(map[string]any{"camera": "on"})))
	require.NoError(t, conn.Send(models.NewSessionStart("s1", nil)))
	require.NoError(t, conn.Send(models.NewSessionStop("s1")))

	assert.Equal(t, string(models.TypeConfigUpdate), readFrame(t, ws)["type"])
	assert.Equal(t, string(models.TypeSessionStart), readFrame(t, ws)["type"])
	assert.Equal(t, string(models.TypeSessionStop), readFrame(t, ws)["type"])
}

func TestClientDisconnectNotifiesGateway(t *testing.T) {
	gateway := newFakeGateway()
	ws := dialTestServer(t, gateway)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(registerFrame)))
	require.Eventually(t, func() bool { return gateway.registeredCount() == 1 },
		time.Second, 5*time.Millisecond)

	ws.Close()

	assert.Eventually(t, func() bool {
		devices := gateway.disconnectedDevices()
		return len(devices) == 1 && devices[0] == "esp32-sim-1"
	}, time.Second, 5*time.Millisecond)
}

func TestCloseCancelsReceiveLoop(t *testing.T) {
	gateway := newFakeGateway()
	ws := dialTestServer(t, gateway)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(registerFrame)))
	require.Eventually(t, func() bool { return gateway.conn("esp32-sim-1") != nil },
		time.Second, 5*time.Millisecond)

	// Closing from the gateway side (eviction, supersede) must tear down the
	// receive loop and report the disconnect.
	gateway.conn("esp32-sim-1").Close()

	assert.Eventually(t, func() bool {
		return len(gateway.disconnectedDevices()) == 1
	}, time.Second, 5*time.Millisecond)

	ws.SetReadDeadline(time.Now().Add(time.Second))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
}
