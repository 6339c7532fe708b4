package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/IRFAN-KHAN-git/fingerprint-attendance-system/pkg/attendance"
	"github.com/IRFAN-KHAN-git/fingerprint-attendance-system/pkg/device"
	"github.com/IRFAN-KHAN-git/fingerprint-attendance-system/pkg/storage"
)

type fixture struct {
	sim     *device.Simulator
	session *device.Session
	store   *storage.Store
	hub     *Hub
	srv     *httptest.Server
}

func newFixture(t *testing.T, opts Options, connect bool) *fixture {
	t.Helper()
	sim := device.NewSimulator()
	if !connect {
		sim.FailOpen(context.Canceled)
	}
	session, err := device.NewSession(sim, device.Config{
		ConnectDelay:      time.Millisecond,
		ReconnectInterval: 20 * time.Millisecond,
		EnrollTimeout:     time.Second,
		VerifyTimeout:     200 * time.Millisecond,
		DeleteWindow:      20 * time.Millisecond,
	})
	require.NoError(t, err)

	store, err := storage.Open(filepath.Join(t.TempDir(), "api.sqlite"))
	require.NoError(t, err)

	svc, err := attendance.NewService(session, store)
	require.NoError(t, err)

	hub := NewHub(session.Snapshot)
	events, unsubscribe := session.Subscribe(64)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = hub.Run(ctx, events) }()

	srv := httptest.NewServer(New(svc, store, session, hub, opts).Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		unsubscribe()
		_ = session.Close()
		_ = store.Close()
	})

	require.NoError(t, session.Start(context.Background()))
	if connect {
		waitCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		require.NoError(t, session.WaitConnected(waitCtx))
	}
	return &fixture{sim: sim, session: session, store: store, hub: hub, srv: srv}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestFingerprintLifecycle(t *testing.T) {
	f := newFixture(t, Options{}, true)

	code, body := f.do(t, http.MethodPost, "/api/students", map[string]any{
		"rollNumber": "CS-01", "name": "Alice", "classes": []string{"CS101"},
	})
	require.Equal(t, http.StatusCreated, code, body)
	student := body["student"].(map[string]any)
	studentID := int64(student["id"].(float64))

	code, body = f.do(t, http.MethodPost, "/api/fingerprint/register", map[string]any{"studentId": studentID})
	require.Equal(t, http.StatusOK, code, body)
	require.Equal(t, float64(1), body["templateId"])

	code, body = f.do(t, http.MethodPost, "/api/fingerprint/register", map[string]any{"studentId": studentID})
	require.Equal(t, http.StatusConflict, code, body)
	require.Equal(t, false, body["success"])

	code, body = f.do(t, http.MethodGet, "/api/fingerprint/registered", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, float64(1), body["count"])

	f.sim.PlaceFinger(1)
	code, body = f.do(t, http.MethodPost, "/api/fingerprint/verify-and-mark", map[string]any{"classCode": "CS101"})
	require.Equal(t, http.StatusOK, code, body)
	require.Equal(t, false, body["alreadyMarked"])

	f.sim.PlaceFinger(1)
	code, body = f.do(t, http.MethodPost, "/api/fingerprint/verify-and-mark", map[string]any{"classCode": "CS101"})
	require.Equal(t, http.StatusOK, code, body)
	require.Equal(t, true, body["alreadyMarked"])

	today := time.Now().Format("2006-01-02")
	code, body = f.do(t, http.MethodGet, "/api/attendance/date?classCode=CS101&date="+today, nil)
	require.Equal(t, http.StatusOK, code, body)
	require.Equal(t, float64(1), body["count"])
	require.Equal(t, today, body["date"])
	code, body = f.do(t, http.MethodGet, "/api/attendance/date?date=2001-01-01", nil)
	require.Equal(t, http.StatusOK, code, body)
	require.Equal(t, float64(0), body["count"])
	code, _ = f.do(t, http.MethodGet, "/api/attendance/date", nil)
	require.Equal(t, http.StatusBadRequest, code)
	code, _ = f.do(t, http.MethodGet, "/api/attendance/date?date=03/02/2026", nil)
	require.Equal(t, http.StatusBadRequest, code)

	code, body = f.do(t, http.MethodDelete, "/api/fingerprint/"+jsonNumber(studentID), nil)
	require.Equal(t, http.StatusOK, code, body)
	require.Empty(t, f.sim.Templates())

	code, _ = f.do(t, http.MethodDelete, "/api/fingerprint/abc", nil)
	require.Equal(t, http.StatusBadRequest, code)
}

func TestVerifyErrorMapping(t *testing.T) {
	f := newFixture(t, Options{}, true)

	// No finger queued: the simulator answers ERROR:No match.
	code, body := f.do(t, http.MethodPost, "/api/fingerprint/verify", nil)
	require.Equal(t, http.StatusUnprocessableEntity, code, body)
	require.Equal(t, "No match", body["deviceMessage"])

	// A template the sensor knows but no student holds.
	_, err := f.session.Enroll(context.Background(), 7)
	require.NoError(t, err)
	f.sim.PlaceFinger(7)
	code, body = f.do(t, http.MethodPost, "/api/fingerprint/verify", nil)
	require.Equal(t, http.StatusNotFound, code, body)
	require.Equal(t, true, body["needsEnrollment"])
	require.Equal(t, float64(7), body["templateId"])

	f.sim.Mute(true)
	code, body = f.do(t, http.MethodPost, "/api/fingerprint/verify", nil)
	require.Equal(t, http.StatusGatewayTimeout, code, body)

	code, _ = f.do(t, http.MethodPost, "/api/fingerprint/verify-and-mark", map[string]any{})
	require.Equal(t, http.StatusBadRequest, code)
	code, _ = f.do(t, http.MethodPost, "/api/fingerprint/register", map[string]any{})
	require.Equal(t, http.StatusBadRequest, code)
	code, _ = f.do(t, http.MethodPost, "/api/fingerprint/register", map[string]any{"studentId": 99})
	require.Equal(t, http.StatusNotFound, code)
}

func TestDeviceUnavailable(t *testing.T) {
	f := newFixture(t, Options{}, false)

	code, body := f.do(t, http.MethodGet, "/api/fingerprint/status", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, false, body["connected"])

	code, body = f.do(t, http.MethodPost, "/api/fingerprint/verify", nil)
	require.Equal(t, http.StatusServiceUnavailable, code, body)
}

func TestAuthTokenAndCORS(t *testing.T) {
	f := newFixture(t, Options{AuthToken: "s3cret", CORSOrigin: "http://localhost:3000"}, true)

	code, _ := f.do(t, http.MethodGet, "/api/students", nil)
	require.Equal(t, http.StatusUnauthorized, code)

	req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/api/students", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer s3cret")
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))

	req, err = http.NewRequest(http.MethodGet, f.srv.URL+"/api/device/events", nil)
	require.NoError(t, err)
	req.Header.Set(tokenHeader, "s3cret")
	req.Header.Set("Origin", "http://evil.example")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))

	// Same length, different token.
	req, err = http.NewRequest(http.MethodGet, f.srv.URL+"/api/students", nil)
	require.NoError(t, err)
	req.Header.Set(tokenHeader, "s3creT")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Query tokens are only honoured on the websocket handshake.
	code, _ = f.do(t, http.MethodGet, "/api/students?token=s3cret", nil)
	require.Equal(t, http.StatusUnauthorized, code)

	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	_, resp, err = websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token=s3cret", nil)
	require.NoError(t, err)
	conn.Close()
}

func TestWebsocketReceivesDeviceNotifications(t *testing.T) {
	f := newFixture(t, Options{}, true)

	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var first wsMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&first))
	require.Equal(t, "snapshot", first.Type)

	require.Eventually(t, func() bool { return f.hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	_, err = f.session.Enroll(context.Background(), 2)
	require.NoError(t, err)

	for {
		var msg struct {
			Type    string              `json:"type"`
			Payload device.Notification `json:"payload"`
		}
		require.NoError(t, conn.ReadJSON(&msg))
		require.Equal(t, "device", msg.Type)
		if msg.Payload.Type == device.NotifyOperationFinished {
			require.Equal(t, 2, msg.Payload.TemplateID)
			break
		}
	}
}

func jsonNumber(n int64) string {
	data, _ := json.Marshal(n)
	return string(data)
}
