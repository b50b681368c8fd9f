package handlers

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dialscope/dialscope/pkg/core/types"
)

func dialMediaStream(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	h := MediaStreamHandler{Engine: env.engine, Config: env.cfg, Logger: slog.New(slog.DiscardHandler)}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func framePayload(samples int, amplitude int16) string {
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := amplitude
		if i%2 == 1 {
			v = -amplitude
		}
		buf[i*2] = byte(uint16(v))
		buf[i*2+1] = byte(uint16(v) >> 8)
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// quietFramePayload carries audio at normalized energy ~0.2, below the
// machine-energy threshold but above the silence amplitude.
func quietFramePayload(samples int) string {
	return framePayload(samples, 6500)
}

func sendJSON(t *testing.T, conn *websocket.Conn, format string, args ...any) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf(format, args...))); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// sendQuietAudio feeds n 100ms inbound frames, ticking the detector clock
// along.
func sendQuietAudio(t *testing.T, conn *websocket.Conn, env *testEnv, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		sendJSON(t, conn, `{"event": "media", "media": {"track": "inbound", "payload": %q}}`, quietFramePayload(800))
		env.clock.Advance(100 * time.Millisecond)
	}
}

func readUntilClose(t *testing.T, conn *websocket.Conn, wantCode int) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		if !websocket.IsCloseError(err, wantCode) {
			t.Fatalf("close error = %v, want code %d", err, wantCode)
		}
		return
	}
}

// waitForAnswered blocks until the start event opened the capture, so clock
// ticks afterward count against the collection window.
func waitForAnswered(t *testing.T, env *testEnv, providerCallID string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		s, err := env.store.GetByProviderCallID(t.Context(), providerCallID)
		if err == nil && s.State == types.StateAnswered {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("call %s never reached answered", providerCallID)
}

func waitForVerdict(t *testing.T, env *testEnv, providerCallID string, want types.Verdict) *types.CallSession {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		s, err := env.store.GetByProviderCallID(t.Context(), providerCallID)
		if err == nil && s.Verdict == want {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	s, _ := env.store.GetByProviderCallID(t.Context(), providerCallID)
	t.Fatalf("verdict never became %v; session %+v", want, s)
	return nil
}

func TestMediaStreamWindowWritesVerdictMidCall(t *testing.T) {
	env := newTestEnv(t)
	env.placeSession(t, "anonymous", "stream")
	conn := dialMediaStream(t, env)

	sendJSON(t, conn, `{"event": "connected", "protocol": "Call"}`)
	sendJSON(t, conn, `{"event": "start", "start": {"callSid": "CA-test", "streamSid": "MZ1"}}`)
	waitForAnswered(t, env, "CA-test")

	// Three seconds of low-energy audio; the verdict must land while the
	// socket is still open, no stop event in sight.
	sendQuietAudio(t, conn, env, 30)
	sendJSON(t, conn, `{"event": "media", "media": {"track": "inbound", "payload": %q}}`, quietFramePayload(800))

	sess := waitForVerdict(t, env, "CA-test", types.VerdictMachine)
	if sess.Confidence != 0.78 {
		t.Errorf("confidence = %.2f, want 0.78", sess.Confidence)
	}
	if sess.VerdictSource != types.SourceStream {
		t.Errorf("source = %v", sess.VerdictSource)
	}
	if sess.State != types.StateAnswered {
		t.Errorf("state = %v, want answered", sess.State)
	}

	// A later stop discards leftover buffer without touching the verdict.
	sendJSON(t, conn, `{"event": "stop", "stop": {"callSid": "CA-test"}}`)
	readUntilClose(t, conn, websocket.CloseNormalClosure)

	after, err := env.store.GetByProviderCallID(t.Context(), "CA-test")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if after.Verdict != types.VerdictMachine || after.Confidence != 0.78 {
		t.Errorf("verdict after stop = %v/%.2f, want machine/0.78", after.Verdict, after.Confidence)
	}
}

func TestMediaStreamVerdictSurvivesAbruptClose(t *testing.T) {
	env := newTestEnv(t)
	env.placeSession(t, "anonymous", "stream")
	conn := dialMediaStream(t, env)

	sendJSON(t, conn, `{"event": "start", "start": {"callSid": "CA-test", "streamSid": "MZ1"}}`)
	waitForAnswered(t, env, "CA-test")
	sendQuietAudio(t, conn, env, 30)
	sendJSON(t, conn, `{"event": "media", "media": {"track": "inbound", "payload": %q}}`, quietFramePayload(800))
	waitForVerdict(t, env, "CA-test", types.VerdictMachine)

	// Drop the socket with no stop event; the written verdict stays.
	conn.Close()

	sess, err := env.store.GetByProviderCallID(t.Context(), "CA-test")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.Verdict != types.VerdictMachine || sess.Confidence != 0.78 {
		t.Errorf("verdict = %v/%.2f, want machine/0.78", sess.Verdict, sess.Confidence)
	}
}

func TestMediaStreamStopBeforeWindowDiscards(t *testing.T) {
	env := newTestEnv(t)
	env.placeSession(t, "anonymous", "stream")
	conn := dialMediaStream(t, env)

	sendJSON(t, conn, `{"event": "start", "start": {"callSid": "CA-test", "streamSid": "MZ1"}}`)
	// 0.4s of audio, then the stream ends short of the collection window.
	sendQuietAudio(t, conn, env, 4)
	sendJSON(t, conn, `{"event": "stop", "stop": {"callSid": "CA-test"}}`)
	readUntilClose(t, conn, websocket.CloseNormalClosure)

	sess, err := env.store.GetByProviderCallID(t.Context(), "CA-test")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.Verdict != types.VerdictUnknown || sess.Confidence != 0 {
		t.Errorf("sub-window capture wrote %v/%.2f, want unknown/0", sess.Verdict, sess.Confidence)
	}
}

func TestMediaStreamIgnoresOutboundTrack(t *testing.T) {
	env := newTestEnv(t)
	env.placeSession(t, "anonymous", "stream")
	conn := dialMediaStream(t, env)

	sendJSON(t, conn, `{"event": "start", "start": {"callSid": "CA-test", "streamSid": "MZ1"}}`)
	for i := 0; i < 30; i++ {
		sendJSON(t, conn, `{"event": "media", "media": {"track": "outbound", "payload": %q}}`, quietFramePayload(800))
		env.clock.Advance(100 * time.Millisecond)
	}
	sendJSON(t, conn, `{"event": "stop", "stop": {"callSid": "CA-test"}}`)
	readUntilClose(t, conn, websocket.CloseNormalClosure)

	// Outbound frames never reach the detector, so nothing was decided.
	sess, err := env.store.GetByProviderCallID(t.Context(), "CA-test")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.Verdict != types.VerdictUnknown || sess.Confidence != 0 {
		t.Errorf("verdict = %v/%.2f, want unknown/0", sess.Verdict, sess.Confidence)
	}
}

func TestMediaStreamRejectsUnknownCall(t *testing.T) {
	env := newTestEnv(t)
	conn := dialMediaStream(t, env)

	sendJSON(t, conn, `{"event": "start", "start": {"callSid": "CA-stranger", "streamSid": "MZ1"}}`)

	// The server closes the socket with a policy violation.
	readUntilClose(t, conn, websocket.ClosePolicyViolation)

	// No session was touched.
	if _, serr := env.store.GetByProviderCallID(t.Context(), "CA-stranger"); serr == nil {
		t.Error("session materialized for unknown call")
	}
}

func TestMediaStreamUpgradeRequired(t *testing.T) {
	env := newTestEnv(t)
	h := MediaStreamHandler{Engine: env.engine, Config: env.cfg, Logger: slog.New(slog.DiscardHandler)}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/media-stream", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("plain GET status = %d, want upgrade failure", rec.Code)
	}
}
