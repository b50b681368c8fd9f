package handlers

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dialscope/dialscope/pkg/core"
	"github.com/dialscope/dialscope/pkg/gateway/config"
)

// MediaStreamHandler terminates the provider's bidirectional media socket
// and feeds inbound audio frames into the stream detector. Message framing
// follows the Twilio media-stream protocol: JSON envelopes with connected,
// start, media, and stop events, audio carried as base64 PCM.
type MediaStreamHandler struct {
	Engine *core.Engine
	Config config.Config
	Logger *slog.Logger
}

type mediaMessage struct {
	Event string `json:"event"`
	Start *struct {
		CallSid   string `json:"callSid"`
		StreamSid string `json:"streamSid"`
	} `json:"start,omitempty"`
	Media *struct {
		Track   string `json:"track"`
		Payload string `json:"payload"`
	} `json:"media,omitempty"`
	Stop *struct {
		CallSid string `json:"callSid"`
	} `json:"stop,omitempty"`
}

func (h MediaStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		// The provider connects server-to-server; there is no browser origin.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.Logger.Warn("media stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(h.Config.WSMaxMessageBytes)

	ctx := r.Context()
	var callSid string
	discarded := false

	discard := func() {
		if callSid == "" || discarded {
			return
		}
		discarded = true
		h.Engine.DiscardStream(callSid)
	}
	// The verdict is written mid-call once the collection window elapses;
	// the socket going away, cleanly or not, only drops leftover buffer.
	defer discard()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if callSid == "" {
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.Logger.Warn("media stream read failed", "provider_call_id", callSid, "error", err)
			}
			return
		}

		var msg mediaMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.Logger.Warn("malformed media stream message", "error", err)
			continue
		}

		switch msg.Event {
		case "connected":
			// Handshake preamble, nothing to do yet.
		case "start":
			if msg.Start == nil || msg.Start.CallSid == "" {
				h.Logger.Warn("start event without call sid")
				continue
			}
			callSid = msg.Start.CallSid
			if err := h.Engine.OnStreamStart(ctx, callSid); err != nil {
				h.Logger.Warn("reject media stream", "provider_call_id", callSid, "error", err)
				h.writeClose(conn, websocket.ClosePolicyViolation, "unknown call")
				// No capture was opened for this socket.
				callSid = ""
				return
			}
		case "media":
			if callSid == "" || msg.Media == nil {
				continue
			}
			if msg.Media.Track != "" && msg.Media.Track != "inbound" {
				continue
			}
			chunk, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
			if err != nil {
				h.Logger.Warn("undecodable audio frame", "provider_call_id", callSid, "error", err)
				continue
			}
			if err := h.Engine.OnStreamChunk(ctx, callSid, chunk); err != nil {
				h.Logger.Warn("buffer audio frame", "provider_call_id", callSid, "error", err)
			}
		case "stop":
			discard()
			h.writeClose(conn, websocket.CloseNormalClosure, "")
			return
		default:
			// Unknown events are skipped so protocol additions stay compatible.
		}
	}
}

func (h MediaStreamHandler) writeClose(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(h.Config.WSWriteTimeout)
	msg := websocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		h.Logger.Debug("write close frame", "error", err)
	}
}
