package handlers

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dialscope/dialscope/pkg/core"
	"github.com/dialscope/dialscope/pkg/core/audio"
	"github.com/dialscope/dialscope/pkg/core/detect"
	"github.com/dialscope/dialscope/pkg/core/types"
	"github.com/dialscope/dialscope/pkg/gateway/config"
	"github.com/dialscope/dialscope/pkg/store"
	"github.com/dialscope/dialscope/pkg/telephony"
)

// stubTelephony answers placements with a fixed call ID and serves no
// recordings; handler tests do not exercise the provider surface itself.
type stubTelephony struct {
	mu         sync.Mutex
	nextCallID string
	lastParams telephony.PlaceParams
}

func (s *stubTelephony) Place(ctx context.Context, p telephony.PlaceParams) (telephony.CallRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastParams = p
	id := s.nextCallID
	if id == "" {
		id = "CA-test"
	}
	return telephony.CallRef{ProviderCallID: id, Status: "queued"}, nil
}

func (s *stubTelephony) FetchStatus(ctx context.Context, providerCallID string) (types.StatusEvent, error) {
	return types.StatusEvent{ProviderCallID: providerCallID, Status: types.StateInitiated}, nil
}

func (s *stubTelephony) Recordings(ctx context.Context, providerCallID string, limit int) ([]telephony.Recording, error) {
	return nil, nil
}

func (s *stubTelephony) Download(ctx context.Context, rec telephony.Recording) ([]byte, string, error) {
	return nil, "", nil
}

// testClock drives the stream detector's collection window in tests.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testEnv struct {
	engine *core.Engine
	store  *store.Memory
	cfg    config.Config
	clock  *testClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewMemory()
	logger := slog.New(slog.DiscardHandler)
	clk := &testClock{t: time.Unix(1700000000, 0)}
	engine, err := core.NewEngine(core.Config{
		Store:     st,
		Telephony: &stubTelephony{},
		Detectors: detect.NewRegistry(map[types.Strategy]detect.Detector{
			types.StrategyNative:     detect.Native{},
			types.StrategyNativePoll: detect.Native{},
			types.StrategyStream:     detect.NewStream(audio.DefaultThresholds(), 0, detect.WithClock(clk.Now)),
			types.StrategyRecording:  detect.Recording{},
		}),
		CallbackBaseURL: "https://amd.example.com",
		CallerID:        "+15550001111",
		PollInterval:    time.Hour,
		PollMaxAttempts: 1,
		Logger:          logger,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(engine.Close)

	cfg := config.Config{
		AuthMode:                config.AuthModeDisabled,
		APIKeys:                 map[string]struct{}{},
		TelephonyAccountSID:     "AC-test",
		TelephonyAuthToken:      "token-test",
		CallerID:                "+15550001111",
		CallbackBaseURL:         "https://amd.example.com",
		VerifyWebhookSignatures: false,
		WSMaxMessageBytes:       64 * 1024,
		WSWriteTimeout:          time.Second,
	}
	return &testEnv{engine: engine, store: st, cfg: cfg, clock: clk}
}

// placeSession creates a session outside the HTTP surface.
func (env *testEnv) placeSession(t *testing.T, owner, strategy string) *types.CallSession {
	t.Helper()
	sess, err := env.engine.PlaceCall(context.Background(), owner, "+15552223333", strategy)
	if err != nil {
		t.Fatalf("PlaceCall: %v", err)
	}
	return sess
}
