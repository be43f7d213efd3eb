package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/haven/internal/auth"
	"github.com/vovakirdan/haven/internal/config"
	"github.com/vovakirdan/haven/internal/proto"
	"github.com/vovakirdan/haven/internal/store/sqlite"
)

type testEnv struct {
	ts   *httptest.Server
	auth *auth.Service
	st   *sqlite.SQLiteStore
}

func startTestServer(t *testing.T, opts ...func(*config.Config)) *testEnv {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.Default()
	cfg.JWTSecret = "test-secret"
	cfg.JWTIssuer = "test"
	cfg.JWTAudience = "test"
	for _, opt := range opts {
		opt(&cfg)
	}

	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      24 * time.Hour,
	})

	disabledLogger := zerolog.Nop()
	server := NewServer(authService, st, &cfg, &disabledLogger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, auth: authService, st: st}
}

// register creates an account, verifying its email when asked to.
func (e *testEnv) register(t *testing.T, email, name string, verified bool) *auth.Registration {
	t.Helper()

	reg, err := e.auth.Register(context.Background(), email, "password123", name)
	if err != nil {
		t.Fatalf("failed to register %s: %v", email, err)
	}
	if verified {
		if _, err := e.auth.VerifyEmail(context.Background(), reg.VerificationToken); err != nil {
			t.Fatalf("failed to verify %s: %v", email, err)
		}
	}
	return reg
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.ts.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func (e *testEnv) wsURL(params url.Values) string {
	u := strings.Replace(e.ts.URL, "http", "ws", 1) + "/ws"
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

func (e *testEnv) dial(t *testing.T, ctx context.Context, token string) *websocket.Conn {
	t.Helper()

	params := url.Values{}
	if token != "" {
		params.Set("token", token)
	}
	conn, _, err := websocket.Dial(ctx, e.wsURL(params), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

// frame is an outbound message as seen by a client.
type frame struct {
	Type  string          `json:"type"`
	Ref   string          `json:"ref"`
	Sub   string          `json:"sub"`
	Kind  string          `json:"kind"`
	ID    string          `json:"id"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func writeInbound(t *testing.T, ctx context.Context, conn *websocket.Conn, typ, ref string, data any) {
	t.Helper()

	in := proto.Inbound{Type: typ, Ref: ref}
	if data != nil {
		payload, err := json.Marshal(data)
		if err != nil {
			t.Fatalf("marshal %s: %v", typ, err)
		}
		in.Data = payload
	}
	if err := wsjson.Write(ctx, conn, in); err != nil {
		t.Fatalf("send %s: %v", typ, err)
	}
}

// mustFrame reads frames until cond holds.
func mustFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, cond func(frame) bool) frame {
	t.Helper()

	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			t.Fatalf("read outbound: %v", err)
		}
		if cond(f) {
			return f
		}
	}
}

func isType(typ, ref string) func(frame) bool {
	return func(f frame) bool { return f.Type == typ && f.Ref == ref }
}

func snapshotOf(t *testing.T, f frame) proto.ChatroomSnapshot {
	t.Helper()

	var snap proto.ChatroomSnapshot
	if err := json.Unmarshal(f.Data, &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	return snap
}

func chatroomHas(n int) func(frame) bool {
	return func(f frame) bool {
		if f.Type != proto.OutboundTypeSnapshot || f.Kind != proto.KindChatroom {
			return false
		}
		var snap proto.ChatroomSnapshot
		if err := json.Unmarshal(f.Data, &snap); err != nil {
			return false
		}
		return len(snap.Messages) == n
	}
}
