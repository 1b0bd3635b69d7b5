package telegram

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/clawguard/clawguard/internal/domain/notifier"
	"github.com/clawguard/clawguard/internal/domain/secret"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestServer fakes just enough of the Telegram Bot API for sendMessage,
// editMessageText and getUpdates, so the notifier's wire client can be
// exercised without reaching the real api.telegram.org.
func newTestServer(t *testing.T, getUpdatesResults func(call int) []updateEnvelope) *httptest.Server {
	t.Helper()
	var calls atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/bot-test-token/sendMessage", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sendMessageResponse{OK: true, Result: struct {
			MessageID int `json:"message_id"`
		}{MessageID: 42}})
	})
	mux.HandleFunc("/bot-test-token/editMessageText", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sendMessageResponse{OK: true})
	})
	mux.HandleFunc("/bot-test-token/getUpdates", func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1))
		var results []updateEnvelope
		if getUpdatesResults != nil {
			results = getUpdatesResults(n)
		}
		_ = json.NewEncoder(w).Encode(getUpdatesResponse{OK: true, Result: results})
	})
	return httptest.NewServer(mux)
}

// newNotifierAgainst builds a Notifier whose httpClient has a Transport
// that redirects every request to srv, regardless of the host/scheme the
// package-level apiBase constant baked into the request URL — the
// notifier itself always talks to api.telegram.org, so the test
// substitutes the transport rather than the notifier's URL-building code.
func newNotifierAgainst(srv *httptest.Server, opts ...Option) *Notifier {
	n := New("-test-token", "12345", testLogger(), opts...)
	srvURL, err := url.Parse(srv.URL)
	if err != nil {
		panic(err)
	}
	n.httpClient = &http.Client{Transport: rewriteHostTransport{target: srvURL, base: srv.Client().Transport}}
	return n
}

type rewriteHostTransport struct {
	target *url.URL
	base   http.RoundTripper
}

func (rt rewriteHostTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = rt.target.Scheme
	req.URL.Host = rt.target.Host
	req.Host = rt.target.Host
	transport := rt.base
	if transport == nil {
		transport = http.DefaultTransport
	}
	return transport.RoundTrip(req)
}

func TestNotifier_SendAndResolve(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := newTestServer(t, nil)
	defer srv.Close()
	n := newNotifierAgainst(srv)

	prompt := notifier.Prompt{RequestID: "req-1", Service: "gh", Method: "GET", Path: "/repos", AgentIP: "1.2.3.4", At: time.Now()}
	if err := n.Send(context.Background(), prompt); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if err := n.Resolve(context.Background(), "req-1", notifier.Decision{Approved: true, ApproverName: "alex"}, ""); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	// A second Resolve for the same request id is a no-op since the
	// message id was already consumed.
	if err := n.Resolve(context.Background(), "req-1", notifier.Decision{Approved: true}, ""); err != nil {
		t.Fatalf("Resolve (second call): %v", err)
	}
}

func TestNotifier_PairingHandshake(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := newTestServer(t, nil)
	defer srv.Close()

	hashed, err := secret.HashArgon2id("correct-horse")
	if err != nil {
		t.Fatalf("HashArgon2id: %v", err)
	}
	n := newNotifierAgainst(srv, WithPairing(hashed))

	if n.isPaired("555") {
		t.Fatal("chat should not be paired before the handshake")
	}

	n.handleCommand(context.Background(), "/pair wrong-secret", "555", "alex")
	if n.isPaired("555") {
		t.Fatal("an incorrect secret must not pair the chat")
	}

	n.handleCommand(context.Background(), "/pair correct-horse", "555", "alex")
	if !n.isPaired("555") {
		t.Fatal("expected the chat to be paired after the correct secret")
	}

	n.handleCommand(context.Background(), "/unpair", "555", "alex")
	if n.isPaired("555") {
		t.Fatal("expected the chat to be unpaired")
	}
}

func TestNotifier_SetPairingHotReload(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := newTestServer(t, nil)
	defer srv.Close()
	n := newNotifierAgainst(srv)

	if !n.isPaired("anyone") {
		t.Fatal("pairing disabled should treat every chat as paired")
	}

	hashed, _ := secret.HashArgon2id("s3cret")
	n.SetPairing(true, hashed)
	if n.isPaired("unknown-chat") {
		t.Fatal("pairing enabled should reject an unrecognized chat")
	}

	n.SetPairing(false, "")
	if !n.isPaired("unknown-chat") {
		t.Fatal("disabling pairing should admit every chat again")
	}
}

func TestNotifier_HandleCallback_RoutesDecision(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := newTestServer(t, nil)
	defer srv.Close()
	n := newNotifierAgainst(srv)

	var gotRequestID string
	var gotDecision notifier.Decision
	n.SetDecisionHandler(func(ctx context.Context, requestID string, decision notifier.Decision) bool {
		gotRequestID = requestID
		gotDecision = decision
		return true
	})

	upd := callbackUpdate{
		CallbackQuery: &struct {
			Data string `json:"data"`
			From struct {
				ID        int64  `json:"id"`
				FirstName string `json:"first_name"`
				Username  string `json:"username"`
			} `json:"from"`
		}{
			Data: "approve_1h:req-2:abcdef",
			From: struct {
				ID        int64  `json:"id"`
				FirstName string `json:"first_name"`
				Username  string `json:"username"`
			}{ID: 99, FirstName: "Alex"},
		},
	}
	n.HandleUpdate(context.Background(), upd)

	if gotRequestID != "req-2" {
		t.Fatalf("expected request id req-2, got %q", gotRequestID)
	}
	if !gotDecision.Approved || gotDecision.TTLSeconds != 3600 {
		t.Fatalf("expected a 1h approval, got %+v", gotDecision)
	}
}

func TestNotifier_Run_StopsCleanlyOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := newTestServer(t, func(call int) []updateEnvelope { return nil })
	defer srv.Close()
	n := newNotifierAgainst(srv)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not exit after context cancellation")
	}
}
