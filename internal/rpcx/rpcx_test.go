package rpcx

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gorilla/websocket"
)

type fakeHeightGetter struct {
	height uint64
	err    error
}

func (f fakeHeightGetter) GetBlockHeight(ctx context.Context, commitment rpc.CommitmentType) (uint64, error) {
	return f.height, f.err
}

type fakeHashGetter struct {
	blockhash rpc.Hash
	lastValid uint64
	calls     int
	err       error
}

func (f *fakeHashGetter) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &rpc.GetLatestBlockhashResult{
		Value: &rpc.LatestBlockhashResult{
			Blockhash:            f.blockhash,
			LastValidBlockHeight: f.lastValid,
		},
	}, nil
}

func TestBlockhashManagerRefreshesOnFirstGet(t *testing.T) {
	hashes := &fakeHashGetter{blockhash: rpc.Hash{1}, lastValid: 1000}
	mgr := NewBlockhashManager(fakeHeightGetter{height: 10}, hashes, rpc.CommitmentConfirmed, 50)

	hash, lastValid, err := mgr.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if hash != hashes.blockhash || lastValid != 1000 {
		t.Fatalf("unexpected hash/lastValid: %v %d", hash, lastValid)
	}
	if hashes.calls != 1 {
		t.Fatalf("expected exactly one refresh on first call, got %d", hashes.calls)
	}
}

func TestBlockhashManagerServesCachedHashWhenFarFromMargin(t *testing.T) {
	hashes := &fakeHashGetter{blockhash: rpc.Hash{1}, lastValid: 1000}
	mgr := NewBlockhashManager(fakeHeightGetter{height: 10}, hashes, rpc.CommitmentConfirmed, 50)

	mgr.Get(context.Background())
	hashes.blockhash = rpc.Hash{2}

	_, _, err := mgr.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if hashes.calls != 1 {
		t.Fatalf("expected no refresh while height is far from lastValidBlockHeight, got %d calls", hashes.calls)
	}
}

func TestBlockhashManagerRefreshesWithinSafetyMargin(t *testing.T) {
	hashes := &fakeHashGetter{blockhash: rpc.Hash{1}, lastValid: 1000}
	mgr := NewBlockhashManager(fakeHeightGetter{height: 960}, hashes, rpc.CommitmentConfirmed, 50)

	mgr.Get(context.Background())
	hashes.blockhash = rpc.Hash{2}
	hashes.lastValid = 2000

	hash, lastValid, err := mgr.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if hashes.calls != 2 {
		t.Fatalf("expected a second refresh once within safety margin, got %d calls", hashes.calls)
	}
	if hash != (rpc.Hash{2}) || lastValid != 2000 {
		t.Fatalf("expected refreshed hash, got %v %d", hash, lastValid)
	}
}

type fakeStatusGetter struct {
	sequence []*rpc.SignatureStatusesResult
	idx      int
}

func (f *fakeStatusGetter) GetSignatureStatuses(ctx context.Context, searchHistory bool, sigs ...rpc.Signature) (*rpc.GetSignatureStatusesResult, error) {
	if f.idx >= len(f.sequence) {
		f.idx++
		return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{nil}}, nil
	}
	v := f.sequence[f.idx]
	f.idx++
	return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{v}}, nil
}

func TestConfirmSignatureByPollingSucceedsOnConfirmed(t *testing.T) {
	fake := &fakeStatusGetter{sequence: []*rpc.SignatureStatusesResult{
		nil,
		{ConfirmationStatus: rpc.ConfirmationStatusConfirmed},
	}}

	err := ConfirmSignatureByPolling(context.Background(), fake, rpc.Signature{}, 5, 200)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestConfirmSignatureByPollingReturnsOnChainError(t *testing.T) {
	fake := &fakeStatusGetter{sequence: []*rpc.SignatureStatusesResult{
		{Err: map[string]any{"InstructionError": []any{0, "custom program error"}}},
	}}

	err := ConfirmSignatureByPolling(context.Background(), fake, rpc.Signature{}, 5, 200)
	if err == nil {
		t.Fatal("expected an on-chain error to be returned immediately")
	}
}

func TestConfirmSignatureByPollingTimesOut(t *testing.T) {
	fake := &fakeStatusGetter{}

	start := time.Now()
	err := ConfirmSignatureByPolling(context.Background(), fake, rpc.Signature{}, 5, 20)
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("timeout took too long: %v", time.Since(start))
	}
}

func TestToWebsocketEndpoint(t *testing.T) {
	cases := map[string]string{
		"https://api.mainnet-beta.solana.com": "wss://api.mainnet-beta.solana.com",
		"http://127.0.0.1:8899":               "ws://127.0.0.1:8899",
		"ws://already-ws":                     "ws://already-ws",
	}
	for in, want := range cases {
		if got := toWebsocketEndpoint(in); got != want {
			t.Errorf("toWebsocketEndpoint(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSlotSubscriptionManagerTracksNotifiedSlot(t *testing.T) {
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		if err := conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "result": 1, "id": 1}); err != nil {
			return
		}
		notification := map[string]any{
			"jsonrpc": "2.0",
			"method":  "slotNotification",
			"params": map[string]any{
				"result": map[string]any{"slot": 42},
			},
		}
		if err := conn.WriteJSON(notification); err != nil {
			return
		}
		<-r.Context().Done()
	}))
	defer ts.Close()

	mgr := NewSlotSubscriptionManager(ts.URL, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx)
	defer mgr.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if mgr.CurrentSlot() == 42 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected CurrentSlot to reach 42, got %d", mgr.CurrentSlot())
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
