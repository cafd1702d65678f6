package nostr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type testRelay struct {
	server *httptest.Server
	mu     sync.Mutex
	filter *Filter
}

func (r *testRelay) URL() string {
	return "ws" + strings.TrimPrefix(r.server.URL, "http")
}

func (r *testRelay) lastFilter() *Filter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filter
}

// newTestRelay answers one REQ with the given frames, substituting the
// subscription id, then drains until the client hangs up.
func newTestRelay(t *testing.T, frames func(subID string) [][]any) *testRelay {
	t.Helper()
	relay := &testRelay{}
	relay.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := websocket.Accept(w, req, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		ctx := req.Context()
		var msg []json.RawMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil || len(msg) < 3 {
			return
		}
		var subID string
		_ = json.Unmarshal(msg[1], &subID)
		var f Filter
		_ = json.Unmarshal(msg[2], &f)
		relay.mu.Lock()
		relay.filter = &f
		relay.mu.Unlock()
		for _, frame := range frames(subID) {
			if err := wsjson.Write(ctx, conn, frame); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}))
	t.Cleanup(relay.server.Close)
	return relay
}

func storedEvents(events ...Event) func(subID string) [][]any {
	return func(subID string) [][]any {
		frames := make([][]any, 0, len(events)+1)
		for _, ev := range events {
			frames = append(frames, []any{"EVENT", subID, ev})
		}
		return append(frames, []any{"EOSE", subID})
	}
}

func deadRelayURL(t *testing.T) string {
	t.Helper()
	server := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	server.Close()
	return url
}

func TestFetchMergesAndDedupesAcrossRelays(t *testing.T) {
	priv := testKey(t, 3)
	a := signedEvent(t, priv, 1000, "hi")
	b := signedEvent(t, priv, 500, "yo")
	c := signedEvent(t, priv, 700, "sup")
	first := newTestRelay(t, storedEvents(a, b))
	second := newTestRelay(t, storedEvents(b, c))

	pool := NewPool(PoolOptions{Timeout: 5 * time.Second, VerifySignatures: true})
	events, err := pool.Fetch(context.Background(), []string{first.URL(), second.URL(), first.URL()}, TextNotesBy(a.PubKey, 0))
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, []string{"yo", "sup", "hi"}, []string{events[0].Content, events[1].Content, events[2].Content})
}

func TestFetchSendsSinceBound(t *testing.T) {
	priv := testKey(t, 3)
	relay := newTestRelay(t, storedEvents())
	pool := NewPool(PoolOptions{Timeout: 5 * time.Second})

	_, err := pool.Fetch(context.Background(), []string{relay.URL()}, TextNotesBy(testPubKey(priv), 1700000000))
	require.NoError(t, err)
	got := relay.lastFilter()
	require.NotNil(t, got)
	require.NotNil(t, got.Since)
	require.Equal(t, int64(1700000000), *got.Since)
	require.Equal(t, []int{KindTextNote}, got.Kinds)
	require.Equal(t, []string{testPubKey(priv)}, got.Authors)
}

func TestFetchDropsInvalidEvents(t *testing.T) {
	priv := testKey(t, 3)
	good := signedEvent(t, priv, 1000, "real")
	forged := signedEvent(t, priv, 1001, "forged")
	forged.Sig = signedEvent(t, testKey(t, 9), 1001, "forged").Sig
	stranger := signedEvent(t, testKey(t, 9), 1002, "not mine")
	misrouted := signedEvent(t, priv, 1003, "wrong sub")
	relay := newTestRelay(t, func(subID string) [][]any {
		return [][]any{
			{"NOTICE", "welcome"},
			{"EVENT", subID, good},
			{"EVENT", subID, forged},
			{"EVENT", subID, stranger},
			{"EVENT", subID, map[string]any{"id": "nope"}},
			{"EVENT", "other-sub", misrouted},
			{"EOSE", subID},
		}
	})

	pool := NewPool(PoolOptions{Timeout: 5 * time.Second, VerifySignatures: true})
	events, err := pool.Fetch(context.Background(), []string{relay.URL()}, TextNotesBy(good.PubKey, 0))
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, good.ID, events[0].ID)
}

func TestFetchToleratesPartialRelayFailure(t *testing.T) {
	priv := testKey(t, 3)
	ev := signedEvent(t, priv, 1000, "hi")
	relay := newTestRelay(t, storedEvents(ev))

	pool := NewPool(PoolOptions{Timeout: 5 * time.Second})
	events, err := pool.Fetch(context.Background(), []string{deadRelayURL(t), relay.URL()}, TextNotesBy(ev.PubKey, 0))
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestFetchFailsWhenNoRelayReachable(t *testing.T) {
	pool := NewPool(PoolOptions{Timeout: 2 * time.Second})
	_, err := pool.Fetch(context.Background(), []string{deadRelayURL(t), "https://not-a-relay.example"}, TextNotesBy(strings.Repeat("a", 64), 0))
	require.ErrorIs(t, err, ErrNoRelayReachable)
	var relayErr *RelayError
	require.True(t, errors.As(err, &relayErr))

	_, err = pool.Fetch(context.Background(), nil, TextNotesBy(strings.Repeat("a", 64), 0))
	require.ErrorIs(t, err, ErrNoRelayReachable)
}

func TestFetchTreatsClosedSubscriptionAsFailure(t *testing.T) {
	relay := newTestRelay(t, func(subID string) [][]any {
		return [][]any{{"CLOSED", subID, "auth-required: sign in first"}}
	})
	pool := NewPool(PoolOptions{Timeout: 5 * time.Second})
	_, err := pool.Fetch(context.Background(), []string{relay.URL()}, TextNotesBy(strings.Repeat("a", 64), 0))
	require.ErrorIs(t, err, ErrNoRelayReachable)
	require.Contains(t, err.Error(), "auth-required")
}

func TestFetchKeepsEventsWhenRelayNeverSendsEOSE(t *testing.T) {
	priv := testKey(t, 3)
	ev := signedEvent(t, priv, 1000, "slow relay")
	relay := newTestRelay(t, func(subID string) [][]any {
		return [][]any{{"EVENT", subID, ev}}
	})
	pool := NewPool(PoolOptions{Timeout: 300 * time.Millisecond})
	events, err := pool.Fetch(context.Background(), []string{relay.URL()}, TextNotesBy(ev.PubKey, 0))
	require.NoError(t, err)
	require.Len(t, events, 1)
}
