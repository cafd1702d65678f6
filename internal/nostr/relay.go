package nostr

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

var ErrNoRelayReachable = errors.New("no relay reachable")

type Logger interface {
	Printf(format string, args ...any)
}

// RelayError records why a single relay contributed nothing to a fetch.
type RelayError struct {
	URL string
	Err error
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("relay %s: %v", e.URL, e.Err)
}

func (e *RelayError) Unwrap() error {
	return e.Err
}

type PoolOptions struct {
	// Timeout bounds one relay query from dial to EOSE.
	Timeout          time.Duration
	VerifySignatures bool
	ReadLimit        int64
	HTTPClient       *http.Client
	Logger           Logger
}

// Pool queries a set of relays for stored events. It holds no open
// connections between fetches.
type Pool struct {
	timeout    time.Duration
	verify     bool
	readLimit  int64
	httpClient *http.Client
	logger     Logger
}

func NewPool(opts PoolOptions) *Pool {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	readLimit := opts.ReadLimit
	if readLimit <= 0 {
		readLimit = 4 << 20
	}
	return &Pool{
		timeout:    timeout,
		verify:     opts.VerifySignatures,
		readLimit:  readLimit,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
	}
}

// Fetch asks every relay for events matching filter and merges the answers,
// deduplicated by id and ordered by (created_at, id). It only fails when no
// relay answered at all.
func (p *Pool) Fetch(ctx context.Context, relays []string, filter Filter) ([]Event, error) {
	relays = uniqueRelays(relays)
	if len(relays) == 0 {
		return nil, fmt.Errorf("%w: no relays configured", ErrNoRelayReachable)
	}

	type relayResult struct {
		events []Event
		err    error
	}
	results := make([]relayResult, len(relays))
	var wg sync.WaitGroup
	for i, relayURL := range relays {
		wg.Add(1)
		go func(i int, relayURL string) {
			defer wg.Done()
			events, err := p.query(ctx, relayURL, filter)
			if err != nil {
				err = &RelayError{URL: relayURL, Err: err}
			}
			results[i] = relayResult{events: events, err: err}
		}(i, relayURL)
	}
	wg.Wait()

	seen := map[string]struct{}{}
	out := []Event{}
	var failures []error
	answered := 0
	for _, result := range results {
		if result.err != nil {
			p.logf("%v", result.err)
			failures = append(failures, result.err)
			continue
		}
		answered++
		for _, ev := range result.events {
			id := strings.ToLower(ev.ID)
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, ev)
		}
	}
	if answered == 0 {
		return nil, fmt.Errorf("%w: %w", ErrNoRelayReachable, errors.Join(failures...))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (p *Pool) query(ctx context.Context, relayURL string, filter Filter) ([]Event, error) {
	if err := checkRelayURL(relayURL); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, relayURL, &websocket.DialOptions{HTTPClient: p.httpClient})
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(p.readLimit)

	subID := newSubscriptionID()
	if err := wsjson.Write(ctx, conn, []any{"REQ", subID, filter}); err != nil {
		return nil, fmt.Errorf("send REQ: %w", err)
	}

	events := []Event{}
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			// A relay that streams events but never sends EOSE still
			// counts as having answered.
			if errors.Is(ctx.Err(), context.DeadlineExceeded) && len(events) > 0 {
				p.logf("relay %s: no EOSE before timeout; keeping %d events", relayURL, len(events))
				return events, nil
			}
			return nil, fmt.Errorf("read: %w", err)
		}
		var msg []json.RawMessage
		if err := json.Unmarshal(data, &msg); err != nil || len(msg) == 0 {
			p.logf("relay %s: ignoring malformed message", relayURL)
			continue
		}
		var label string
		if err := json.Unmarshal(msg[0], &label); err != nil {
			continue
		}
		switch label {
		case "EVENT":
			if len(msg) < 3 || !sameSubscription(msg[1], subID) {
				continue
			}
			ev, err := p.acceptEvent(msg[2], filter)
			if err != nil {
				p.logf("relay %s: dropping event: %v", relayURL, err)
				continue
			}
			events = append(events, ev)
		case "EOSE":
			if len(msg) < 2 || !sameSubscription(msg[1], subID) {
				continue
			}
			_ = wsjson.Write(ctx, conn, []any{"CLOSE", subID})
			return events, nil
		case "CLOSED":
			if len(msg) < 2 || !sameSubscription(msg[1], subID) {
				continue
			}
			reason := ""
			if len(msg) > 2 {
				_ = json.Unmarshal(msg[2], &reason)
			}
			return nil, fmt.Errorf("subscription closed by relay: %s", reason)
		case "NOTICE":
			notice := ""
			if len(msg) > 1 {
				_ = json.Unmarshal(msg[1], &notice)
			}
			p.logf("relay %s notice: %s", relayURL, notice)
		}
	}
}

func (p *Pool) acceptEvent(raw json.RawMessage, filter Filter) (Event, error) {
	if err := ValidateEventJSON(raw); err != nil {
		return Event{}, err
	}
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if p.verify {
		if err := ev.Verify(); err != nil {
			return Event{}, err
		}
	} else if err := ev.CheckID(); err != nil {
		return Event{}, err
	}
	if !filter.Matches(ev) {
		return Event{}, fmt.Errorf("%w: %s does not match filter", ErrInvalidEvent, ev.ID)
	}
	return ev, nil
}

func (p *Pool) logf(format string, args ...any) {
	if p.logger == nil {
		return
	}
	p.logger.Printf(format, args...)
}

func sameSubscription(raw json.RawMessage, subID string) bool {
	var got string
	if err := json.Unmarshal(raw, &got); err != nil {
		return false
	}
	return got == subID
}

func checkRelayURL(relayURL string) error {
	parsed, err := url.Parse(relayURL)
	if err != nil {
		return fmt.Errorf("invalid relay url: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "ws", "wss":
		return nil
	default:
		return fmt.Errorf("unsupported relay scheme %q", parsed.Scheme)
	}
}

func uniqueRelays(relays []string) []string {
	out := make([]string, 0, len(relays))
	seen := map[string]struct{}{}
	for _, relay := range relays {
		relay = strings.TrimRight(strings.TrimSpace(relay), "/")
		if relay == "" {
			continue
		}
		key := strings.ToLower(relay)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, relay)
	}
	return out
}

func newSubscriptionID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("journal_%d", time.Now().UnixNano())
	}
	return "journal_" + hex.EncodeToString(b[:])
}
