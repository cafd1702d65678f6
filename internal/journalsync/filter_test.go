package journalsync

import (
	"fmt"
	"math/rand"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/agentworkforce/relayjournal/internal/nostr"
)

func ev(id string, ts int64, content string) nostr.Event {
	return nostr.Event{ID: id, CreatedAt: ts, Kind: nostr.KindTextNote, Content: content}
}

func eventIDs(events []nostr.Event) []string {
	out := make([]string, 0, len(events))
	for _, event := range events {
		out = append(out, event.ID)
	}
	return out
}

func randomBatch(rng *rand.Rand, n int) []nostr.Event {
	batch := make([]nostr.Event, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("id%02d", rng.Intn(n))
		batch = append(batch, ev(id, rng.Int63n(5*86400), "x"))
	}
	return batch
}

func TestFilterNewDropsSeenAndPreservesOrder(t *testing.T) {
	batch := []nostr.Event{ev("c", 3, ""), ev("a", 1, ""), ev("b", 2, ""), ev("d", 4, "")}
	got := FilterNew(batch, NewIDSet("a", "D"))
	if want := []string{"c", "b"}; !reflect.DeepEqual(eventIDs(got), want) {
		t.Fatalf("expected %v, got %v", want, eventIDs(got))
	}
}

func TestFilterNewDropsDuplicatesWithinBatch(t *testing.T) {
	batch := []nostr.Event{ev("a", 1, "first"), ev("b", 2, ""), ev("a", 1, "again")}
	got := FilterNew(batch, nil)
	if want := []string{"a", "b"}; !reflect.DeepEqual(eventIDs(got), want) {
		t.Fatalf("expected %v, got %v", want, eventIDs(got))
	}
	if got[0].Content != "first" {
		t.Fatalf("expected first occurrence to win, got %q", got[0].Content)
	}
}

func TestFilterNewIsIdempotentAndDisjoint(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		batch := randomBatch(rng, 20)
		seen := NewIDSet()
		for _, event := range randomBatch(rng, 10) {
			seen[event.ID] = struct{}{}
		}
		once := FilterNew(batch, seen)
		twice := FilterNew(once, seen)
		if !reflect.DeepEqual(eventIDs(once), eventIDs(twice)) {
			t.Fatalf("round %d: filtering twice changed result: %v vs %v", round, eventIDs(once), eventIDs(twice))
		}
		for _, event := range once {
			if seen.Has(event.ID) {
				t.Fatalf("round %d: filtered output contains seen id %s", round, event.ID)
			}
		}
	}
}

func TestGroupByDaySplitsAtMidnight(t *testing.T) {
	events := []nostr.Event{
		ev("late", 86399, ""),
		ev("midnight", 86400, ""),
		ev("epoch", 0, ""),
	}
	groups := GroupByDay(events, nil)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if groups[0].Date != "1970-01-01" || !reflect.DeepEqual(eventIDs(groups[0].Events), []string{"late", "epoch"}) {
		t.Fatalf("unexpected first group: %s %v", groups[0].Date, eventIDs(groups[0].Events))
	}
	if groups[1].Date != "1970-01-02" || !reflect.DeepEqual(eventIDs(groups[1].Events), []string{"midnight"}) {
		t.Fatalf("unexpected second group: %s %v", groups[1].Date, eventIDs(groups[1].Events))
	}
}

func TestGroupByDayPreservesEveryEvent(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	batch := randomBatch(rng, 40)
	groups := GroupByDay(batch, time.UTC)

	var flattened []string
	for _, group := range groups {
		for _, event := range group.Events {
			if DateKey(event.CreatedAt, time.UTC) != group.Date {
				t.Fatalf("event %s at %d filed under %s", event.ID, event.CreatedAt, group.Date)
			}
			flattened = append(flattened, fmt.Sprintf("%s@%d", event.ID, event.CreatedAt))
		}
	}
	var input []string
	for _, event := range batch {
		input = append(input, fmt.Sprintf("%s@%d", event.ID, event.CreatedAt))
	}
	sort.Strings(flattened)
	sort.Strings(input)
	if !reflect.DeepEqual(flattened, input) {
		t.Fatalf("grouping lost or invented events")
	}
}

func TestGroupByDayHonorsLocation(t *testing.T) {
	plusTwo := time.FixedZone("plus2", 2*60*60)
	groups := GroupByDay([]nostr.Event{ev("a", 82800, "")}, plusTwo)
	if len(groups) != 1 || groups[0].Date != "1970-01-02" {
		t.Fatalf("expected event to land on 1970-01-02 in +02:00, got %+v", groups)
	}
	if got := DateKey(82800, nil); got != "1970-01-01" {
		t.Fatalf("expected UTC date 1970-01-01, got %s", got)
	}
}
