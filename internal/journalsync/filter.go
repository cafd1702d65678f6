package journalsync

import (
	"strings"
	"time"

	"github.com/agentworkforce/relayjournal/internal/nostr"
)

// DateLayout names daily notes.
const DateLayout = "2006-01-02"

// Seen answers whether an event id has already been merged.
type Seen interface {
	Has(id string) bool
}

// IDSet is an in-memory Seen.
type IDSet map[string]struct{}

func NewIDSet(ids ...string) IDSet {
	set := make(IDSet, len(ids))
	for _, id := range ids {
		set[strings.ToLower(id)] = struct{}{}
	}
	return set
}

func (s IDSet) Has(id string) bool {
	_, ok := s[strings.ToLower(id)]
	return ok
}

// FilterNew drops events already in seen, and repeats of an id within batch.
// Input order is preserved.
func FilterNew(batch []nostr.Event, seen Seen) []nostr.Event {
	out := make([]nostr.Event, 0, len(batch))
	inBatch := make(map[string]struct{}, len(batch))
	for _, event := range batch {
		id := strings.ToLower(event.ID)
		if seen != nil && seen.Has(id) {
			continue
		}
		if _, dup := inBatch[id]; dup {
			continue
		}
		inBatch[id] = struct{}{}
		out = append(out, event)
	}
	return out
}

type DayGroup struct {
	Date   string
	Events []nostr.Event
}

// GroupByDay partitions events by calendar date in loc (UTC when nil).
// Groups appear in order of first occurrence; events keep their input order.
func GroupByDay(events []nostr.Event, loc *time.Location) []DayGroup {
	if loc == nil {
		loc = time.UTC
	}
	index := map[string]int{}
	groups := make([]DayGroup, 0)
	for _, event := range events {
		date := DateKey(event.CreatedAt, loc)
		i, ok := index[date]
		if !ok {
			i = len(groups)
			index[date] = i
			groups = append(groups, DayGroup{Date: date})
		}
		groups[i].Events = append(groups[i].Events, event)
	}
	return groups
}

func DateKey(ts int64, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return time.Unix(ts, 0).In(loc).Format(DateLayout)
}
