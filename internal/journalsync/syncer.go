// Package journalsync turns one author's relay posts into daily notes.
//
// A cycle fetches text notes newer than the cursor, drops everything the
// ledger has already seen, groups the rest by calendar day and appends each
// group to that day's note. Ids of merged events go into the ledger; the
// cursor moves to the wall clock only when every group merged and the ledger
// saved, so failed days are fetched again next cycle.
package journalsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/relayjournal/internal/nostr"
)

type Fetcher interface {
	Fetch(ctx context.Context, relays []string, filter nostr.Filter) ([]nostr.Event, error)
}

// Ledger is the processed-id set plus the sync cursor. *ledger.Store
// implements it.
type Ledger interface {
	Seen
	Len() int
	Cursor() int64
	MarkSynced(ids []string) error
	// Flush persists ids a failed MarkSynced left in memory only.
	Flush() error
	AdvanceCursor(ts int64) error
}

type Logger interface {
	Printf(format string, args ...any)
}

// Settings is the part of the configuration a cycle reads. It can change
// between cycles.
type Settings struct {
	Identifier string
	Relays     []string
}

type SyncerOptions struct {
	Settings    Settings
	NotesFolder string
	Marker      string
	Location    *time.Location
	Logger      Logger
	// Now is the clock the cursor advances to. Defaults to time.Now.
	Now func() time.Time
}

type Result struct {
	Fetched    int       `json:"fetched"`
	Synced     int       `json:"synced"`
	Dates      []string  `json:"dates,omitempty"`
	Failed     []string  `json:"failed,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

type Status struct {
	Running    bool      `json:"running"`
	LastResult *Result   `json:"lastResult,omitempty"`
	LastError  string    `json:"lastError,omitempty"`
	LastRunAt  time.Time `json:"lastRunAt"`
	Cursor     int64     `json:"cursor"`
	LedgerSize int       `json:"ledgerSize"`
}

type Syncer struct {
	fetcher Fetcher
	ledger  Ledger
	vault   Vault
	logger  Logger
	now     func() time.Time

	cycle sync.Mutex

	mu         sync.Mutex
	settings   Settings
	merger     *Merger
	running    bool
	lastResult *Result
	lastError  string
	lastRunAt  time.Time
}

func NewSyncer(fetcher Fetcher, store Ledger, vault Vault, opts SyncerOptions) (*Syncer, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if store == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if vault == nil {
		return nil, fmt.Errorf("vault is required")
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Syncer{
		fetcher: fetcher,
		ledger:  store,
		vault:   vault,
		merger: NewMerger(vault, MergerOptions{
			NotesFolder: opts.NotesFolder,
			Marker:      opts.Marker,
			Location:    loc,
		}),
		logger:   opts.Logger,
		now:      now,
		settings: cloneSettings(opts.Settings),
	}, nil
}

// UpdateSettings takes effect from the next cycle.
func (s *Syncer) UpdateSettings(settings Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = cloneSettings(settings)
}

// UpdateLayout changes the notes folder, marker and time zone from the next
// cycle on. Notes already written stay where they are.
func (s *Syncer) UpdateLayout(opts MergerOptions) {
	merger := NewMerger(s.vault, opts)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merger = merger
}

func (s *Syncer) Merger() *Merger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.merger
}

func (s *Syncer) Status() Status {
	s.mu.Lock()
	status := Status{
		Running:   s.running,
		LastError: s.lastError,
		LastRunAt: s.lastRunAt,
	}
	if s.lastResult != nil {
		result := *s.lastResult
		status.LastResult = &result
	}
	s.mu.Unlock()
	status.Cursor = s.ledger.Cursor()
	status.LedgerSize = s.ledger.Len()
	return status
}

// RunSyncCycle runs one cycle. An overlapping call returns
// ErrCycleInProgress without touching anything.
func (s *Syncer) RunSyncCycle(ctx context.Context) (Result, error) {
	if !s.cycle.TryLock() {
		return Result{}, ErrCycleInProgress
	}
	defer s.cycle.Unlock()

	s.mu.Lock()
	s.running = true
	settings := cloneSettings(s.settings)
	merger := s.merger
	s.mu.Unlock()

	result := Result{StartedAt: s.now()}
	err := s.runCycle(ctx, settings, merger, &result)
	result.FinishedAt = s.now()

	s.mu.Lock()
	s.running = false
	s.lastRunAt = result.FinishedAt
	s.lastResult = &result
	s.lastError = ""
	if err != nil {
		s.lastError = err.Error()
	}
	s.mu.Unlock()

	switch {
	case err != nil:
		s.logf("sync failed: %v", err)
	case result.Synced == 0:
		s.logf("sync idle: no new events (fetched %d)", result.Fetched)
	default:
		s.logf("sync completed: %d events into %d notes", result.Synced, len(result.Dates))
	}
	return result, err
}

func (s *Syncer) runCycle(ctx context.Context, settings Settings, merger *Merger, result *Result) error {
	identifier := strings.TrimSpace(settings.Identifier)
	if identifier == "" {
		return configurationError(errors.New("identifier is not configured"))
	}
	identity, err := nostr.ResolveIdentifier(identifier)
	if err != nil {
		return configurationError(err)
	}
	relays := mergeRelays(settings.Relays, identity.Relays)
	if len(relays) == 0 {
		return configurationError(errors.New("no relays configured"))
	}

	filter := nostr.TextNotesBy(identity.PubKey, s.ledger.Cursor())
	batch, err := s.fetcher.Fetch(ctx, relays, filter)
	if err != nil {
		return &CycleError{Kind: ErrFetchFailed, Err: err}
	}
	result.Fetched = len(batch)

	fresh := FilterNew(batch, s.ledger)
	if len(fresh) == 0 {
		if err := s.ledger.Flush(); err != nil {
			return &CycleError{Kind: ErrPersistenceFailed, Err: err}
		}
		return nil
	}

	groups := GroupByDay(fresh, merger.loc)
	mergeErrs := make([]error, len(groups))
	var wg sync.WaitGroup
	for i, group := range groups {
		wg.Add(1)
		go func(i int, group DayGroup) {
			defer wg.Done()
			if err := merger.Merge(ctx, group.Date, group.Events); err != nil {
				mergeErrs[i] = &CycleError{Kind: ErrMergeFailed, Date: group.Date, Err: err}
			}
		}(i, group)
	}
	wg.Wait()

	var failures []error
	merged := make([]string, 0, len(fresh))
	for i, group := range groups {
		if mergeErrs[i] != nil {
			failures = append(failures, mergeErrs[i])
			result.Failed = append(result.Failed, group.Date)
			continue
		}
		result.Dates = append(result.Dates, group.Date)
		for _, event := range group.Events {
			merged = append(merged, event.ID)
		}
	}
	result.Synced = len(merged)

	if err := s.ledger.MarkSynced(merged); err != nil {
		failures = append(failures, &CycleError{Kind: ErrPersistenceFailed, Err: err})
	}
	if len(failures) > 0 {
		return errors.Join(failures...)
	}
	if err := s.ledger.AdvanceCursor(s.now().Unix()); err != nil {
		return &CycleError{Kind: ErrPersistenceFailed, Err: err}
	}
	return nil
}

func (s *Syncer) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}

// mergeRelays appends identifier relay hints the configuration lacks.
func mergeRelays(configured, hints []string) []string {
	out := make([]string, 0, len(configured)+len(hints))
	seen := map[string]struct{}{}
	for _, list := range [][]string{configured, hints} {
		for _, relay := range list {
			relay = strings.TrimSpace(relay)
			key := strings.TrimRight(strings.ToLower(relay), "/")
			if relay == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, relay)
		}
	}
	return out
}

func cloneSettings(settings Settings) Settings {
	return Settings{
		Identifier: settings.Identifier,
		Relays:     append([]string(nil), settings.Relays...),
	}
}
