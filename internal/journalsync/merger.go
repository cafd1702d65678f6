package journalsync

import (
	"context"
	"errors"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/agentworkforce/relayjournal/internal/nostr"
)

const (
	DefaultNotesFolder = "Nostr"
	DefaultMarker      = "#nostr"

	blockSeparator = "\n---\n\n"
)

type MergerOptions struct {
	NotesFolder string
	Marker      string
	Location    *time.Location
}

// Merger appends rendered events to the daily note for their date. It never
// rewrites what a note already holds.
type Merger struct {
	vault  Vault
	folder string
	marker string
	loc    *time.Location
}

func NewMerger(vault Vault, opts MergerOptions) *Merger {
	folder := strings.Trim(strings.TrimSpace(opts.NotesFolder), "/")
	if folder == "" {
		folder = DefaultNotesFolder
	}
	marker := strings.TrimSpace(opts.Marker)
	if marker == "" {
		marker = DefaultMarker
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Merger{vault: vault, folder: folder, marker: marker, loc: loc}
}

func (m *Merger) NotePath(date string) string {
	return path.Join(m.folder, date+".md")
}

// Merge writes events into the note for date. An empty batch touches nothing.
func (m *Merger) Merge(ctx context.Context, date string, events []nostr.Event) error {
	if len(events) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.vault.CreateFolder(m.folder); err != nil && !errors.Is(err, fs.ErrExist) {
		return err
	}
	blocks := RenderBlocks(events, m.loc)
	notePath := m.NotePath(date)
	exists, err := m.vault.Exists(notePath)
	if err != nil {
		return err
	}
	if !exists {
		return m.vault.Create(notePath, m.marker+"\n\n"+blocks)
	}
	existing, err := m.vault.Read(notePath)
	if err != nil {
		return err
	}
	return m.vault.Modify(notePath, AppendBlocks(existing, blocks))
}

// RenderBlocks renders events oldest first, one "## HH:MM" block each.
// Events sharing a timestamp keep their batch order.
func RenderBlocks(events []nostr.Event, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	sorted := append([]nostr.Event(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt < sorted[j].CreatedAt
	})
	blocks := make([]string, 0, len(sorted))
	for _, event := range sorted {
		blocks = append(blocks, renderBlock(event, loc))
	}
	return strings.Join(blocks, blockSeparator)
}

func renderBlock(event nostr.Event, loc *time.Location) string {
	var b strings.Builder
	b.WriteString("## ")
	b.WriteString(time.Unix(event.CreatedAt, 0).In(loc).Format("15:04"))
	b.WriteString("\n\n")
	b.WriteString(event.Content)
	b.WriteString("\n")
	return b.String()
}

// AppendBlocks returns existing followed by a separator and blocks.
func AppendBlocks(existing, blocks string) string {
	var b strings.Builder
	b.Grow(len(existing) + len(blocks) + len(blockSeparator) + 1)
	b.WriteString(existing)
	if existing != "" && !strings.HasSuffix(existing, "\n") {
		b.WriteByte('\n')
	}
	b.WriteString(blockSeparator)
	b.WriteString(blocks)
	return b.String()
}
