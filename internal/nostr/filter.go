package nostr

import "strings"

// Filter is the subset of the NIP-01 REQ filter the journal needs.
type Filter struct {
	Kinds   []int    `json:"kinds,omitempty"`
	Authors []string `json:"authors,omitempty"`
	Since   *int64   `json:"since,omitempty"`
}

// TextNotesBy builds the filter for one author's text posts. A zero
// since leaves the lower bound open.
func TextNotesBy(authorHex string, since int64) Filter {
	f := Filter{
		Kinds:   []int{KindTextNote},
		Authors: []string{strings.ToLower(authorHex)},
	}
	if since > 0 {
		f.Since = &since
	}
	return f
}

func (f Filter) Matches(e Event) bool {
	if len(f.Kinds) > 0 {
		found := false
		for _, kind := range f.Kinds {
			if kind == e.Kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Authors) > 0 {
		found := false
		for _, author := range f.Authors {
			if strings.EqualFold(author, e.PubKey) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Since != nil && e.CreatedAt < *f.Since {
		return false
	}
	return true
}
