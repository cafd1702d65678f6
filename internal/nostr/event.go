package nostr

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// KindTextNote is the NIP-01 kind for short text posts.
const KindTextNote = 1

var (
	ErrInvalidEvent     = errors.New("invalid event")
	ErrIDMismatch       = errors.New("event id does not match content")
	ErrInvalidSignature = errors.New("invalid event signature")
)

type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// Serialize returns the canonical NIP-01 commitment
// [0,<pubkey>,<created_at>,<kind>,<tags>,<content>] the event id hashes.
func (e Event) Serialize() []byte {
	var b strings.Builder
	b.WriteString(`[0,"`)
	b.WriteString(e.PubKey)
	b.WriteString(`",`)
	b.WriteString(strconv.FormatInt(e.CreatedAt, 10))
	b.WriteByte(',')
	b.WriteString(strconv.Itoa(e.Kind))
	b.WriteString(",[")
	for i, tag := range e.Tags {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('[')
		for j, item := range tag {
			if j > 0 {
				b.WriteByte(',')
			}
			writeQuoted(&b, item)
		}
		b.WriteByte(']')
	}
	b.WriteString("],")
	writeQuoted(&b, e.Content)
	b.WriteByte(']')
	return []byte(b.String())
}

func (e Event) ComputeID() string {
	sum := sha256.Sum256(e.Serialize())
	return hex.EncodeToString(sum[:])
}

func (e Event) CheckID() error {
	if !strings.EqualFold(e.ID, e.ComputeID()) {
		return fmt.Errorf("%w: %s", ErrIDMismatch, e.ID)
	}
	return nil
}

// Verify checks the id commitment and the BIP-340 signature over it.
func (e Event) Verify() error {
	if err := e.CheckID(); err != nil {
		return err
	}
	idBytes, err := hex.DecodeString(e.ID)
	if err != nil {
		return fmt.Errorf("%w: id: %v", ErrInvalidEvent, err)
	}
	pubBytes, err := hex.DecodeString(e.PubKey)
	if err != nil {
		return fmt.Errorf("%w: pubkey: %v", ErrInvalidEvent, err)
	}
	sigBytes, err := hex.DecodeString(e.Sig)
	if err != nil {
		return fmt.Errorf("%w: sig: %v", ErrInvalidSignature, err)
	}
	pub, err := schnorr.ParsePubKey(pubBytes)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !sig.Verify(idBytes, pub) {
		return fmt.Errorf("%w: %s", ErrInvalidSignature, e.ID)
	}
	return nil
}

// writeQuoted escapes only what NIP-01 requires; encoding/json escapes
// more (<, >, &, U+2028) and would change the hash.
func writeQuoted(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			if r < 0x20 {
				fmt.Fprintf(b, `\u%04x`, r)
				continue
			}
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
}
