package nostr

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

var ErrInvalidIdentifier = errors.New("invalid identifier")

const (
	hrpPublicKey = "npub"
	hrpProfile   = "nprofile"

	tlvSpecial = 0
	tlvRelay   = 1
)

// Identity is a resolved author: the hex public key plus any relay hints
// the identifier carried (nprofile only).
type Identity struct {
	PubKey string
	Relays []string
}

// ResolveIdentifier accepts an npub, an nprofile or a 64-char hex key.
func ResolveIdentifier(identifier string) (Identity, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return Identity{}, fmt.Errorf("%w: empty", ErrInvalidIdentifier)
	}
	identifier = strings.TrimPrefix(identifier, "nostr:")
	lower := strings.ToLower(identifier)
	switch {
	case strings.HasPrefix(lower, hrpProfile+"1"):
		return decodeProfile(lower)
	case strings.HasPrefix(lower, hrpPublicKey+"1"):
		pub, err := decodePublicKey(lower)
		if err != nil {
			return Identity{}, err
		}
		return Identity{PubKey: pub}, nil
	case isHexKey(lower):
		return Identity{PubKey: lower}, nil
	default:
		return Identity{}, fmt.Errorf("%w: unrecognized format %q", ErrInvalidIdentifier, shorten(identifier))
	}
}

// EncodePublicKey renders a hex key as npub.
func EncodePublicKey(pubHex string) (string, error) {
	raw, err := hex.DecodeString(pubHex)
	if err != nil || len(raw) != 32 {
		return "", fmt.Errorf("%w: public key must be 32 bytes of hex", ErrInvalidIdentifier)
	}
	data, err := bech32.ConvertBits(raw, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(hrpPublicKey, data)
}

func decodePublicKey(npub string) (string, error) {
	hrp, raw, err := decodeBech32(npub)
	if err != nil {
		return "", err
	}
	if hrp != hrpPublicKey {
		return "", fmt.Errorf("%w: unexpected prefix %q", ErrInvalidIdentifier, hrp)
	}
	if len(raw) != 32 {
		return "", fmt.Errorf("%w: npub payload is %d bytes", ErrInvalidIdentifier, len(raw))
	}
	return hex.EncodeToString(raw), nil
}

func decodeProfile(nprofile string) (Identity, error) {
	hrp, raw, err := decodeBech32(nprofile)
	if err != nil {
		return Identity{}, err
	}
	if hrp != hrpProfile {
		return Identity{}, fmt.Errorf("%w: unexpected prefix %q", ErrInvalidIdentifier, hrp)
	}
	var out Identity
	for len(raw) >= 2 {
		typ, length := raw[0], int(raw[1])
		raw = raw[2:]
		if length > len(raw) {
			return Identity{}, fmt.Errorf("%w: truncated nprofile entry", ErrInvalidIdentifier)
		}
		value := raw[:length]
		raw = raw[length:]
		switch typ {
		case tlvSpecial:
			if length != 32 {
				return Identity{}, fmt.Errorf("%w: nprofile key is %d bytes", ErrInvalidIdentifier, length)
			}
			out.PubKey = hex.EncodeToString(value)
		case tlvRelay:
			if relay := strings.TrimSpace(string(value)); relay != "" {
				out.Relays = append(out.Relays, relay)
			}
		}
	}
	if out.PubKey == "" {
		return Identity{}, fmt.Errorf("%w: nprofile has no public key", ErrInvalidIdentifier)
	}
	return out, nil
}

func decodeBech32(s string) (string, []byte, error) {
	hrp, data, err := bech32.DecodeNoLimit(s)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidIdentifier, err)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidIdentifier, err)
	}
	return hrp, raw, nil
}

func isHexKey(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

func shorten(s string) string {
	if len(s) <= 16 {
		return s
	}
	return s[:16] + "..."
}
