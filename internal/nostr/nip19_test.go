package nostr

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/stretchr/testify/require"
)

func TestResolveIdentifierNpub(t *testing.T) {
	id, err := ResolveIdentifier("npub10elfcs4fr0l0r8af98jlmgdh9c8tcxjvz9qkw038js35mp4dma8qzvjptg")
	require.NoError(t, err)
	require.Equal(t, "7e7e9c42a91bfef19fa929e5fda1b72e0ebc1a4c1141673e2794234d86addf4e", id.PubKey)
	require.Empty(t, id.Relays)
}

func TestEncodePublicKeyRoundTrip(t *testing.T) {
	pub := testPubKey(testKey(t, 3))
	npub, err := EncodePublicKey(pub)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(npub, "npub1"))

	id, err := ResolveIdentifier("nostr:" + npub)
	require.NoError(t, err)
	require.Equal(t, pub, id.PubKey)
}

func TestResolveIdentifierHex(t *testing.T) {
	upper := strings.ToUpper(strings.Repeat("ab", 32))
	id, err := ResolveIdentifier("  " + upper + "  ")
	require.NoError(t, err)
	require.Equal(t, strings.Repeat("ab", 32), id.PubKey)
}

func TestResolveIdentifierNprofile(t *testing.T) {
	pub := testPubKey(testKey(t, 7))
	raw, err := hex.DecodeString(pub)
	require.NoError(t, err)
	relay := "wss://relay.example.com"
	tlv := append([]byte{tlvSpecial, 32}, raw...)
	tlv = append(tlv, tlvRelay, byte(len(relay)))
	tlv = append(tlv, relay...)
	data, err := bech32.ConvertBits(tlv, 8, 5, true)
	require.NoError(t, err)
	nprofile, err := bech32.Encode(hrpProfile, data)
	require.NoError(t, err)

	id, err := ResolveIdentifier(nprofile)
	require.NoError(t, err)
	require.Equal(t, pub, id.PubKey)
	require.Equal(t, []string{relay}, id.Relays)
}

func TestResolveIdentifierRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"alice@example.com",
		"npub1qqqqqqqq",
		"npub10elfcs4fr0l0r8af98jlmgdh9c8tcxjvz9qkw038js35mp4dma8qzvjptq",
		strings.Repeat("g", 64),
		strings.Repeat("a", 62),
	}
	for _, input := range cases {
		_, err := ResolveIdentifier(input)
		require.ErrorIs(t, err, ErrInvalidIdentifier, "input %q", input)
	}
}

func TestResolveIdentifierRejectsWrongPrefix(t *testing.T) {
	raw := make([]byte, 32)
	data, err := bech32.ConvertBits(raw, 8, 5, true)
	require.NoError(t, err)
	nsec, err := bech32.Encode("nsec", data)
	require.NoError(t, err)
	_, err = ResolveIdentifier(nsec)
	require.ErrorIs(t, err, ErrInvalidIdentifier)
}
