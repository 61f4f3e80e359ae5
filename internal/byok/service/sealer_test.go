package service

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSealKey = "6368616e676520746869732070617373776f726420746f206120736563726574"

func TestSealerRoundTrip(t *testing.T) {
	sl, err := newSealer(testSealKey)
	require.NoError(t, err)

	sealed, err := sl.Seal("sk-or-v1-abc123")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "abc123")

	var payload sealedPayload
	require.NoError(t, json.Unmarshal([]byte(sealed), &payload))
	assert.Equal(t, 1, payload.Version)
	assert.NotEmpty(t, payload.Nonce)
	assert.NotEmpty(t, payload.Ciphertext)

	opened, err := sl.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "sk-or-v1-abc123", opened)
}

func TestSealerUniqueNonces(t *testing.T) {
	sl, err := newSealer(testSealKey)
	require.NoError(t, err)

	a, err := sl.Seal("same-value")
	require.NoError(t, err)
	b, err := sl.Seal("same-value")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "each seal uses a fresh nonce")
}

func TestSealerRejectsBadInput(t *testing.T) {
	_, err := newSealer("not-hex")
	assert.Error(t, err)

	_, err = newSealer("abcd")
	assert.Error(t, err, "key must be 32 bytes")

	sl, err := newSealer(testSealKey)
	require.NoError(t, err)

	_, err = sl.Open("{")
	assert.Error(t, err)

	_, err = sl.Open(`{"v":1,"n":"` + strings.Repeat("A", 8) + `","c":"AAAA"}`)
	assert.Error(t, err)
}

func TestSealerRejectsTamperedCiphertext(t *testing.T) {
	sl, err := newSealer(testSealKey)
	require.NoError(t, err)

	sealed, err := sl.Seal("secret")
	require.NoError(t, err)

	var payload sealedPayload
	require.NoError(t, json.Unmarshal([]byte(sealed), &payload))
	flipped := "x"
	if strings.HasSuffix(payload.Ciphertext, "x") {
		flipped = "y"
	}
	payload.Ciphertext = payload.Ciphertext[:len(payload.Ciphertext)-1] + flipped
	tampered, err := json.Marshal(payload)
	require.NoError(t, err)

	_, err = sl.Open(string(tampered))
	assert.Error(t, err)
}
