package encryption

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestSealerRoundTrip(t *testing.T) {
	s, err := NewSealer(true, newKey(t))
	require.NoError(t, err)

	testCases := []struct {
		name      string
		plaintext string
	}{
		{"Simple text", "Hello, World!"},
		{"Unicode", "你好世界！🔐"},
		{"Long text", strings.Repeat("This is a long message. ", 100)},
		{"Empty", ""},
		{"Newlines", "Line 1\nLine 2\nLine 3"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sealed, err := s.Seal("general", tc.plaintext)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(sealed, SealedPrefix))
			if tc.plaintext != "" {
				assert.NotContains(t, sealed, tc.plaintext)
			}

			opened, err := s.Open("general", sealed)
			require.NoError(t, err)
			assert.Equal(t, tc.plaintext, opened)
		})
	}
}

func TestSealerNonceUniqueness(t *testing.T) {
	s, err := NewSealer(true, newKey(t))
	require.NoError(t, err)

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		sealed, err := s.Seal("general", "same message")
		require.NoError(t, err)
		require.False(t, seen[sealed], "相同明文產生了相同密文")
		seen[sealed] = true
	}
}

func TestSealerBindsChannel(t *testing.T) {
	s, err := NewSealer(true, newKey(t))
	require.NoError(t, err)

	sealed, err := s.Seal("alice-bob", "secret")
	require.NoError(t, err)

	_, err = s.Open("alice-carol", sealed)
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestSealerTampered(t *testing.T) {
	s, err := NewSealer(true, newKey(t))
	require.NoError(t, err)

	sealed, err := s.Seal("general", "secret")
	require.NoError(t, err)
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, SealedPrefix))
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff
	tampered := SealedPrefix + base64.StdEncoding.EncodeToString(data)

	_, err = s.Open("general", tampered)
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	_, err = s.Open("general", SealedPrefix+"!!!")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestSealerDisabled(t *testing.T) {
	s, err := NewSealer(false, nil)
	require.NoError(t, err)
	assert.False(t, s.Enabled())

	stored, err := s.Seal("general", "hi")
	require.NoError(t, err)
	assert.Equal(t, "plaintext:hi", stored)

	opened, err := s.Open("general", stored)
	require.NoError(t, err)
	assert.Equal(t, "hi", opened)

	legacy, err := s.Open("general", "no prefix at all")
	require.NoError(t, err)
	assert.Equal(t, "no prefix at all", legacy)

	_, err = s.Open("general", SealedPrefix+"AAAA")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestNewSealerRejectsShortKey(t *testing.T) {
	_, err := NewSealer(true, make([]byte, 16))
	assert.Error(t, err)
}

func TestNewSealerFromEnv(t *testing.T) {
	t.Setenv("MASTER_KEY", base64.StdEncoding.EncodeToString(newKey(t)))
	s, err := NewSealerFromEnv(true)
	require.NoError(t, err)
	assert.True(t, s.Enabled())

	t.Setenv("MASTER_KEY", "")
	_, err = NewSealerFromEnv(true)
	assert.Error(t, err)
}
