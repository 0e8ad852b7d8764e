package vaultcipher

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	testcases := []struct {
		name      string
		plaintext []byte
		offset    int64
	}{
		{name: "empty", plaintext: []byte{}, offset: 0},
		{name: "short, zero offset", plaintext: []byte("hello"), offset: 0},
		{name: "short, nonzero offset", plaintext: []byte("hello"), offset: 17},
		{name: "spans multiple key-stream periods", plaintext: []byte("the quick brown fox jumps over the lazy dog, twice over"), offset: 4096},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			ciphertext := Encrypt(tc.plaintext, tc.offset)
			assert.Len(t, ciphertext, len(tc.plaintext))

			plaintext := Decrypt(ciphertext, tc.offset)
			assert.Equal(t, tc.plaintext, plaintext)
		})
	}
}

func TestEncryptAtDifferentOffsetsProducesDifferentCiphertext(t *testing.T) {
	plaintext := []byte("same bytes, different position")

	a := Encrypt(plaintext, 0)
	b := Encrypt(plaintext, 1)

	assert.NotEqual(t, a, b)
}

func TestDecryptWithWrongOffsetDoesNotRoundTrip(t *testing.T) {
	plaintext := []byte("positional keystream")
	ciphertext := Encrypt(plaintext, 100)

	wrong := Decrypt(ciphertext, 0)

	assert.NotEqual(t, plaintext, wrong)
}
