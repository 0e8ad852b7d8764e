// Package vaultcipher implements the vault subtree's transparent-encryption
// hook. This is deliberately a placeholder cipher (a position-derived
// XOR-then-add stream, fixed key) and is NOT an authenticated cipher; see
// DESIGN.md for why this is not upgraded.
package vaultcipher

// fixedKey stands in for a real per-mount or per-file key. A production
// substitution would derive this per file and store a nonce alongside
// the ciphertext; that capability is out of scope here.
var fixedKey = []byte{0x5a, 0x3c, 0x91, 0x7e, 0x2d, 0x48, 0xbf, 0x11}

// Encrypt transforms plaintext read at absolute position off into ciphertext
// of the same length. It is its own inverse's complement: Decrypt(Encrypt(b,
// off), off) == b.
func Encrypt(plaintext []byte, off int64) []byte {
	return transform(plaintext, off, true)
}

// Decrypt reverses Encrypt.
func Decrypt(ciphertext []byte, off int64) []byte {
	return transform(ciphertext, off, false)
}

func transform(in []byte, off int64, encrypt bool) []byte {
	out := make([]byte, len(in))
	for i, b := range in {
		k := keystreamByte(off + int64(i))
		if encrypt {
			out[i] = b ^ k
			out[i] += k
		} else {
			v := in[i] - k
			out[i] = v ^ k
		}
	}
	return out
}

func keystreamByte(pos int64) byte {
	return fixedKey[pos%int64(len(fixedKey))] ^ byte(pos)
}
