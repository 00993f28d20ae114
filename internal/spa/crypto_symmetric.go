package spa

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/md5" //nolint:gosec // EVP_BytesToKey per OpenSSL-compatible KDF, not used for integrity.
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"hash"
)

const (
	saltLen    = 8
	aesKeyLen  = 32 // AES-256
	aesIVLen   = 16
	hmacSepLen = 2 // literal "||"
)

var hmacSep = []byte("||")

// decryptSymmetric implements the symmetric half of §4.4: derive a
// session key and IV from the stanza's configured key (used as an
// OpenSSL-compatible passphrase) and a per-packet salt via
// EVP_BytesToKey, verify the HMAC over salt||ciphertext before
// exposing any plaintext, then AES-256-CBC decrypt.
//
// A mismatched HMAC, bad padding, or a malformed envelope all produce
// the same generic failure; none of them are distinguished to the
// caller.
func decryptSymmetric(stanza *Stanza, body []byte, clientIDStr string) (*CryptoContext, error) {
	raw, err := base64.StdEncoding.DecodeString(string(body))
	if err != nil {
		return nil, fmt.Errorf("symmetric: %w", ErrDecryptFailed)
	}

	sep := bytes.LastIndex(raw, hmacSep)
	if sep < saltLen {
		return nil, fmt.Errorf("symmetric: %w", ErrDecryptFailed)
	}

	salted := raw[:sep]
	mac := raw[sep+hmacSepLen:]
	if len(salted) < saltLen+aes.BlockSize {
		return nil, fmt.Errorf("symmetric: %w", ErrDecryptFailed)
	}

	salt := salted[:saltLen]
	ciphertext := salted[saltLen:]

	if !verifyHMAC(stanza, salted, mac) {
		return nil, fmt.Errorf("symmetric: %w", ErrDecryptFailed)
	}

	key, iv := evpBytesToKey(stanza.SymmetricKey, salt, aesKeyLen, aesIVLen)

	if len(ciphertext)%aes.BlockSize != 0 || len(ciphertext) == 0 {
		return nil, fmt.Errorf("symmetric: %w", ErrDecryptFailed)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("symmetric: %w", ErrCryptoContext)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	unpadded, err := stripPKCS7(plaintext)
	if err != nil {
		zeroBytes(plaintext)
		return nil, fmt.Errorf("symmetric: %w", ErrDecryptFailed)
	}

	return &CryptoContext{Plaintext: unpadded}, nil
}

func verifyHMAC(stanza *Stanza, salted, mac []byte) bool {
	h := newHMACHash(stanza.HMACAlgorithm, stanza.HMACKey)
	if h == nil {
		return false
	}
	h.Write(salted)
	expected := h.Sum(nil)
	return len(mac) == len(expected) && subtle.ConstantTimeCompare(mac, expected) == 1
}

func newHMACHash(algo HMACAlgorithm, key []byte) hash.Hash {
	switch algo {
	case HMACSHA256, HMACUnknown:
		return hmac.New(sha256.New, key)
	case HMACSHA384:
		return hmac.New(sha512.New384, key)
	case HMACSHA512:
		return hmac.New(sha512.New, key)
	case HMACMD5:
		return hmac.New(md5.New, key)
	default:
		return nil
	}
}

// evpBytesToKey reproduces OpenSSL's default (MD5, one-iteration)
// key-derivation function so stanza keys behave as passphrases
// compatible with the wire format described in §6.
func evpBytesToKey(passphrase, salt []byte, keyLen, ivLen int) (key, iv []byte) {
	total := keyLen + ivLen
	derived := make([]byte, 0, total)

	var prev []byte
	for len(derived) < total {
		h := md5.New() //nolint:gosec // KDF, not integrity.
		h.Write(prev)
		h.Write(passphrase)
		h.Write(salt)
		prev = h.Sum(nil)
		derived = append(derived, prev...)
	}

	return derived[:keyLen], derived[keyLen:total]
}

func stripPKCS7(buf []byte) ([]byte, error) {
	if len(buf) == 0 || len(buf)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("symmetric: %w", ErrDecryptFailed)
	}
	pad := int(buf[len(buf)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(buf) {
		return nil, fmt.Errorf("symmetric: %w", ErrDecryptFailed)
	}
	for _, b := range buf[len(buf)-pad:] {
		if int(b) != pad {
			return nil, fmt.Errorf("symmetric: %w", ErrDecryptFailed)
		}
	}
	return buf[:len(buf)-pad], nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
