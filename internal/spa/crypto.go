package spa

import "fmt"

// CryptoContext is the scoped decrypt-context handle described in the
// §9 design note: it holds the one successful plaintext and (for the
// asymmetric path) the signer identity extracted from it, and it MUST
// be zeroed before the pipeline coordinator moves on to the next
// candidate stanza or exits.
type CryptoContext struct {
	Plaintext         []byte
	SignerID          string
	SignerFingerprint string
}

// Zero wipes the sensitive contents of the context. It is safe to call
// more than once and safe to call on a nil receiver.
func (c *CryptoContext) Zero() {
	if c == nil {
		return
	}
	for i := range c.Plaintext {
		c.Plaintext[i] = 0
	}
	c.Plaintext = nil
	c.SignerID = ""
	c.SignerFingerprint = ""
}

// Decrypt attempts the §4.4 crypto path against one stanza: symmetric
// first, and — only if the stanza enables it and symmetric did not
// already succeed — asymmetric. A single call never returns more than
// one successful decryption. Any failure collapses to ErrDecryptFailed;
// the caller cannot distinguish "wrong key" from "corrupt packet".
func Decrypt(stanza *Stanza, body []byte, clientIDStr string) (*CryptoContext, error) {
	if len(stanza.SymmetricKey) > 0 {
		ctx, err := decryptSymmetric(stanza, body, clientIDStr)
		if err == nil {
			return ctx, nil
		}
	}

	if stanza.AsymmetricEnabled {
		ctx, err := decryptAsymmetric(stanza, body)
		if err != nil {
			return nil, fmt.Errorf("crypto: %w", ErrDecryptFailed)
		}
		return ctx, nil
	}

	return nil, fmt.Errorf("crypto: %w", ErrDecryptFailed)
}
