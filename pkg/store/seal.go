package store

import (
	"bytes"
	"fmt"
	"io"

	"filippo.io/age"
)

// DefaultScryptWorkFactor is the scrypt cost used to wrap the store key.
const DefaultScryptWorkFactor = 18

// sealer encrypts stored blobs to the store's own X25519 key. The key is
// itself wrapped with the passphrase and kept in the meta table. A nil
// sealer stores blobs as plaintext.
type sealer struct {
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
}

func newSealer() (*sealer, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating store key: %w", err)
	}
	return &sealer{identity: identity, recipient: identity.Recipient()}, nil
}

// wrap encrypts the store key with passphrase.
func (s *sealer) wrap(passphrase string, workFactor int) ([]byte, error) {
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating passphrase recipient: %w", err)
	}
	if workFactor <= 0 {
		workFactor = DefaultScryptWorkFactor
	}
	recipient.SetWorkFactor(workFactor)

	return encrypt([]byte(s.identity.String()), recipient)
}

// unwrap recovers the store key. A wrong passphrase is ErrWrongPassphrase.
func unwrap(wrapped []byte, passphrase string) (*sealer, error) {
	scrypt, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating passphrase identity: %w", err)
	}

	plaintext, err := decrypt(wrapped, scrypt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrongPassphrase, err)
	}

	identity, err := age.ParseX25519Identity(string(plaintext))
	if err != nil {
		return nil, fmt.Errorf("parsing store key: %w", err)
	}
	return &sealer{identity: identity, recipient: identity.Recipient()}, nil
}

func (s *sealer) seal(plaintext []byte) ([]byte, error) {
	if s == nil {
		return plaintext, nil
	}
	return encrypt(plaintext, s.recipient)
}

func (s *sealer) open(blob []byte) ([]byte, error) {
	if s == nil {
		return blob, nil
	}
	return decrypt(blob, s.identity)
}

func encrypt(plaintext []byte, recipient age.Recipient) ([]byte, error) {
	var out bytes.Buffer
	w, err := age.Encrypt(&out, recipient)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing to age encryptor: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}
	return out.Bytes(), nil
}

func decrypt(ciphertext []byte, identity age.Identity) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted blob: %w", err)
	}
	return plaintext, nil
}
