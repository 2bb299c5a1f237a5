// Package vault manages encrypted secrets for agent executors. Values are
// sealed with AES-256-GCM under a passphrase-derived key and persisted as
// ciphertext through the store.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/pkatsogr/crewd/internal/store"
	"golang.org/x/crypto/argon2"
)

// Vault derives a single AES-256 key from a passphrase and seals or opens
// secret values against the store. The argon2id salt is deterministic
// (SHA-256 of the passphrase) so the same passphrase yields the same key
// across restarts.
type Vault struct {
	key   [32]byte
	store *store.Store
}

func New(passphrase string, st *store.Store) *Vault {
	salt := sha256.Sum256([]byte(passphrase))
	key := argon2.IDKey([]byte(passphrase), salt[:16], 1, 64*1024, 4, 32)

	v := &Vault{store: st}
	copy(v.key[:], key)
	return v
}

// Put seals the plaintext value under a fresh nonce and upserts it by name.
func (v *Vault) Put(name, description string, plaintext []byte) error {
	ciphertext, nonce, err := v.seal(plaintext)
	if err != nil {
		return fmt.Errorf("seal secret %q: %w", name, err)
	}
	return v.store.SaveSecret(&store.Secret{
		Name:        name,
		Description: description,
		Value:       ciphertext,
		Nonce:       nonce,
	})
}

// Get opens the named secret. A missing secret is an error, unlike the
// store's nil-on-missing convention, since callers expect the value.
func (v *Vault) Get(name string) ([]byte, error) {
	sec, err := v.store.GetSecret(name)
	if err != nil {
		return nil, err
	}
	if sec == nil {
		return nil, fmt.Errorf("secret %q not found", name)
	}
	plaintext, err := v.open(sec.Value, sec.Nonce)
	if err != nil {
		return nil, fmt.Errorf("open secret %q: %w", name, err)
	}
	return plaintext, nil
}

// List returns secret metadata only; values stay sealed.
func (v *Vault) List() ([]store.Secret, error) {
	return v.store.ListSecrets()
}

func (v *Vault) Delete(name string) error {
	return v.store.DeleteSecret(name)
}

// Resolve maps secret names to plaintext values, for injecting into an
// executor's environment.
func (v *Vault) Resolve(names []string) (map[string]string, error) {
	resolved := make(map[string]string, len(names))
	for _, name := range names {
		value, err := v.Get(name)
		if err != nil {
			return nil, err
		}
		resolved[name] = string(value)
	}
	return resolved, nil
}

func (v *Vault) seal(plaintext []byte) (ciphertext, nonce []byte, err error) {
	block, err := aes.NewCipher(v.key[:])
	if err != nil {
		return nil, nil, fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("create gcm: %w", err)
	}

	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext = gcm.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

func (v *Vault) open(ciphertext, nonce []byte) ([]byte, error) {
	block, err := aes.NewCipher(v.key[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}

	return plaintext, nil
}
