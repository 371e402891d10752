package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// BuiltinKeyID names the key compiled into the client. It only protects
// stored API keys against casual inspection of the local store.
const BuiltinKeyID = "builtin"

var builtinKey = []byte("prism-local-storage-obfuscation!")

var ErrBadCiphertext = errors.New("stored ciphertext cannot be decrypted")

type Envelope struct {
	KeyID      string `json:"key_id"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

type Manager struct {
	currentKeyID string
	keys         map[string][]byte
}

func NewManager(currentKeyID string, keys map[string][]byte) (*Manager, error) {
	if currentKeyID == "" {
		return nil, fmt.Errorf("current key id is empty")
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("keys map is empty")
	}
	if _, ok := keys[currentKeyID]; !ok {
		return nil, fmt.Errorf("current key id %q not found", currentKeyID)
	}
	for id, key := range keys {
		if len(key) != 32 {
			return nil, fmt.Errorf("key %q must be 32 bytes", id)
		}
	}
	cp := make(map[string][]byte, len(keys))
	for id, key := range keys {
		buf := make([]byte, len(key))
		copy(buf, key)
		cp[id] = buf
	}
	return &Manager{currentKeyID: currentKeyID, keys: cp}, nil
}

// NewManagerWithBuiltin always keeps the builtin key available for
// decryption, so values written before an override stay readable. An empty
// currentKeyID selects the builtin key for new ciphertexts.
func NewManagerWithBuiltin(currentKeyID string, keys map[string][]byte) (*Manager, error) {
	merged := make(map[string][]byte, len(keys)+1)
	merged[BuiltinKeyID] = builtinKey
	for id, key := range keys {
		merged[id] = key
	}
	if currentKeyID == "" {
		currentKeyID = BuiltinKeyID
	}
	return NewManager(currentKeyID, merged)
}

func (m *Manager) CurrentKeyID() string {
	return m.currentKeyID
}

func (m *Manager) Encrypt(plaintext []byte) (Envelope, error) {
	aead, err := newAEAD(m.keys[m.currentKeyID])
	if err != nil {
		return Envelope{}, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return Envelope{}, fmt.Errorf("nonce: %w", err)
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	return Envelope{
		KeyID:      m.currentKeyID,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

func (m *Manager) Decrypt(env Envelope) ([]byte, error) {
	key, ok := m.keys[env.KeyID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown key id %q", ErrBadCiphertext, env.KeyID)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: decode nonce: %v", ErrBadCiphertext, err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: decode ciphertext: %v", ErrBadCiphertext, err)
	}

	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: nonce size %d", ErrBadCiphertext, len(nonce))
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCiphertext, err)
	}
	return plaintext, nil
}

// EncryptString seals value and returns the JSON envelope as a string.
func (m *Manager) EncryptString(value string) (string, error) {
	env, err := m.Encrypt([]byte(value))
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	return string(b), nil
}

// DecryptString opens a value produced by EncryptString. Any malformed input
// yields an error wrapping ErrBadCiphertext.
func (m *Manager) DecryptString(raw string) (string, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return "", fmt.Errorf("%w: unmarshal envelope: %v", ErrBadCiphertext, err)
	}
	pt, err := m.Decrypt(env)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// DecryptOrEmpty returns "" for empty, foreign or corrupted input. Callers
// observe a bad ciphertext the same way as a missing key.
func (m *Manager) DecryptOrEmpty(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	plain, err := m.DecryptString(raw)
	if err != nil {
		return ""
	}
	return plain
}

// ReEncrypt opens raw with whichever key sealed it and seals it again with
// the current key.
func (m *Manager) ReEncrypt(raw string) (string, error) {
	plain, err := m.DecryptString(raw)
	if err != nil {
		return "", err
	}
	return m.EncryptString(plain)
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return aead, nil
}
