package encryption

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/google/uuid"

	"session-service/internal/config"
)

var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
)

// blobSep separates the encrypted DEK from the field ciphertext inside a
// stored blob; both halves are base64 so the separator cannot collide.
var blobSep = []byte(":")

// Manager performs envelope encryption of PII fields (currently the user's
// email address). Each field gets a fresh data key; the data key is wrapped
// by KMS in production or stored base64-obfuscated in development.
type Manager struct {
	kmsClient *kms.Client
	config    *config.Config
	keyCache  sync.Map // wrapped DEK -> plaintext DEK
}

type dataKey struct {
	plaintext  []byte
	ciphertext []byte
	keyID      string
}

func NewManager(cfg *config.Config, kmsClient *kms.Client) *Manager {
	return &Manager{
		kmsClient: kmsClient,
		config:    cfg,
	}
}

// Seal encrypts plaintext with a fresh data key and returns the storable
// blob plus the id of the key that wrapped the DEK.
func (m *Manager) Seal(ctx context.Context, plaintext string) ([]byte, string, error) {
	dk, err := m.generateDataKey(ctx)
	if err != nil {
		return nil, "", err
	}

	block, err := aes.NewCipher(dk.plaintext)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)

	wrapped := base64.StdEncoding.EncodeToString(dk.ciphertext)
	m.keyCache.Store(wrapped, dk.plaintext)

	blob := make([]byte, 0, len(wrapped)+1+base64.StdEncoding.EncodedLen(len(sealed)))
	blob = append(blob, wrapped...)
	blob = append(blob, blobSep...)
	blob = append(blob, base64.StdEncoding.EncodeToString(sealed)...)

	return blob, dk.keyID, nil
}

// Open decrypts a blob produced by Seal.
func (m *Manager) Open(ctx context.Context, blob []byte) (string, error) {
	parts := bytes.SplitN(blob, blobSep, 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("%w: malformed blob", ErrDecryptionFailed)
	}
	wrapped := string(parts[0])

	var dek []byte
	if cached, ok := m.keyCache.Load(wrapped); ok {
		dek = cached.([]byte)
	} else {
		unwrapped, err := m.unwrapDataKey(ctx, wrapped)
		if err != nil {
			return "", err
		}
		dek = unwrapped
		m.keyCache.Store(wrapped, dek)
	}

	sealed, err := base64.StdEncoding.DecodeString(string(parts[1]))
	if err != nil {
		return "", fmt.Errorf("%w: invalid ciphertext format", ErrDecryptionFailed)
	}

	block, err := aes.NewCipher(dek)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	if len(sealed) < gcm.NonceSize() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	return string(plaintext), nil
}

func (m *Manager) generateDataKey(ctx context.Context) (*dataKey, error) {
	if !m.config.KMS.Enabled || m.kmsClient == nil {
		return m.generateLocalKey()
	}

	result, err := m.kmsClient.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:   aws.String(m.config.KMS.KeyID),
		KeySpec: types.DataKeySpecAes256,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate data key: %w", err)
	}

	return &dataKey{
		plaintext:  result.Plaintext,
		ciphertext: result.CiphertextBlob,
		keyID:      m.config.KMS.KeyID,
	}, nil
}

// generateLocalKey is the development fallback; the "wrapped" key is just
// the raw key, so blobs produced this way are obfuscated, not protected.
func (m *Manager) generateLocalKey() (*dataKey, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	return &dataKey{
		plaintext:  key,
		ciphertext: key,
		keyID:      uuid.New().String(),
	}, nil
}

func (m *Manager) unwrapDataKey(ctx context.Context, wrapped string) ([]byte, error) {
	ciphertextBlob, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid DEK format", ErrDecryptionFailed)
	}

	if !m.config.KMS.Enabled || m.kmsClient == nil {
		return ciphertextBlob, nil
	}

	result, err := m.kmsClient.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob: ciphertextBlob,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decrypt DEK: %v", ErrDecryptionFailed, err)
	}

	return result.Plaintext, nil
}

// ClearCache drops all cached plaintext DEKs.
func (m *Manager) ClearCache() {
	m.keyCache.Range(func(key, _ interface{}) bool {
		m.keyCache.Delete(key)
		return true
	})
}
