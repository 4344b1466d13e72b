package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// ErrDecryption - шифртекст поврежден, подменен или зашифрован другим ключом.
// Интеграция с таким значением считается неработоспособной и требует повторной авторизации.
var ErrDecryption = errors.New("encryption: unable to decrypt value")

const hkdfInfo = "integrations-gateway/credentials/v1"

// Encryptor отвечает за шифрование и дешифрование чувствительных данных
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor создает новый Encryptor с заданным ключом.
// Ключ AES-256 выводится из секрета процесса через HKDF-SHA256,
// поэтому длина исходного секрета не важна.
func NewEncryptor(key string) *Encryptor {
	derived := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(key), nil, []byte(hkdfInfo)), derived); err != nil {
		panic(fmt.Sprintf("encryption: derive key: %v", err))
	}

	block, err := aes.NewCipher(derived)
	if err != nil {
		panic(fmt.Sprintf("encryption: create cipher: %v", err))
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		panic(fmt.Sprintf("encryption: create GCM: %v", err))
	}

	return &Encryptor{aead: gcm}
}

// Encrypt шифрует строку с использованием AES-GCM
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := e.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt расшифровывает строку
func (e *Encryptor) Decrypt(encrypted string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", fmt.Errorf("%w: decode base64: %v", ErrDecryption, err)
	}

	nonceSize := e.aead.NonceSize()
	if len(ciphertext) < nonceSize+e.aead.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryption)
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	return string(plaintext), nil
}

// Seal шифрует значение и упаковывает его в Sealed для передачи в хранилище
func (e *Encryptor) Seal(plaintext string) (Sealed, error) {
	if plaintext == "" {
		return Sealed{}, nil
	}
	ct, err := e.Encrypt(plaintext)
	if err != nil {
		return Sealed{}, err
	}
	return Sealed{ciphertext: ct}, nil
}

// Open расшифровывает Sealed в момент использования
func (e *Encryptor) Open(s Sealed) (string, error) {
	if s.IsZero() {
		return "", nil
	}
	return e.Decrypt(s.ciphertext)
}

// MustEncrypt шифрует и паникует при ошибке (для использования в тестах)
func (e *Encryptor) MustEncrypt(plaintext string) string {
	encrypted, err := e.Encrypt(plaintext)
	if err != nil {
		panic(err)
	}
	return encrypted
}
