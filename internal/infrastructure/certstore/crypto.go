package certstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Propósitos de derivación: la misma llave maestra nunca cifra bundle y senha.
const (
	purposeBundle     = "certstore/pkcs12-bundle/v1"
	purposePassphrase = "certstore/passphrase/v1"
)

// deriveKey obtiene una llave AES-256 independiente por propósito (HKDF-SHA256).
func deriveKey(master []byte, purpose string) ([]byte, error) {
	if len(master) != 32 {
		return nil, fmt.Errorf("certstore: la llave maestra debe tener 32 bytes, tiene %d", len(master))
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(purpose)), key); err != nil {
		return nil, fmt.Errorf("certstore: derivar llave: %w", err)
	}
	return key, nil
}

// seal cifra con AES-256-GCM; el nonce va antepuesto al ciphertext.
func seal(plaintext, key []byte, associatedData string) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("certstore: generar nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, []byte(associatedData)), nil
}

// open revierte seal; falla si el ciphertext o el associatedData fueron alterados.
func open(sealed, key []byte, associatedData string) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("certstore: ciphertext demasiado corto")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, []byte(associatedData))
	if err != nil {
		return nil, fmt.Errorf("certstore: descifrar: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("certstore: crear cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("certstore: crear GCM: %w", err)
	}
	return gcm, nil
}
