// Package wallet manages a validator or operator's ed25519 signing key:
// generating it, signing transactions with it, and persisting it to disk
// as a password-encrypted keystore file rather than cleartext PEM.
package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"os"

	"github.com/guts-org/guts-node/crypto"
	"golang.org/x/crypto/pbkdf2"
)

// keystoreFile is the on-disk JSON format. Fingerprint is redundant with
// PubKey (it's PubKey.Fingerprint()) but lets an operator tell keystore
// files apart with `cat` instead of decoding the full hex key — useful
// once a cluster has more than a couple of validators on disk.
type keystoreFile struct {
	PubKey      string `json:"pub_key"`
	Fingerprint string `json:"fingerprint"`
	Salt        string `json:"salt"`
	Nonce       string `json:"nonce"`
	CipherText  string `json:"cipher_text"`
}

// SaveKey encrypts priv with password using PBKDF2-derived AES-256-GCM and
// writes it to path as a Guts keystore file.
func SaveKey(path, password string, priv crypto.PrivateKey) error {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return err
	}
	key := deriveKey(password, salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return err
	}
	cipherText := gcm.Seal(nil, nonce, priv, nil)

	pub := priv.Public()
	ks := keystoreFile{
		PubKey:      pub.Hex(),
		Fingerprint: pub.Fingerprint(),
		Salt:        hex.EncodeToString(salt),
		Nonce:       hex.EncodeToString(nonce),
		CipherText:  hex.EncodeToString(cipherText),
	}
	data, err := json.MarshalIndent(ks, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// LoadKey decrypts the keystore at path using password.
func LoadKey(path, password string) (crypto.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ks keystoreFile
	if err := json.Unmarshal(data, &ks); err != nil {
		return nil, err
	}
	salt, err := hex.DecodeString(ks.Salt)
	if err != nil {
		return nil, err
	}
	nonce, err := hex.DecodeString(ks.Nonce)
	if err != nil {
		return nil, err
	}
	cipherText, err := hex.DecodeString(ks.CipherText)
	if err != nil {
		return nil, err
	}

	key := deriveKey(password, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	privBytes, err := gcm.Open(nil, nonce, cipherText, nil)
	if err != nil {
		return nil, errors.New("wrong password or corrupted keystore")
	}
	return crypto.PrivateKey(privBytes), nil
}

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, 210_000, 32, sha256.New)
}
