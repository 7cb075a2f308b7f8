package wallet

import (
	"github.com/guts-org/guts-node/crypto"
	"github.com/guts-org/guts-node/txn"
)

// Wallet holds a key pair and provides transaction-building helpers.
type Wallet struct {
	priv crypto.PrivateKey
	pub  crypto.PublicKey
}

// New creates a Wallet from an existing private key.
func New(priv crypto.PrivateKey) *Wallet {
	return &Wallet{priv: priv, pub: priv.Public()}
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate() (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(priv), nil
}

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// PubKey returns the hex-encoded ed25519 public key (the transaction
// signer identity).
func (w *Wallet) PubKey() string {
	return w.pub.Hex()
}

// Fingerprint returns a short display identifier for this wallet's key,
// suitable for logs and CLI prompts. It is never used as a transaction
// Signer (NewTx always signs with the full hex public key).
func (w *Wallet) Fingerprint() string {
	return w.pub.Fingerprint()
}

// NewTx builds and signs a transaction of the given type and payload.
func (w *Wallet) NewTx(typ txn.Type, payload any) (*txn.Transaction, error) {
	tx, err := txn.New(typ, w.pub.Hex(), payload)
	if err != nil {
		return nil, err
	}
	tx.Sign(w.priv)
	return tx, nil
}

// CreateRepository builds a signed CreateRepository transaction.
func (w *Wallet) CreateRepository(owner, name, description, defaultBranch, visibility string) (*txn.Transaction, error) {
	return w.NewTx(txn.CreateRepository, txn.CreateRepositoryPayload{
		Owner: owner, Name: name, Description: description,
		DefaultBranch: defaultBranch, Visibility: visibility,
	})
}

// DeleteRepository builds a signed DeleteRepository transaction.
func (w *Wallet) DeleteRepository(repoKey string) (*txn.Transaction, error) {
	return w.NewTx(txn.DeleteRepository, txn.DeleteRepositoryPayload{RepoKey: repoKey})
}
