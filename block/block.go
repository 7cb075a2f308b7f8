// Package block defines the block header, transaction Merkle root, and
// finalized-block envelope produced by the BFT consensus engine.
package block

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/guts-org/guts-node/crypto"
	"github.com/guts-org/guts-node/txn"
)

// ZeroParent is the all-zero 32-byte parent hash used by the genesis block.
const ZeroParent = "0000000000000000000000000000000000000000000000000000000000000000"

// Header is the hashed, signed block metadata.
type Header struct {
	Height    uint64 `json:"height"`
	Parent    string `json:"parent"` // hex BlockId of the previous block
	Producer  string `json:"producer"` // proposer's pubkey hex
	Timestamp int64  `json:"timestamp_ms"`
	TxRoot    string `json:"tx_root"`    // hex, pairwise SHA-256 Merkle root over tx IDs
	StateRoot string `json:"state_root"` // hex, application.compute_state_root output
	TxCount   uint32 `json:"tx_count"`
}

// ID returns the block's content-addressed identity: SHA-256 of the
// canonically (field-order-fixed) serialized header.
func (h Header) ID() string {
	data, err := json.Marshal(h)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Block is a header plus its ordered transactions.
type Block struct {
	Header       Header            `json:"header"`
	Transactions []*txn.Transaction `json:"transactions"`
	Signature    string            `json:"signature"` // proposer's signature over Header.ID()
}

// ID returns the block's identity (the header's ID; transactions are
// covered indirectly via TxRoot).
func (b *Block) ID() string { return b.Header.ID() }

// Sign signs the block's ID with the proposer's key.
func (b *Block) Sign(priv crypto.PrivateKey) {
	b.Signature = crypto.Sign(priv, []byte(b.ID()))
}

// VerifySignature checks the proposer's signature over the block ID.
func (b *Block) VerifySignature(pub crypto.PublicKey) error {
	return crypto.Verify(pub, []byte(b.ID()), b.Signature)
}

// VerifyIntegrity checks that header.tx_count and header.tx_root are
// consistent with the transaction list, independent of any signature.
func (b *Block) VerifyIntegrity() error {
	if int(b.Header.TxCount) != len(b.Transactions) {
		return fmt.Errorf("block: tx_count mismatch: header %d actual %d", b.Header.TxCount, len(b.Transactions))
	}
	if root := ComputeTxRoot(b.Transactions); root != b.Header.TxRoot {
		return errors.New("block: tx_root mismatch")
	}
	return nil
}

// ComputeTxRoot computes the Merkle root over transaction IDs using the
// pairwise rule: take each transaction's raw 32-byte ID digest as a level-0
// leaf (no pre-hash — tx.ID is already a SHA-256 digest), repeatedly
// combining adjacent pairs (duplicating the last element when a level has
// odd length) until one hash remains. An empty transaction list yields the
// all-zero root.
func ComputeTxRoot(txs []*txn.Transaction) string {
	if len(txs) == 0 {
		return ZeroParent
	}
	level := make([][]byte, len(txs))
	for i, tx := range txs {
		raw, err := hex.DecodeString(tx.ID)
		if err != nil {
			raw = crypto.HashBytes([]byte(tx.ID))
		}
		level[i] = raw
	}
	for len(level) > 1 {
		var next [][]byte
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			combined := append(append([]byte{}, left...), right...)
			next = append(next, crypto.HashBytes(combined))
		}
		level = next
	}
	return hex.EncodeToString(level[0])
}

// New builds an unsigned block. stateRoot is supplied by the consensus
// application's compute_state_root.
func New(height uint64, parent, producer string, timestampMs int64, txs []*txn.Transaction, stateRoot string) *Block {
	return &Block{
		Header: Header{
			Height:    height,
			Parent:    parent,
			Producer:  producer,
			Timestamp: timestampMs,
			TxRoot:    ComputeTxRoot(txs),
			StateRoot: stateRoot,
			TxCount:   uint32(len(txs)),
		},
		Transactions: txs,
	}
}

// Genesis builds the height-0 block: zero parent, no transactions.
func Genesis(producer string, timestampMs int64, stateRoot string) *Block {
	return New(0, ZeroParent, producer, timestampMs, nil, stateRoot)
}

// Signer is a (pubkey, signature) pair contributing to a finalize quorum.
type Signer struct {
	PubKey    string `json:"pubkey"`
	Signature string `json:"signature"`
}

// Finalized is a Block plus the view it finalized in and the quorum of
// finalize votes that certify it.
type Finalized struct {
	Block   *Block   `json:"block"`
	View    uint64   `json:"view"`
	Signers []Signer `json:"signers"`
}
