// Package consensus implements the Simplex-style view-based BFT protocol:
// propose, notarize, finalize, and nullify-on-timeout, producing a linear
// chain of finalized blocks.
package consensus

import (
	"encoding/binary"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/guts-org/guts-node/block"
	"github.com/guts-org/guts-node/crypto"
)

// Kind tags a consensus wire message for dispatch.
type Kind string

const (
	KindPropose  Kind = "propose"
	KindNotarize Kind = "notarize"
	KindNullify  Kind = "nullify"
	KindFinalize Kind = "finalize"
)

// Propose is the leader's block proposal for view View.
type Propose struct {
	View      uint64       `msgpack:"view"`
	Block     *block.Block `msgpack:"block"`
	Producer  string       `msgpack:"producer"` // pubkey hex
	Signature string       `msgpack:"signature"`
}

// Notarize is a validator's vote to notarize BlockID in View.
type Notarize struct {
	View      uint64 `msgpack:"view"`
	BlockID   string `msgpack:"block_id"`
	Voter     string `msgpack:"voter"`
	Signature string `msgpack:"signature"`
}

// SigningData returns "NOTARIZE:" || little-endian view || block_id bytes,
// matching the original reference implementation's wire convention.
func (n Notarize) SigningData() []byte {
	return notarizeSigningData(n.View, n.BlockID)
}

func notarizeSigningData(view uint64, blockID string) []byte {
	buf := make([]byte, 0, 9+len(blockID))
	buf = append(buf, "NOTARIZE:"...)
	buf = binary.LittleEndian.AppendUint64(buf, view)
	buf = append(buf, blockID...)
	return buf
}

// Nullify is a validator's timeout vote for View.
type Nullify struct {
	View      uint64 `msgpack:"view"`
	Voter     string `msgpack:"voter"`
	Signature string `msgpack:"signature"`
}

// SigningData returns "NULLIFY:" || little-endian view.
func (n Nullify) SigningData() []byte {
	return nullifySigningData(n.View)
}

func nullifySigningData(view uint64) []byte {
	buf := make([]byte, 0, 8+8)
	buf = append(buf, "NULLIFY:"...)
	buf = binary.LittleEndian.AppendUint64(buf, view)
	return buf
}

// Finalize is a validator's vote to finalize BlockID in View.
type Finalize struct {
	View      uint64 `msgpack:"view"`
	BlockID   string `msgpack:"block_id"`
	Voter     string `msgpack:"voter"`
	Signature string `msgpack:"signature"`
}

// SigningData returns "FINALIZE:" || little-endian view || block_id bytes.
func (f Finalize) SigningData() []byte {
	return finalizeSigningData(f.View, f.BlockID)
}

func finalizeSigningData(view uint64, blockID string) []byte {
	buf := make([]byte, 0, 9+len(blockID))
	buf = append(buf, "FINALIZE:"...)
	buf = binary.LittleEndian.AppendUint64(buf, view)
	buf = append(buf, blockID...)
	return buf
}

// Envelope wraps a Kind-tagged, msgpack-encoded consensus message for
// transport over network.MsgConsensus.
type Envelope struct {
	Kind    Kind   `msgpack:"kind"`
	Payload []byte `msgpack:"payload"`
}

// Encode marshals v into an Envelope of the given kind.
func Encode(kind Kind, v any) ([]byte, error) {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("consensus: encode %s: %w", kind, err)
	}
	return msgpack.Marshal(Envelope{Kind: kind, Payload: payload})
}

// DecodeEnvelope unwraps the outer Envelope without decoding its payload.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("consensus: decode envelope: %w", err)
	}
	return env, nil
}

// decodeMsgpack unmarshals payload into v.
func decodeMsgpack(payload []byte, v any) error {
	return msgpack.Unmarshal(payload, v)
}

// signVote signs data with priv and returns the hex-encoded signature.
func signVote(priv crypto.PrivateKey, data []byte) string {
	return crypto.Sign(priv, data)
}

// verifyVote checks sigHex against data under the pubkey encoded in
// voterHex.
func verifyVote(voterHex string, data []byte, sigHex string) error {
	pub, err := crypto.PubKeyFromHex(voterHex)
	if err != nil {
		return fmt.Errorf("consensus: invalid voter pubkey: %w", err)
	}
	if err := crypto.Verify(pub, data, sigHex); err != nil {
		return fmt.Errorf("consensus: %w", err)
	}
	return nil
}
