// Package txn defines the tagged-union transaction model: the typed,
// content-addressable, signed operations that mutate cluster state once
// finalized by consensus.
package txn

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/guts-org/guts-node/crypto"
)

// Type identifies which variant a Transaction carries.
type Type string

const (
	CreateRepository Type = "CreateRepository"
	DeleteRepository Type = "DeleteRepository"
	CreateIssue      Type = "CreateIssue"
	CreatePullRequest Type = "CreatePullRequest"
	CreateOrganization Type = "CreateOrganization"
	CreateTeam       Type = "CreateTeam"
	AddTeamMember    Type = "AddTeamMember"
	CreateWebhook    Type = "CreateWebhook"
	MergePullRequest Type = "MergePullRequest"
	CloseIssue       Type = "CloseIssue"
	RecordCIResult   Type = "RecordCIResult"
)

// Transaction is the atomic, signed unit of state change submitted to the
// mempool. ID is the SHA-256 of the canonical (fixed field order, no map
// iteration) serialization of the ENTIRE transaction, signature included —
// the signature is part of what gets hashed into ID, not excluded from it.
type Transaction struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	Signer    string          `json:"signer"` // hex-encoded ed25519 public key
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// preimageBody is the struct whose field order fixes the canonical
// serialization signed by Sign: everything that exists before a signature
// can. ID is computed afterward, over the transaction as a whole.
type preimageBody struct {
	Type      Type            `json:"type"`
	Signer    string          `json:"signer"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// idBody mirrors Transaction's fixed field order for ID computation, with
// ID itself omitted (it cannot hash itself).
type idBody struct {
	Type      Type            `json:"type"`
	Signer    string          `json:"signer"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

func (tx *Transaction) preimageHash() string {
	body := preimageBody{Type: tx.Type, Signer: tx.Signer, Timestamp: tx.Timestamp, Payload: tx.Payload}
	data, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// canonicalID is the SHA-256 of the canonical serialization of the
// signed transaction (signature included), matching the id := SHA-256(
// canonical_serialization(transaction)) invariant.
func (tx *Transaction) canonicalID() string {
	body := idBody{Type: tx.Type, Signer: tx.Signer, Timestamp: tx.Timestamp, Payload: tx.Payload, Signature: tx.Signature}
	data, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Kind returns a stable tag used for logging and dispatch routing.
func (tx *Transaction) Kind() string { return string(tx.Type) }

// Sign signs the transaction's pre-signature pre-image, then computes ID
// over the now-complete transaction (signature included).
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	preimage := tx.preimageHash()
	tx.Signature = crypto.Sign(priv, []byte(preimage))
	tx.ID = tx.canonicalID()
}

// VerifySignature checks that Signer is a valid ed25519 public key, that
// Signature verifies over the pre-signature pre-image, and that ID matches
// the hash of the transaction as a whole (signature included).
// Non-retryable: callers must reject the transaction outright on error.
func (tx *Transaction) VerifySignature() error {
	if tx.Signer == "" {
		return errors.New("txn: missing signer")
	}
	pub, err := crypto.PubKeyFromHex(tx.Signer)
	if err != nil {
		return fmt.Errorf("txn: invalid signer pubkey: %w", err)
	}
	if err := crypto.Verify(pub, []byte(tx.preimageHash()), tx.Signature); err != nil {
		return fmt.Errorf("txn: %w", err)
	}
	if want := tx.canonicalID(); want != tx.ID {
		return fmt.Errorf("txn: id mismatch: got %s want %s", tx.ID, want)
	}
	return nil
}

// New builds an unsigned transaction with the current timestamp. Call Sign
// before submission.
func New(typ Type, signer string, payload any) (*Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("txn: marshal payload: %w", err)
	}
	return &Transaction{
		Type:      typ,
		Signer:    signer,
		Timestamp: time.Now().UnixMilli(),
		Payload:   raw,
	}, nil
}

// Decode unmarshals tx.Payload into the given destination, returning an
// error for malformed payloads. Unknown Type values are rejected by callers
// before Decode is ever invoked — there is no forward-compatible fallback.
func Decode[T any](tx *Transaction) (*T, error) {
	var v T
	if err := json.Unmarshal(tx.Payload, &v); err != nil {
		return nil, fmt.Errorf("txn: decode %s payload: %w", tx.Type, err)
	}
	return &v, nil
}

// ---- Payload variants ----

type CreateRepositoryPayload struct {
	Owner         string `json:"owner"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	DefaultBranch string `json:"default_branch"`
	Visibility    string `json:"visibility"`
}

type DeleteRepositoryPayload struct {
	RepoKey string `json:"repo_key"`
}

type CreateIssuePayload struct {
	RepoKey     string `json:"repo_key"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Author      string `json:"author"`
}

type CreatePullRequestPayload struct {
	RepoKey       string `json:"repo_key"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	Author        string `json:"author"`
	SourceBranch  string `json:"source_branch"`
	TargetBranch  string `json:"target_branch"`
	SourceCommit  string `json:"source_commit"`
	TargetCommit  string `json:"target_commit"`
}

type CreateOrganizationPayload struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

type CreateTeamPayload struct {
	OrgKey string `json:"org_key"`
	Name   string `json:"name"`
}

type AddTeamMemberPayload struct {
	OrgKey string `json:"org_key"`
	Team   string `json:"team"`
	Member string `json:"member"`
}

type CreateWebhookPayload struct {
	RepoKey string   `json:"repo_key"`
	URL     string   `json:"url"`
	Events  []string `json:"events"`
}

type MergePullRequestPayload struct {
	RepoKey     string `json:"repo_key"`
	PRNumber    uint64 `json:"pr_number"`
	MergeCommit string `json:"merge_commit"`
}

type CloseIssuePayload struct {
	RepoKey     string `json:"repo_key"`
	IssueNumber uint64 `json:"issue_number"`
}

type RecordCIResultPayload struct {
	RepoKey string `json:"repo_key"`
	Commit  string `json:"commit"`
	JobName string `json:"job_name"`
	Status  string `json:"status"`
}
