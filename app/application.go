// Package app implements the consensus application (spec §4.5): the
// state machine that validates and applies finalized transactions against
// the repository registry.
package app

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/guts-org/guts-node/block"
	"github.com/guts-org/guts-node/crypto"
	"github.com/guts-org/guts-node/events"
	"github.com/guts-org/guts-node/repo"
	"github.com/guts-org/guts-node/txn"
)

// Context is passed to every Handler and provides access to the
// repository registry, the finalizing block, the triggering transaction,
// and the event emitter.
type Context struct {
	Registry *repo.Registry
	Block    *block.Block
	Tx       *txn.Transaction
	Emitter  *events.Emitter
}

// Application applies finalized blocks to the repository registry. It
// satisfies consensus.Application.
type Application struct {
	mu       sync.RWMutex
	registry *repo.Registry
	emitter  *events.Emitter
	height   uint64
	log      *logrus.Entry
}

// New builds an Application over registry, emitting real-time events
// through emitter.
func New(registry *repo.Registry, emitter *events.Emitter) *Application {
	return &Application{
		registry: registry,
		emitter:  emitter,
		log:      logrus.WithField("component", "app"),
	}
}

// CurrentHeight returns the height of the last applied block.
func (a *Application) CurrentHeight() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.height
}

// ComputeStateRoot returns a 32-byte-equivalent hex digest deterministic
// over (height+1, the sorted set of repository keys, and each repository's
// current HEAD target) — the chosen resolution of the state-root open
// question (spec §9): every node computing this from identical registry
// state converges on the same root without needing to walk object
// contents, while still reacting to repository creation/deletion and ref
// movement.
func (a *Application) ComputeStateRoot(txs []*txn.Transaction) string {
	a.mu.RLock()
	height := a.height + 1
	a.mu.RUnlock()

	keys := a.registry.AllKeysSorted()
	var b strings.Builder
	fmt.Fprintf(&b, "%d", height)
	for _, key := range keys {
		b.WriteByte('\n')
		b.WriteString(key)
		r, err := a.registry.Get(key, false)
		if err != nil {
			continue
		}
		head, err := r.Refs.ResolveHEAD()
		if err == nil {
			b.WriteByte(':')
			b.WriteString(string(head))
		}
	}
	return crypto.Hash([]byte(b.String()))
}

// VerifyTransaction reports whether tx is admissible against the current
// registry state, without mutating it.
func (a *Application) VerifyTransaction(tx *txn.Transaction) error {
	if err := tx.VerifySignature(); err != nil {
		return err
	}
	switch tx.Type {
	case txn.CreateRepository:
		p, err := txn.Decode[txn.CreateRepositoryPayload](tx)
		if err != nil {
			return err
		}
		key := p.Owner + "/" + p.Name
		if _, err := a.registry.Get(key, false); err == nil {
			return fmt.Errorf("app: repository %s already exists", key)
		}
		return nil

	case txn.DeleteRepository:
		p, err := txn.Decode[txn.DeleteRepositoryPayload](tx)
		if err != nil {
			return err
		}
		return a.mustExist(p.RepoKey)

	case txn.CreateIssue:
		p, err := txn.Decode[txn.CreateIssuePayload](tx)
		if err != nil {
			return err
		}
		return a.mustExist(p.RepoKey)

	case txn.CreatePullRequest:
		p, err := txn.Decode[txn.CreatePullRequestPayload](tx)
		if err != nil {
			return err
		}
		return a.mustExist(p.RepoKey)

	case txn.CreateOrganization:
		p, err := txn.Decode[txn.CreateOrganizationPayload](tx)
		if err != nil {
			return err
		}
		if _, err := a.registry.GetOrganization(p.Name); err == nil {
			return fmt.Errorf("app: organization %s already exists", p.Name)
		}
		return nil

	case txn.CreateTeam:
		p, err := txn.Decode[txn.CreateTeamPayload](tx)
		if err != nil {
			return err
		}
		org, err := a.registry.GetOrganization(p.OrgKey)
		if err != nil {
			return err
		}
		if _, exists := org.Team(p.Name); exists {
			return fmt.Errorf("app: team %s already exists in %s", p.Name, p.OrgKey)
		}
		return nil

	case txn.AddTeamMember:
		p, err := txn.Decode[txn.AddTeamMemberPayload](tx)
		if err != nil {
			return err
		}
		org, err := a.registry.GetOrganization(p.OrgKey)
		if err != nil {
			return err
		}
		if _, exists := org.Team(p.Team); !exists {
			return fmt.Errorf("app: team %s not found in %s", p.Team, p.OrgKey)
		}
		return nil

	case txn.CreateWebhook:
		p, err := txn.Decode[txn.CreateWebhookPayload](tx)
		if err != nil {
			return err
		}
		return a.mustExist(p.RepoKey)

	case txn.MergePullRequest:
		p, err := txn.Decode[txn.MergePullRequestPayload](tx)
		if err != nil {
			return err
		}
		r, err := a.registry.Get(p.RepoKey, false)
		if err != nil {
			return err
		}
		pr, ok := r.PullRequest(p.PRNumber)
		if !ok {
			return fmt.Errorf("app: pull request #%d not found in %s", p.PRNumber, p.RepoKey)
		}
		if pr.Merged {
			return fmt.Errorf("app: pull request #%d already merged", p.PRNumber)
		}
		return nil

	case txn.CloseIssue:
		p, err := txn.Decode[txn.CloseIssuePayload](tx)
		if err != nil {
			return err
		}
		r, err := a.registry.Get(p.RepoKey, false)
		if err != nil {
			return err
		}
		iss, ok := r.Issue(p.IssueNumber)
		if !ok {
			return fmt.Errorf("app: issue #%d not found in %s", p.IssueNumber, p.RepoKey)
		}
		if iss.Closed {
			return fmt.Errorf("app: issue #%d already closed", p.IssueNumber)
		}
		return nil

	case txn.RecordCIResult:
		p, err := txn.Decode[txn.RecordCIResultPayload](tx)
		if err != nil {
			return err
		}
		return a.mustExist(p.RepoKey)

	default:
		return fmt.Errorf("app: unknown transaction type %q", tx.Type)
	}
}

func (a *Application) mustExist(repoKey string) error {
	r, err := a.registry.Get(repoKey, false)
	if err != nil {
		return err
	}
	if r.Deleted {
		return fmt.Errorf("app: repository %s is deleted", repoKey)
	}
	return nil
}

// OnBlockFinalized applies every transaction in b, in order, updates
// height, and emits a real-time event per successful apply. Per-transaction
// errors are logged but do not halt block application — verify_transaction
// earlier is the only admission gate (spec §4.4 failure semantics).
func (a *Application) OnBlockFinalized(b *block.Block) error {
	for _, tx := range b.Transactions {
		ctx := &Context{Registry: a.registry, Block: b, Tx: tx, Emitter: a.emitter}
		if err := globalHandlers.Execute(tx.Type, ctx, tx.Payload); err != nil {
			a.log.WithFields(logrus.Fields{"tx": tx.ID, "type": tx.Type}).Warnf("apply transaction failed: %v", err)
			continue
		}
	}
	a.mu.Lock()
	a.height = b.Header.Height
	a.mu.Unlock()
	return nil
}

