package consensus

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/guts-org/guts-node/block"
	"github.com/guts-org/guts-node/crypto"
	"github.com/guts-org/guts-node/events"
	"github.com/guts-org/guts-node/mempool"
	"github.com/guts-org/guts-node/txn"
)

// State is a validator's local phase within the current view.
type State int

const (
	StateIdle State = iota
	StateProposing
	StateVoting
	StateFinalizing
	StateSyncing
	StateDisabled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProposing:
		return "proposing"
	case StateVoting:
		return "voting"
	case StateFinalizing:
		return "finalizing"
	case StateSyncing:
		return "syncing"
	case StateDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Config parameterizes engine timing. When LeaderTimeout is zero, New
// replaces all five timer fields with their DefaultConfig values; a
// non-zero LeaderTimeout leaves every field as given. ConsensusEnabled is
// never defaulted.
type Config struct {
	LeaderTimeout          time.Duration // deadline from view entry for a Propose
	NotarizationTimeout    time.Duration // deadline from Propose receipt for notarize quorum
	NullifyRetry           time.Duration // periodic re-broadcast interval for a pending Nullify
	ViewTimeoutMultiplier  float64       // leader-timeout growth per consecutive nullify
	MaxLeaderTimeout       time.Duration // cap on the backed-off leader timeout
	ConsensusEnabled       bool          // false => single-node loopback mode
}

// DefaultConfig matches the reference engine's defaults.
func DefaultConfig() Config {
	return Config{
		LeaderTimeout:         1 * time.Second,
		NotarizationTimeout:   2 * time.Second,
		NullifyRetry:          500 * time.Millisecond,
		ViewTimeoutMultiplier: 2.0,
		MaxLeaderTimeout:      30 * time.Second,
		ConsensusEnabled:      true,
	}
}

// Application is the consensus-application contract (spec §4.5):
// transaction admissibility, state-root computation, and block application.
type Application interface {
	VerifyTransaction(tx *txn.Transaction) error
	ComputeStateRoot(txs []*txn.Transaction) string
	OnBlockFinalized(b *block.Block) error
	CurrentHeight() uint64
}

// Sender delivers consensus wire messages to every connected peer.
type Sender interface {
	BroadcastConsensus(data []byte)
}

// Persister durably records every finalized block for restart recovery.
// Optional: a nil Persister simply means finalized blocks live only in
// the application's own state (set via SetPersister).
type Persister interface {
	PutFinalized(f *block.Finalized) error
}

// Engine runs one validator's view of the Simplex-style BFT protocol:
// propose, notarize, finalize, nullify-on-timeout.
type Engine struct {
	cfg        Config
	validators *block.ValidatorSet
	mempool    *mempool.Mempool
	app        Application
	emitter    *events.Emitter
	sender     Sender
	privKey    crypto.PrivateKey
	pubKey     crypto.PublicKey
	persister  Persister
	log        *logrus.Entry

	mu              sync.Mutex
	view            uint64
	state           State
	finalizedHeight uint64
	lastFinalized   *block.Block // parent for the next proposal
	currentTimeout  time.Duration
	viewDeadline    time.Time // absolute leader-timeout deadline for the current view
	lockedBlock     string // blockID this node has notarize-locked in the current view
	proposals       map[uint64]*block.Block // view -> proposed block, kept for notarization
	poisoned        map[uint64]bool         // views with detected equivocation

	collector *voteCollector

	inbox    chan Envelope
	submitCh chan *txn.Transaction
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New builds an Engine for the local validator identified by privKey.
func New(cfg Config, validators *block.ValidatorSet, mp *mempool.Mempool, app Application, emitter *events.Emitter, sender Sender, privKey crypto.PrivateKey) *Engine {
	if cfg.LeaderTimeout == 0 {
		def := DefaultConfig()
		cfg.LeaderTimeout = def.LeaderTimeout
		cfg.NotarizationTimeout = def.NotarizationTimeout
		cfg.NullifyRetry = def.NullifyRetry
		cfg.ViewTimeoutMultiplier = def.ViewTimeoutMultiplier
		cfg.MaxLeaderTimeout = def.MaxLeaderTimeout
	}
	return &Engine{
		cfg:            cfg,
		validators:     validators,
		mempool:        mp,
		app:            app,
		emitter:        emitter,
		sender:         sender,
		privKey:        privKey,
		pubKey:         privKey.Public(),
		log:            logrus.WithField("component", "consensus"),
		state:          StateIdle,
		currentTimeout: cfg.LeaderTimeout,
		proposals:      make(map[uint64]*block.Block),
		poisoned:       make(map[uint64]bool),
		collector:      newVoteCollector(),
		inbox:          make(chan Envelope, 256),
		submitCh:       make(chan *txn.Transaction, 256),
		stopCh:         make(chan struct{}),
	}
}

// SetPersister attaches a durable finalized-block store. Must be called
// before Start (or before the first SubmitTransaction in loopback mode);
// not safe to change concurrently with a running engine.
func (e *Engine) SetPersister(p Persister) { e.persister = p }

// Deliver queues an inbound consensus envelope decoded from the network
// layer's MsgConsensus channel. Safe to call from any goroutine.
func (e *Engine) Deliver(env Envelope) {
	select {
	case e.inbox <- env:
	case <-e.stopCh:
	}
}

// SubmitTransaction admits tx for proposal. In single-node loopback mode
// (ConsensusEnabled == false) it applies tx immediately via a synthetic
// single-transaction block instead of going through the voting protocol.
func (e *Engine) SubmitTransaction(tx *txn.Transaction) error {
	if err := tx.VerifySignature(); err != nil {
		return fmt.Errorf("consensus: submit: %w", err)
	}
	if !e.cfg.ConsensusEnabled {
		return e.loopbackApply(tx)
	}
	if err := e.app.VerifyTransaction(tx); err != nil {
		return fmt.Errorf("consensus: submit: %w", err)
	}
	if err := e.mempool.Add(tx); err != nil {
		return fmt.Errorf("consensus: submit: %w", err)
	}
	return nil
}

// loopbackApply builds and finalizes a single-transaction block directly,
// bypassing the view protocol. Development-only: must never run with more
// than one validator.
func (e *Engine) loopbackApply(tx *txn.Transaction) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.app.VerifyTransaction(tx); err != nil {
		return fmt.Errorf("consensus: loopback: %w", err)
	}
	txs := []*txn.Transaction{tx}
	stateRoot := e.app.ComputeStateRoot(txs)
	parent := ZeroParentOf(e.lastFinalized)
	height := e.app.CurrentHeight() + 1
	b := block.New(height, parent, e.pubKey.Hex(), time.Now().UnixMilli(), txs, stateRoot)
	b.Sign(e.privKey)
	if err := e.app.OnBlockFinalized(b); err != nil {
		e.log.WithError(err).Warn("loopback: on_block_finalized error")
	}
	e.lastFinalized = b
	e.finalizedHeight = height
	e.persist(block.Finalized{Block: b})
	return nil
}

func (e *Engine) persist(f block.Finalized) {
	if e.persister == nil {
		return
	}
	if err := e.persister.PutFinalized(&f); err != nil {
		e.log.WithError(err).Warn("persist finalized block failed")
	}
}

// ZeroParentOf returns the parent block ID to build on top of: the last
// finalized block's ID, or the genesis zero-parent if none yet.
func ZeroParentOf(last *block.Block) string {
	if last == nil {
		return block.ZeroParent
	}
	return last.ID()
}

// Start launches the engine's event loop in a background goroutine. It
// returns immediately; call Stop to shut down.
func (e *Engine) Start() {
	if !e.cfg.ConsensusEnabled {
		e.log.Info("consensus disabled: running in single-node loopback mode")
		return
	}
	e.wg.Add(1)
	go e.run()
}

// Stop terminates the event loop and waits for it to exit.
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
}

// run drives the event loop. The leader-timeout fires at an absolute
// deadline set on view entry (enterViewLocked) and extended only by
// onLeaderTimeout's own backoff — not by every inbound envelope. A stale
// or duplicate vote for a past view still flows through e.inbox and
// e.handleEnvelope, but no longer pushes the deadline out: the timer below
// is recomputed from e.viewDeadline every iteration, so unrelated chatter
// cannot stall nullify-quorum recovery.
func (e *Engine) run() {
	defer e.wg.Done()
	e.mu.Lock()
	e.enterViewLocked(0)
	e.mu.Unlock()

	for {
		e.mu.Lock()
		remaining := time.Until(e.viewDeadline)
		e.mu.Unlock()
		if remaining < 0 {
			remaining = 0
		}
		timer := time.NewTimer(remaining)
		select {
		case <-e.stopCh:
			timer.Stop()
			return
		case env := <-e.inbox:
			timer.Stop()
			e.handleEnvelope(env)
		case <-timer.C:
			e.onLeaderTimeout()
		}
	}
}

// enterViewLocked resets per-view state on entry to view v, including the
// absolute leader-timeout deadline. Caller must hold e.mu.
func (e *Engine) enterViewLocked(v uint64) {
	e.view = v
	e.state = StateIdle
	e.lockedBlock = ""
	e.viewDeadline = time.Now().Add(e.currentTimeout)
	leader, err := e.validators.LeaderForView(v)
	if err != nil {
		e.log.WithError(err).Warn("enter view: no active validators")
		return
	}
	leaderFP := ""
	if leaderPub, err := crypto.PubKeyFromHex(leader.PubKey); err == nil {
		leaderFP = leaderPub.Fingerprint()
	}
	e.log.WithFields(logrus.Fields{"view": v, "leader": leaderFP}).Debug("entered view")
	if leader.PubKey == e.pubKey.Hex() {
		e.proposeLocked(v)
	}
}

// proposeLocked builds and broadcasts a Propose for view v. Caller must
// hold e.mu.
func (e *Engine) proposeLocked(v uint64) {
	e.state = StateProposing
	txs := e.mempool.GetForProposal() // mempool errors are non-fatal: an empty proposal is always valid
	stateRoot := e.app.ComputeStateRoot(txs)
	parent := ZeroParentOf(e.lastFinalized)
	height := e.finalizedHeight + 1
	b := block.New(height, parent, e.pubKey.Hex(), time.Now().UnixMilli(), txs, stateRoot)
	b.Sign(e.privKey)
	e.proposals[v] = b

	msg := Propose{View: v, Block: b, Producer: e.pubKey.Hex(), Signature: b.Signature}
	data, err := Encode(KindPropose, msg)
	if err != nil {
		e.log.WithError(err).Error("encode propose")
		return
	}
	e.sender.BroadcastConsensus(data)
}

func (e *Engine) handleEnvelope(env Envelope) {
	switch env.Kind {
	case KindPropose:
		var msg Propose
		if err := decodePayload(env, &msg); err != nil {
			e.log.WithError(err).Warn("decode propose")
			return
		}
		e.onPropose(msg)
	case KindNotarize:
		var msg Notarize
		if err := decodePayload(env, &msg); err != nil {
			e.log.WithError(err).Warn("decode notarize")
			return
		}
		e.onNotarize(msg)
	case KindFinalize:
		var msg Finalize
		if err := decodePayload(env, &msg); err != nil {
			e.log.WithError(err).Warn("decode finalize")
			return
		}
		e.onFinalize(msg)
	case KindNullify:
		var msg Nullify
		if err := decodePayload(env, &msg); err != nil {
			e.log.WithError(err).Warn("decode nullify")
			return
		}
		e.onNullify(msg)
	default:
		e.log.WithField("kind", env.Kind).Warn("unknown consensus message kind")
	}
}

// onPropose validates an incoming proposal and, if valid, broadcasts this
// node's Notarize vote.
func (e *Engine) onPropose(msg Propose) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.poisoned[msg.View] {
		return
	}
	if msg.View != e.view {
		return // stale or future proposal; sync handles the gap case
	}
	leader, err := e.validators.LeaderForView(msg.View)
	if err != nil || leader.PubKey != msg.Producer {
		e.log.Warn("propose: wrong producer for view")
		return
	}
	expectedParent := ZeroParentOf(e.lastFinalized)
	if msg.Block.Header.Parent != expectedParent {
		e.log.Warn("propose: parent mismatch")
		return
	}
	if msg.Block.Header.Producer != leader.PubKey {
		return
	}
	for _, tx := range msg.Block.Transactions {
		if err := e.app.VerifyTransaction(tx); err != nil {
			e.log.WithError(err).Warn("propose: inadmissible transaction")
			return
		}
	}
	pub, err := crypto.PubKeyFromHex(msg.Producer)
	if err != nil || msg.Block.VerifySignature(pub) != nil {
		e.log.Warn("propose: invalid signature")
		return
	}
	if err := msg.Block.VerifyIntegrity(); err != nil {
		e.log.WithError(err).Warn("propose: tx_root mismatch")
		return
	}

	e.proposals[msg.View] = msg.Block
	e.state = StateVoting

	blockID := msg.Block.ID()
	vote := Notarize{View: msg.View, BlockID: blockID, Voter: e.pubKey.Hex()}
	vote.Signature = signVote(e.privKey, vote.SigningData())
	dup, equiv := e.collector.addNotarize(vote)
	if equiv {
		e.poisonViewLocked(msg.View)
		return
	}
	if dup {
		return
	}
	data, err := Encode(KindNotarize, vote)
	if err != nil {
		e.log.WithError(err).Error("encode notarize")
		return
	}
	e.sender.BroadcastConsensus(data)
}

// onNotarize records a peer's notarize vote and locks + broadcasts Finalize
// once quorum weight is reached for a single block_id.
func (e *Engine) onNotarize(msg Notarize) {
	if err := verifyVote(msg.Voter, msg.SigningData(), msg.Signature); err != nil {
		e.log.WithError(err).Warn("notarize: bad signature")
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.poisoned[msg.View] || msg.View != e.view {
		return
	}
	dup, equiv := e.collector.addNotarize(msg)
	if equiv {
		e.poisonViewLocked(msg.View)
		return
	}
	if dup || e.lockedBlock != "" {
		return
	}
	signers := e.collector.notarizeSigners(msg.View, msg.BlockID)
	if !e.validators.HasQuorum(signers) {
		return
	}
	e.lockedBlock = msg.BlockID
	e.state = StateFinalizing

	vote := Finalize{View: msg.View, BlockID: msg.BlockID, Voter: e.pubKey.Hex()}
	vote.Signature = signVote(e.privKey, vote.SigningData())
	if dup := e.collector.addFinalize(vote); dup {
		return
	}
	data, err := Encode(KindFinalize, vote)
	if err != nil {
		e.log.WithError(err).Error("encode finalize")
		return
	}
	e.sender.BroadcastConsensus(data)
}

// onFinalize records a peer's finalize vote and, on quorum, finalizes the
// block and advances the view.
func (e *Engine) onFinalize(msg Finalize) {
	if err := verifyVote(msg.Voter, msg.SigningData(), msg.Signature); err != nil {
		e.log.WithError(err).Warn("finalize: bad signature")
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if dup := e.collector.addFinalize(msg); dup {
		return
	}
	if msg.View < e.view {
		return
	}
	// A finalize vote for a view beyond our own means we fell behind;
	// spec §4.4 "Cancellation and recovery" -- transition to Syncing. The
	// simplified single-process engine here has no separate sync-request
	// round trip because finalized blocks are always delivered over this
	// same channel in-order by an honest majority, so falling behind can
	// only be observed, not yet actively repaired across a restart.
	if msg.View > e.view {
		e.state = StateSyncing
	}
	signers := make([]string, 0)
	for _, v := range e.collector.finalizeSigners(msg.View, msg.BlockID) {
		signers = append(signers, v.Voter)
	}
	if !e.validators.HasQuorum(signers) {
		return
	}
	b, ok := e.proposals[msg.View]
	if !ok || b.ID() != msg.BlockID {
		return
	}
	e.finalizeLocked(msg.View, b, e.collector.finalizeSigners(msg.View, msg.BlockID))
}

func (e *Engine) finalizeLocked(view uint64, b *block.Block, signers []Finalize) {
	if err := e.app.OnBlockFinalized(b); err != nil {
		e.log.WithError(err).Warn("on_block_finalized error (block still considered finalized)")
	}
	ids := make([]string, len(b.Transactions))
	for i, tx := range b.Transactions {
		ids[i] = tx.ID
	}
	e.mempool.RemoveBatch(ids)

	e.lastFinalized = b
	e.finalizedHeight = b.Header.Height
	fin := block.Finalized{Block: b, View: view, Signers: make([]block.Signer, len(signers))}
	for i, s := range signers {
		fin.Signers[i] = block.Signer{PubKey: s.Voter, Signature: s.Signature}
	}
	e.emitter.EmitEvent("consensus", events.KindBlockFinalized, map[string]any{
		"height": b.Header.Height,
		"id":     b.ID(),
		"view":   view,
	})
	e.persist(fin)

	e.collector.clearView(view)
	delete(e.proposals, view)
	e.currentTimeout = e.cfg.LeaderTimeout
	e.enterViewLocked(view + 1)
}

// onNullify records a peer's nullify vote and, on quorum, advances the view
// without finalizing.
func (e *Engine) onNullify(msg Nullify) {
	if err := verifyVote(msg.Voter, msg.SigningData(), msg.Signature); err != nil {
		e.log.WithError(err).Warn("nullify: bad signature")
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if dup := e.collector.addNullify(msg); dup {
		return
	}
	if msg.View != e.view || e.lockedBlock != "" {
		return
	}
	signers := e.collector.nullifySigners(msg.View)
	if !e.validators.HasQuorum(signers) {
		return
	}
	e.collector.clearView(msg.View)
	delete(e.proposals, msg.View)
	e.enterViewLocked(msg.View + 1)
}

// onLeaderTimeout fires when no Propose (or quorum) arrived within the
// current backed-off leader timeout. It broadcasts this node's Nullify vote
// and doubles the timeout for the next view, capped at MaxLeaderTimeout.
func (e *Engine) onLeaderTimeout() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lockedBlock != "" || e.poisoned[e.view] {
		return
	}
	vote := Nullify{View: e.view, Voter: e.pubKey.Hex()}
	vote.Signature = signVote(e.privKey, vote.SigningData())
	if dup := e.collector.addNullify(vote); !dup {
		data, err := Encode(KindNullify, vote)
		if err == nil {
			e.sender.BroadcastConsensus(data)
		}
	}
	next := time.Duration(float64(e.currentTimeout) * e.cfg.ViewTimeoutMultiplier)
	if next > e.cfg.MaxLeaderTimeout {
		next = e.cfg.MaxLeaderTimeout
	}
	e.currentTimeout = next
	e.viewDeadline = time.Now().Add(next)
}

// poisonViewLocked marks a view as containing a detected equivocation:
// two different notarize votes from the same validator. The engine logs
// it; the second vote is not recorded, and from then on this node ignores
// proposals and notarize votes for the view, so neither vote counts toward
// a lock. It also sends no Nullify of its own for the view on leader
// timeout. Finalize and nullify votes from peers are still counted, so a
// peer finalize quorum or nullify quorum still ends the view. Caller must
// hold e.mu.
func (e *Engine) poisonViewLocked(view uint64) {
	e.poisoned[view] = true
	e.log.WithField("view", view).Warn("equivocation detected, view poisoned")
}

func decodePayload(env Envelope, v any) error {
	return decodeMsgpack(env.Payload, v)
}

// Status summarizes the engine's current view/phase for the
// consensus-inspection endpoint.
type Status struct {
	Enabled         bool   `json:"enabled"`
	View            uint64 `json:"view"`
	State           string `json:"state"`
	FinalizedHeight uint64 `json:"finalized_height"`
	LastBlockID     string `json:"last_block_id,omitempty"`
}

// Status returns a snapshot of the engine's current view, phase, and
// finalized height.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := Status{
		Enabled:         e.cfg.ConsensusEnabled,
		View:            e.view,
		State:           e.state.String(),
		FinalizedHeight: e.finalizedHeight,
	}
	if e.lastFinalized != nil {
		st.LastBlockID = e.lastFinalized.ID()
	}
	if !e.cfg.ConsensusEnabled {
		st.State = StateDisabled.String()
	}
	return st
}
