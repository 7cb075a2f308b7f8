package consensus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/guts-org/guts-node/block"
	"github.com/guts-org/guts-node/crypto"
	"github.com/guts-org/guts-node/events"
	"github.com/guts-org/guts-node/mempool"
	"github.com/guts-org/guts-node/txn"
)

// fakeApp is a minimal Application: every transaction is admissible, state
// root is constant, and finalization is observable via finalized.
type fakeApp struct {
	finalized []*block.Block
}

func (a *fakeApp) VerifyTransaction(tx *txn.Transaction) error { return nil }
func (a *fakeApp) ComputeStateRoot(txs []*txn.Transaction) string { return "" }
func (a *fakeApp) OnBlockFinalized(b *block.Block) error {
	a.finalized = append(a.finalized, b)
	return nil
}
func (a *fakeApp) CurrentHeight() uint64 { return uint64(len(a.finalized)) }

// capturingSender records every broadcast, and optionally loops it back
// into an engine to simulate a single-process network.
type capturingSender struct {
	mu   sync.Mutex
	sent [][]byte
	loop *Engine
}

func (s *capturingSender) BroadcastConsensus(data []byte) {
	s.mu.Lock()
	s.sent = append(s.sent, data)
	s.mu.Unlock()
	if s.loop != nil {
		env, err := DecodeEnvelope(data)
		if err == nil {
			s.loop.Deliver(env)
		}
	}
}

func (s *capturingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *capturingSender) last() (Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return DecodeEnvelope(s.sent[len(s.sent)-1])
}

func newSoloValidatorSet(t *testing.T, pub crypto.PublicKey) *block.ValidatorSet {
	t.Helper()
	set, err := block.GenesisValidatorSet(block.ValidatorSetConfig{
		MinValidators:   1,
		MaxValidators:   10,
		QuorumThreshold: 2.0 / 3.0,
	}, []block.Validator{{PubKey: pub.Hex(), Weight: 1}})
	require.NoError(t, err)
	return set
}

func TestSoloValidatorProposeNotarizeFinalizeRoundTrip(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	validators := newSoloValidatorSet(t, pub)

	app := &fakeApp{}
	mp := mempool.New(mempool.Config{})
	emitter := events.NewEmitter()
	sender := &capturingSender{}

	cfg := Config{
		LeaderTimeout:         time.Second,
		NotarizationTimeout:   time.Second,
		NullifyRetry:          time.Second,
		ViewTimeoutMultiplier: 2.0,
		MaxLeaderTimeout:      time.Second,
		ConsensusEnabled:      true,
	}
	e := New(cfg, validators, mp, app, emitter, sender, priv)
	sender.loop = e

	e.Start()
	defer e.Stop()

	require.Eventually(t, func() bool {
		return len(app.finalized) == 1
	}, 2*time.Second, 5*time.Millisecond, "solo validator should finalize its own proposal")

	require.Equal(t, uint64(1), e.Status().FinalizedHeight)
}

// TestLeaderTimeoutNotResetByUnrelatedEnvelopes pins the absolute,
// from-view-entry leader-timeout deadline: a flood of envelopes that do not
// advance the current view (stale votes for a different view) must not
// push the Nullify deadline out.
func TestLeaderTimeoutNotResetByUnrelatedEnvelopes(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	// A second validator makes the engine-under-test a non-leader for
	// view 0, so it only ever nullifies on timeout instead of proposing.
	otherPriv, otherPub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	set, err := block.GenesisValidatorSet(block.ValidatorSetConfig{
		MinValidators:   1,
		MaxValidators:   10,
		QuorumThreshold: 2.0 / 3.0,
	}, []block.Validator{
		{PubKey: pub.Hex(), Weight: 1},
		{PubKey: otherPub.Hex(), Weight: 1},
	})
	require.NoError(t, err)

	leader, err := set.LeaderForView(0)
	require.NoError(t, err)
	enginePriv, enginePub := priv, pub
	if leader.PubKey == pub.Hex() {
		// The generated key happened to be the leader; swap so the
		// engine under test is the non-leader instead.
		enginePriv, enginePub = otherPriv, otherPub
	}
	_ = enginePub

	app := &fakeApp{}
	mp := mempool.New(mempool.Config{})
	emitter := events.NewEmitter()
	sender := &capturingSender{}

	const leaderTimeout = 60 * time.Millisecond
	cfg := Config{
		LeaderTimeout:         leaderTimeout,
		NotarizationTimeout:   time.Second,
		NullifyRetry:          time.Second,
		ViewTimeoutMultiplier: 2.0,
		MaxLeaderTimeout:      time.Second,
		ConsensusEnabled:      true,
	}
	e := New(cfg, set, mp, app, emitter, sender, enginePriv)

	start := time.Now()
	e.Start()
	defer e.Stop()

	// Flood the engine with a stale Notarize vote for an unrelated view,
	// faster than leaderTimeout, for well beyond leaderTimeout. Under the
	// old relative-timer-reset behavior this would starve the Nullify
	// indefinitely; under the fixed absolute deadline it must not.
	floodPriv, floodPub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	stale := Notarize{View: 999, BlockID: "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef", Voter: floodPub.Hex()}
	stale.Signature = signVote(floodPriv, stale.SigningData())
	staleData, err := Encode(KindNotarize, stale)
	require.NoError(t, err)
	staleEnv, err := DecodeEnvelope(staleData)
	require.NoError(t, err)

	stop := time.After(3 * leaderTimeout)
	ticker := time.NewTicker(leaderTimeout / 10)
	defer ticker.Stop()
floodLoop:
	for {
		select {
		case <-stop:
			break floodLoop
		case <-ticker.C:
			e.Deliver(staleEnv)
		}
	}

	require.Eventually(t, func() bool {
		for i := 0; i < sender.count(); i++ {
			env, err := DecodeEnvelope(sender.sent[i])
			if err == nil && env.Kind == KindNullify {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond, "nullify must still fire despite unrelated envelope traffic")

	elapsed := time.Since(start)
	require.Less(t, elapsed, 4*leaderTimeout, "nullify should fire near the original deadline, not be pushed out by unrelated envelopes")
}

func TestOnLeaderTimeoutGrowsBackoffUpToMax(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	validators := newSoloValidatorSet(t, pub)

	app := &fakeApp{}
	mp := mempool.New(mempool.Config{})
	emitter := events.NewEmitter()
	sender := &capturingSender{}

	cfg := Config{
		LeaderTimeout:         10 * time.Millisecond,
		NotarizationTimeout:   time.Second,
		NullifyRetry:          time.Second,
		ViewTimeoutMultiplier: 2.0,
		MaxLeaderTimeout:      25 * time.Millisecond,
		ConsensusEnabled:      true,
	}
	e := New(cfg, validators, mp, app, emitter, sender, priv)
	// The engine is never started: each onLeaderTimeout call only records
	// and broadcasts this node's Nullify and runs the backoff arithmetic.
	e.mu.Lock()
	e.currentTimeout = cfg.LeaderTimeout
	e.mu.Unlock()

	e.onLeaderTimeout()
	e.mu.Lock()
	first := e.currentTimeout
	e.mu.Unlock()
	require.Equal(t, 20*time.Millisecond, first)

	e.onLeaderTimeout()
	e.mu.Lock()
	second := e.currentTimeout
	e.mu.Unlock()
	require.Equal(t, cfg.MaxLeaderTimeout, second, "backoff must cap at MaxLeaderTimeout")
}

func TestSubmitTransactionLoopbackModeFinalizesImmediately(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	validators := newSoloValidatorSet(t, pub)

	app := &fakeApp{}
	mp := mempool.New(mempool.Config{})
	emitter := events.NewEmitter()
	sender := &capturingSender{}

	cfg := Config{ConsensusEnabled: false}
	e := New(cfg, validators, mp, app, emitter, sender, priv)
	e.Start() // no-op in loopback mode

	tx, err := txn.New(txn.CreateRepository, pub.Hex(), txn.CreateRepositoryPayload{
		Owner: "alice", Name: "repo", DefaultBranch: "main", Visibility: "public",
	})
	require.NoError(t, err)
	tx.Sign(priv)

	require.NoError(t, e.SubmitTransaction(tx))
	require.Len(t, app.finalized, 1)
	require.Equal(t, "disabled", e.Status().State)
}
