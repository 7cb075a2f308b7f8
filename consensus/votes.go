package consensus

import "sync"

// voteCollector tracks notarize, finalize, and nullify votes across views,
// keyed the way the reference protocol keys them: notarize/finalize by
// (view, block_id), nullify by view alone.
type voteCollector struct {
	mu       sync.Mutex
	notarize map[uint64]map[string][]Notarize // view -> blockID -> votes
	finalize map[uint64]map[string][]Finalize
	nullify  map[uint64][]Nullify
}

func newVoteCollector() *voteCollector {
	return &voteCollector{
		notarize: make(map[uint64]map[string][]Notarize),
		finalize: make(map[uint64]map[string][]Finalize),
		nullify:  make(map[uint64][]Nullify),
	}
}

// addNotarize records vote, rejecting a duplicate or equivocating vote from
// the same voter in the same view. dup reports an idempotent repeat (same
// vote already seen); equivocation reports a second, different block_id
// from the same voter in the same view.
func (c *voteCollector) addNotarize(vote Notarize) (dup, equivocation bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byBlock, ok := c.notarize[vote.View]
	if !ok {
		byBlock = make(map[string][]Notarize)
		c.notarize[vote.View] = byBlock
	}
	for blockID, votes := range byBlock {
		for _, v := range votes {
			if v.Voter != vote.Voter {
				continue
			}
			if blockID == vote.BlockID {
				return true, false
			}
			return false, true
		}
	}
	byBlock[vote.BlockID] = append(byBlock[vote.BlockID], vote)
	return false, false
}

func (c *voteCollector) addFinalize(vote Finalize) (dup bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byBlock, ok := c.finalize[vote.View]
	if !ok {
		byBlock = make(map[string][]Finalize)
		c.finalize[vote.View] = byBlock
	}
	for _, v := range byBlock[vote.BlockID] {
		if v.Voter == vote.Voter {
			return true
		}
	}
	byBlock[vote.BlockID] = append(byBlock[vote.BlockID], vote)
	return false
}

func (c *voteCollector) addNullify(vote Nullify) (dup bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range c.nullify[vote.View] {
		if v.Voter == vote.Voter {
			return true
		}
	}
	c.nullify[vote.View] = append(c.nullify[vote.View], vote)
	return false
}

// notarizeSigners returns the voter pubkeys recorded for (view, blockID).
func (c *voteCollector) notarizeSigners(view uint64, blockID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	votes := c.notarize[view][blockID]
	out := make([]string, len(votes))
	for i, v := range votes {
		out[i] = v.Voter
	}
	return out
}

func (c *voteCollector) finalizeSigners(view uint64, blockID string) []Finalize {
	c.mu.Lock()
	defer c.mu.Unlock()
	votes := c.finalize[view][blockID]
	out := make([]Finalize, len(votes))
	copy(out, votes)
	return out
}

func (c *voteCollector) nullifySigners(view uint64) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	votes := c.nullify[view]
	out := make([]string, len(votes))
	for i, v := range votes {
		out[i] = v.Voter
	}
	return out
}

// clearView drops vote-bookkeeping for a view once it has finalized or
// nullified. Block-indexed notarize/finalize votes are kept as historical
// proof of finalization, matching the reference collector.
func (c *voteCollector) clearView(view uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.nullify, view)
}
