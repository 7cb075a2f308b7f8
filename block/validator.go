package block

import (
	"fmt"
	"sort"
	"sync"
)

// Validator is one member of the consensus validator set.
type Validator struct {
	PubKey      string `json:"pubkey"`
	Name        string `json:"name"`
	Weight      uint64 `json:"weight"`
	Address     string `json:"address"` // network address for P2P/consensus transport
	JoinedEpoch uint64 `json:"joined_epoch"`
	Active      bool   `json:"active"`
}

// ValidatorSetConfig bounds and parameterizes a ValidatorSet.
type ValidatorSetConfig struct {
	MinValidators   int
	MaxValidators   int
	QuorumThreshold float64 // fraction of active weight, default 2/3
	BlockTimeMs     int64
}

// DefaultValidatorSetConfig matches the reference implementation's defaults.
func DefaultValidatorSetConfig() ValidatorSetConfig {
	return ValidatorSetConfig{
		MinValidators:   4,
		MaxValidators:   100,
		QuorumThreshold: 2.0 / 3.0,
		BlockTimeMs:     2000,
	}
}

// ValidatorSet is the weighted set of validators active at a given epoch.
// Active-validator iteration is sorted by public key (hex) so every node
// computes the same leader rotation and quorum membership — a deliberate
// determinism requirement that deviates from an unsorted insertion-order
// iteration.
type ValidatorSet struct {
	mu         sync.RWMutex
	Epoch      uint64
	validators map[string]*Validator // keyed by pubkey
	cfg        ValidatorSetConfig
}

// NewValidatorSet builds a set at the given epoch with cfg.
func NewValidatorSet(epoch uint64, cfg ValidatorSetConfig) *ValidatorSet {
	if cfg.QuorumThreshold == 0 {
		cfg.QuorumThreshold = 2.0 / 3.0
	}
	return &ValidatorSet{Epoch: epoch, validators: make(map[string]*Validator), cfg: cfg}
}

// GenesisValidatorSet builds a ValidatorSet at epoch 0 from the given
// validators, all marked active.
func GenesisValidatorSet(cfg ValidatorSetConfig, vs []Validator) (*ValidatorSet, error) {
	set := NewValidatorSet(0, cfg)
	for _, v := range vs {
		v.Active = true
		v.JoinedEpoch = 0
		if err := set.add(v); err != nil {
			return nil, err
		}
	}
	if len(set.validators) < cfg.MinValidators {
		return nil, fmt.Errorf("block: genesis validator set has %d members, need at least %d", len(set.validators), cfg.MinValidators)
	}
	return set, nil
}

func (s *ValidatorSet) add(v Validator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.validators[v.PubKey]; exists {
		return fmt.Errorf("block: duplicate validator pubkey %s", v.PubKey)
	}
	if len(s.validators) >= s.cfg.MaxValidators {
		return fmt.Errorf("block: validator set at max capacity %d", s.cfg.MaxValidators)
	}
	vv := v
	s.validators[v.PubKey] = &vv
	return nil
}

// Get returns the validator for pubkey, if present.
func (s *ValidatorSet) Get(pubkey string) (Validator, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.validators[pubkey]
	if !ok {
		return Validator{}, false
	}
	return *v, true
}

// IsValidator reports set membership regardless of Active.
func (s *ValidatorSet) IsValidator(pubkey string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.validators[pubkey]
	return ok
}

// IsActiveValidator reports set membership with Active == true.
func (s *ValidatorSet) IsActiveValidator(pubkey string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.validators[pubkey]
	return ok && v.Active
}

// sortedActiveLocked returns active validators sorted by pubkey hex. Caller
// must hold s.mu (read or write).
func (s *ValidatorSet) sortedActiveLocked() []*Validator {
	active := make([]*Validator, 0, len(s.validators))
	for _, v := range s.validators {
		if v.Active {
			active = append(active, v)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].PubKey < active[j].PubKey })
	return active
}

// TotalWeight sums weight over every validator, active or not.
func (s *ValidatorSet) TotalWeight() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total uint64
	for _, v := range s.validators {
		total += v.Weight
	}
	return total
}

// ActiveWeight sums weight over active validators only.
func (s *ValidatorSet) ActiveWeight() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total uint64
	for _, v := range s.validators {
		if v.Active {
			total += v.Weight
		}
	}
	return total
}

// QuorumWeight returns ceil(threshold * active_weight).
func (s *ValidatorSet) QuorumWeight() uint64 {
	aw := s.ActiveWeight()
	return ceilFrac(aw, s.cfg.QuorumThreshold)
}

// MaxByzantineWeight returns floor(active_weight / 3), the maximum weight
// of validators that can misbehave while preserving safety.
func (s *ValidatorSet) MaxByzantineWeight() uint64 {
	return s.ActiveWeight() / 3
}

func ceilFrac(total uint64, frac float64) uint64 {
	v := float64(total) * frac
	iv := uint64(v)
	if float64(iv) < v {
		iv++
	}
	return iv
}

// LeaderForView returns the deterministic leader for view v: active
// validators sorted by pubkey, indexed by v mod len(active).
func (s *ValidatorSet) LeaderForView(v uint64) (Validator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	active := s.sortedActiveLocked()
	if len(active) == 0 {
		return Validator{}, fmt.Errorf("block: no active validators")
	}
	return *active[v%uint64(len(active))], nil
}

// HasQuorum reports whether the weight of active validators among signers
// meets or exceeds QuorumWeight.
func (s *ValidatorSet) HasQuorum(signers []string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var weight uint64
	seen := make(map[string]struct{}, len(signers))
	for _, pk := range signers {
		if _, dup := seen[pk]; dup {
			continue
		}
		seen[pk] = struct{}{}
		if v, ok := s.validators[pk]; ok && v.Active {
			weight += v.Weight
		}
	}
	threshold := ceilFracLocked(s.cfg.QuorumThreshold, s.validators)
	return weight >= threshold
}

func ceilFracLocked(frac float64, validators map[string]*Validator) uint64 {
	var aw uint64
	for _, v := range validators {
		if v.Active {
			aw += v.Weight
		}
	}
	return ceilFrac(aw, frac)
}

// ActiveAddresses returns the network addresses of active validators,
// sorted by pubkey for determinism.
func (s *ValidatorSet) ActiveAddresses() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	active := s.sortedActiveLocked()
	out := make([]string, len(active))
	for i, v := range active {
		out[i] = v.Address
	}
	return out
}

// ActivePubKeys returns active validators' public keys, sorted.
func (s *ValidatorSet) ActivePubKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	active := s.sortedActiveLocked()
	out := make([]string, len(active))
	for i, v := range active {
		out[i] = v.PubKey
	}
	return out
}

// Snapshot returns a sorted copy of every validator, active or not, for
// the consensus-inspection endpoint.
func (s *ValidatorSet) Snapshot() []Validator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Validator, 0, len(s.validators))
	for _, v := range s.validators {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PubKey < out[j].PubKey })
	return out
}

// Count returns the total number of validators (active and inactive).
func (s *ValidatorSet) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.validators)
}
