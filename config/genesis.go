package config

import (
	"time"

	"github.com/guts-org/guts-node/block"
)

// BuildValidatorSet constructs the genesis ValidatorSet from cfg.Genesis.
func BuildValidatorSet(cfg *Config) (*block.ValidatorSet, error) {
	vsCfg := block.ValidatorSetConfig{
		MinValidators:   cfg.Genesis.MinValidators,
		MaxValidators:   cfg.Genesis.MaxValidators,
		QuorumThreshold: cfg.Genesis.QuorumThreshold,
		BlockTimeMs:     cfg.Genesis.BlockTimeMs,
	}
	if vsCfg.MinValidators == 0 {
		vsCfg.MinValidators = 1
	}
	if vsCfg.MaxValidators == 0 {
		vsCfg.MaxValidators = 100
	}
	if vsCfg.BlockTimeMs == 0 {
		vsCfg.BlockTimeMs = 2000
	}
	validators := make([]block.Validator, len(cfg.Genesis.Validators))
	for i, v := range cfg.Genesis.Validators {
		validators[i] = block.Validator{
			PubKey:  v.PubKey,
			Name:    v.Name,
			Weight:  v.Weight,
			Address: v.Address,
		}
	}
	return block.GenesisValidatorSet(vsCfg, validators)
}

// BuildGenesisBlock builds the unsigned height-0 block: zero parent, no
// transactions, the given state root (from app.ComputeStateRoot over an
// empty registry).
func BuildGenesisBlock(producerPubKeyHex, stateRoot string) *block.Block {
	return block.Genesis(producerPubKeyHex, time.Now().UnixMilli(), stateRoot)
}
