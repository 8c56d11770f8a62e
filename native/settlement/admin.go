package settlement

import (
	"math/big"

	"superswap/core/types"
)

// Initialize bootstraps the module configuration exactly once. The caller
// becomes the admin.
func (e *Engine) Initialize(admin types.Identity, params InitParams) (*Config, error) {
	if e == nil || e.configs == nil {
		return nil, ErrNilState
	}
	if _, ok, err := e.configs.Load(); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrAlreadyInitialized
	}
	cfg := &Config{
		Admin:            admin,
		Collector:        params.Collector,
		RoutingAuthority: params.RoutingAuthority,
		SourceAsset:      params.SourceAsset,
		FeeRecipient:     params.FeeRecipient,
		FeeBps:           params.FeeBps,
		Version:          1,
	}
	if err := e.configs.Save(cfg); err != nil {
		return nil, err
	}
	e.emit(NewConfigUpdatedEvent(cfg))
	return cfg.Clone(), nil
}

func (e *Engine) loadAdminConfig(caller types.Identity) (*Config, error) {
	if e == nil || e.configs == nil {
		return nil, ErrNilState
	}
	cfg, ok, err := e.configs.Load()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	if caller != cfg.Admin {
		return nil, ErrUnauthorizedAdmin
	}
	return cfg, nil
}

// UpdateConfig applies a partial configuration update. Unset patch fields are
// left untouched; the fee bound is re-checked on every update.
func (e *Engine) UpdateConfig(caller types.Identity, patch ConfigPatch) (*Config, error) {
	cfg, err := e.loadAdminConfig(caller)
	if err != nil {
		return nil, err
	}
	if err := patch.Apply(cfg); err != nil {
		return nil, err
	}
	cfg.Version++
	if err := e.configs.Save(cfg); err != nil {
		return nil, err
	}
	e.emit(NewConfigUpdatedEvent(cfg))
	return cfg.Clone(), nil
}

// Pause blocks order processing. All other operations remain available.
func (e *Engine) Pause(caller types.Identity) error {
	return e.setPaused(caller, true)
}

// Unpause resumes order processing.
func (e *Engine) Unpause(caller types.Identity) error {
	return e.setPaused(caller, false)
}

func (e *Engine) setPaused(caller types.Identity, paused bool) error {
	cfg, err := e.loadAdminConfig(caller)
	if err != nil {
		return err
	}
	if cfg.Paused == paused {
		return nil
	}
	cfg.Paused = paused
	cfg.Version++
	if err := e.configs.Save(cfg); err != nil {
		return err
	}
	e.emit(NewPauseEvent(paused, cfg.Version))
	return nil
}

// RecoverFunds sweeps a stray balance out of the holding account. Intended for
// assets stranded by external mistakes; regular settlements never leave a
// residual balance behind.
func (e *Engine) RecoverFunds(caller, asset, to types.Identity, amount uint64) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if _, err := e.loadAdminConfig(caller); err != nil {
		return err
	}
	if amount == 0 {
		return ErrInvalidAmount
	}
	if to.IsZero() {
		return ErrInvalidRecipient
	}
	if err := e.state.Transfer(e.holding, to, asset, new(big.Int).SetUint64(amount)); err != nil {
		return err
	}
	e.emit(NewFundsRecoveredEvent(asset, to, amount))
	return nil
}
