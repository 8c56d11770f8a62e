package settlement

import "superswap/core/types"

type storedConfig struct {
	Admin            [32]byte
	Collector        [32]byte
	RoutingAuthority [32]byte
	SourceAsset      [32]byte
	FeeRecipient     [32]byte
	FeeBps           uint32
	Paused           bool
	Version          uint64
}

// ConfigStore persists the module's singleton configuration record.
type ConfigStore struct {
	store Storage
}

// NewConfigStore constructs a store bound to the provided storage backend.
func NewConfigStore(store Storage) *ConfigStore {
	return &ConfigStore{store: store}
}

// Load returns the persisted configuration, reporting whether it exists.
func (s *ConfigStore) Load() (*Config, bool, error) {
	if s == nil || s.store == nil {
		return nil, false, ErrNilState
	}
	var stored storedConfig
	ok, err := s.store.KVGet(configRecordKey, &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &Config{
		Admin:            types.Identity(stored.Admin),
		Collector:        types.Identity(stored.Collector),
		RoutingAuthority: types.Identity(stored.RoutingAuthority),
		SourceAsset:      types.Identity(stored.SourceAsset),
		FeeRecipient:     types.Identity(stored.FeeRecipient),
		FeeBps:           stored.FeeBps,
		Paused:           stored.Paused,
		Version:          stored.Version,
	}, true, nil
}

// Save validates and persists the configuration record.
func (s *ConfigStore) Save(cfg *Config) error {
	if s == nil || s.store == nil {
		return ErrNilState
	}
	sanitized, err := SanitizeConfig(cfg)
	if err != nil {
		return err
	}
	return s.store.KVPut(configRecordKey, storedConfig{
		Admin:            sanitized.Admin,
		Collector:        sanitized.Collector,
		RoutingAuthority: sanitized.RoutingAuthority,
		SourceAsset:      sanitized.SourceAsset,
		FeeRecipient:     sanitized.FeeRecipient,
		FeeBps:           sanitized.FeeBps,
		Paused:           sanitized.Paused,
		Version:          sanitized.Version,
	})
}
