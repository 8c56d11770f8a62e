package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"superswap/core/types"
)

// APIKey pairs an API key identifier with its shared HMAC secret and the
// on-ledger identity requests signed with that key act as.
type APIKey struct {
	Key      string `yaml:"key"`
	Secret   string `yaml:"secret"`
	Identity string `yaml:"identity"`
}

// APIKeySet is the parsed contents of the API keys file.
type APIKeySet []APIKey

type apiKeysFile struct {
	Keys []APIKey `yaml:"keys"`
}

// LoadAPIKeys reads the API keys file. A blank path yields an empty set.
func LoadAPIKeys(path string) (APIKeySet, error) {
	if strings.TrimSpace(path) == "" {
		return APIKeySet{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read api keys: %w", err)
	}
	var parsed apiKeysFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("config: parse api keys: %w", err)
	}
	seen := make(map[string]struct{}, len(parsed.Keys))
	for i, entry := range parsed.Keys {
		key := strings.TrimSpace(entry.Key)
		if key == "" || strings.TrimSpace(entry.Secret) == "" {
			return nil, fmt.Errorf("config: api key entry %d is incomplete", i)
		}
		if _, exists := seen[key]; exists {
			return nil, fmt.Errorf("config: duplicate api key %q", key)
		}
		seen[key] = struct{}{}
		if entry.Identity != "" {
			if _, err := types.ParseIdentity(entry.Identity); err != nil {
				return nil, fmt.Errorf("config: api key %q identity: %w", key, err)
			}
		}
	}
	return APIKeySet(parsed.Keys), nil
}

// Secrets returns the key to secret mapping consumed by the authenticator.
func (s APIKeySet) Secrets() map[string]string {
	secrets := make(map[string]string, len(s))
	for _, entry := range s {
		secrets[strings.TrimSpace(entry.Key)] = strings.TrimSpace(entry.Secret)
	}
	return secrets
}

// Identities returns the key to ledger identity mapping. Keys without an
// identity are omitted and cannot submit orders.
func (s APIKeySet) Identities() map[string]types.Identity {
	identities := make(map[string]types.Identity, len(s))
	for _, entry := range s {
		if strings.TrimSpace(entry.Identity) == "" {
			continue
		}
		id, err := types.ParseIdentity(entry.Identity)
		if err != nil {
			continue
		}
		identities[strings.TrimSpace(entry.Key)] = id
	}
	return identities
}
