package config

import (
	"fmt"
	"slices"
)

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// public yields the key specs that may be shown and persisted.
func public() []keySpec {
	return slices.DeleteFunc(slices.Clone(specs), func(s keySpec) bool { return s.secret })
}

func lookupSpec(key string) (keySpec, error) {
	i := slices.IndexFunc(specs, func(s keySpec) bool { return s.key == key })
	if i < 0 {
		return keySpec{}, fmt.Errorf("unknown config key: %q", key)
	}
	s := specs[i]
	if s.secret {
		return keySpec{}, fmt.Errorf("%s is secret; set it with the %s environment variable", key, s.env)
	}
	return s, nil
}

// ShowAll lists the effective value of every non-secret key.
func ShowAll(cfg Config) []KeyInfo {
	var out []KeyInfo
	for _, s := range public() {
		out = append(out, KeyInfo{Key: s.key, EnvVar: s.env, Value: fmt.Sprint(s.extract(cfg))})
	}
	return out
}

// SetKey validates value against the key type and persists it to the config
// file.
func SetKey(key, value string) error {
	return setKey(newFileBackend(configFilePath()), key, value)
}

// UnsetKey removes a key from the config file so its default applies again.
func UnsetKey(key string) error {
	return unsetKey(newFileBackend(configFilePath()), key)
}

func setKey(b ConfigBackend, key, value string) error {
	s, err := lookupSpec(key)
	if err != nil {
		return err
	}
	v, err := s.parse(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if n, ok := v.(int); ok {
		return b.SetInt(key, n)
	}
	return b.SetString(key, value)
}

func unsetKey(b ConfigBackend, key string) error {
	if _, err := lookupSpec(key); err != nil {
		return err
	}
	return b.Delete(key)
}

// ValidKeys returns the names accepted by SetKey.
func ValidKeys() []string {
	var keys []string
	for _, s := range public() {
		keys = append(keys, s.key)
	}
	return keys
}
