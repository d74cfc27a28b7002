package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ConfigBackend abstracts persistent storage of non-secret settings.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}

// fileBackend keeps settings in a flat JSON object keyed by dotted names,
// for example {"ollama.model": "gemma3:4b", "server.port": 4100}.
type fileBackend struct {
	path   string
	values map[string]any
}

func newFileBackend(path string) *fileBackend {
	b := &fileBackend{path: path, values: map[string]any{}}
	if err := b.read(); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] ignoring config file %s: %v\n", path, err)
	}
	return b
}

// configFilePath is $XDG_CONFIG_HOME/opsai/config.json, falling back to
// ~/.config.
func configFilePath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join("opsai", "config.json")
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "opsai", "config.json")
}

func (b *fileBackend) read() error {
	raw, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	values := map[string]any{}
	if err := dec.Decode(&values); err != nil {
		return fmt.Errorf("decoding: %w", err)
	}
	b.values = values
	return nil
}

// write replaces the file through a temp file so a crash never leaves a
// truncated config behind.
func (b *fileBackend) write() error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	out, err := json.MarshalIndent(b.values, "", "  ")
	if err != nil {
		return err
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, append(out, '\n'), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, b.path)
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	v, ok := b.values[key]
	if !ok || v == nil {
		return "", false, nil
	}
	s, err := stringify(v)
	if err != nil {
		return "", true, fmt.Errorf("%s: %w", key, err)
	}
	return s, true, nil
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.values[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	var raw string
	switch val := v.(type) {
	case json.Number:
		raw = val.String()
	case string:
		raw = strings.TrimSpace(val)
	default:
		return 0, true, fmt.Errorf("%s: expected an integer, got %T", key, v)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, true, fmt.Errorf("%s: %q is not an integer", key, raw)
	}
	return n, true, nil
}

func (b *fileBackend) SetString(key, val string) error {
	b.values[key] = val
	return b.write()
}

func (b *fileBackend) SetInt(key string, val int) error {
	b.values[key] = val
	return b.write()
}

func (b *fileBackend) Delete(key string) error {
	if _, ok := b.values[key]; !ok {
		return nil
	}
	delete(b.values, key)
	return b.write()
}

// stringify renders a decoded JSON value the way the matching OPSAI_* env
// var would spell it. Arrays become comma lists.
func stringify(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case json.Number:
		return val.String(), nil
	case bool:
		return strconv.FormatBool(val), nil
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			s, err := stringify(item)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, ","), nil
	default:
		return "", fmt.Errorf("unsupported value %T", v)
	}
}
