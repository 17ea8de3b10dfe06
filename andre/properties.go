package andre

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"
)

// Property keys
const (
	propNameRestriction   = "name_restriction"
	propStatusRotation    = "enable_bg_game_rotation"
	propBanlist           = "banlist"
	propMALEmbedTemplate  = "mal_embed_template"
	propRestarting        = "restarting"
	propRestartingChannel = "restarting_channel"
	propRestartingTime    = "restarting_time"
	propAvatarChangeTime  = "avatar_change_time"
	propLastBirthdayCheck = "last_birthday_check"
	propVNDBAliases       = "vndb_aliases"
)

// DefaultMALEmbedTemplate is used by `!mal` when mal_embed_template
// isn't set. <username> is replaced with the MAL name.
const DefaultMALEmbedTemplate = " https://www.malembed.tk/<username>"

// Properties is a small JSON key/value store persisted to a single file.
// Every write rewrites the whole file.
type Properties struct {
	path string
	mu   sync.Mutex
}

func NewProperties(path string) *Properties {
	return &Properties{path: path}
}

func (p *Properties) Path() string {
	return p.path
}

func (p *Properties) load() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading properties: %w", err)
	}
	props := map[string]json.RawMessage{}
	if len(bytes.TrimSpace(data)) == 0 {
		return props, nil
	}
	if err = json.Unmarshal(data, &props); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", p.path, err)
	}
	return props, nil
}

func (p *Properties) store(props map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(props, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(p.path)
	if err = os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".properties-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, p.path)
}

// Read decodes the named property into dst. It returns false if the
// property isn't set.
func (p *Properties) Read(name string, dst any) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	props, err := p.load()
	if err != nil {
		return false, err
	}
	raw, ok := props[name]
	if !ok || string(raw) == "null" {
		return false, nil
	}
	if err = json.Unmarshal(raw, dst); err != nil {
		return true, fmt.Errorf("decoding property %q: %w", name, err)
	}
	return true, nil
}

// Write sets a single property
func (p *Properties) Write(name string, value any) error {
	return p.WriteMany(map[string]any{name: value})
}

// WriteMany sets several properties at once. A nil value deletes
// the property.
func (p *Properties) WriteMany(values map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	props, err := p.load()
	if err != nil {
		return err
	}
	for name, v := range values {
		if v == nil {
			delete(props, name)
			continue
		}
		raw, e := json.Marshal(v)
		if e != nil {
			return fmt.Errorf("encoding property %q: %w", name, e)
		}
		props[name] = raw
	}
	return p.store(props)
}

func (p *Properties) Delete(name string) error {
	return p.WriteMany(map[string]any{name: nil})
}

// All returns every property, undecoded
func (p *Properties) All() (map[string]json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.load()
}

// readBool reads a boolean property, returning def when unset or invalid
func (p *Properties) readBool(name string, def bool) bool {
	var v bool
	ok, err := p.Read(name, &v)
	if !ok || err != nil {
		return def
	}
	return v
}
