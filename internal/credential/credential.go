// Package credential resolves the service API key from layered sources.
package credential

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// BuildKey is baked in at build time:
//
//	go build -ldflags "-X github.com/christian-lee/tutorvoice/internal/credential.BuildKey=..."
var BuildKey string

// ErrMissing is returned when no layer yields a key.
var ErrMissing = errors.New("missing credential")

// Layer is one source of the key. Get returns "" when the source has none.
type Layer struct {
	Name string
	Get  func() (string, error)
}

// Static is a layer with a fixed value.
func Static(name, value string) Layer {
	return Layer{Name: name, Get: func() (string, error) { return value, nil }}
}

// SettingReader is the persisted-settings view the resolver needs.
type SettingReader interface {
	Setting(key string) (string, error)
}

// Persisted reads key from a settings store.
func Persisted(st SettingReader, key string) Layer {
	return Layer{Name: "persisted", Get: func() (string, error) { return st.Setting(key) }}
}

// Resolver checks layers in order and returns the first non-empty key.
type Resolver struct {
	layers []Layer
}

func NewResolver(layers ...Layer) *Resolver {
	return &Resolver{layers: layers}
}

// Resolve returns the key and the name of the layer that supplied it.
// A failing layer is logged and skipped.
func (r *Resolver) Resolve() (key, source string, err error) {
	for _, l := range r.layers {
		v, err := l.Get()
		if err != nil {
			slog.Warn("credential source failed", "source", l.Name, "err", err)
			continue
		}
		if v = strings.TrimSpace(v); v != "" {
			return v, l.Name, nil
		}
	}
	return "", "", fmt.Errorf("%w: set an API key", ErrMissing)
}

// Mask shows only the last four characters of a key.
func Mask(key string) string {
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}
