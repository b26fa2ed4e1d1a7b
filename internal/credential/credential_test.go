package credential

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type settings map[string]string

func (s settings) Setting(key string) (string, error) { return s[key], nil }

func TestResolveOrder(t *testing.T) {
	t.Parallel()

	st := settings{"api_key": "persisted-key"}
	r := NewResolver(Static("build", ""), Persisted(st, "api_key"), Static("config", "config-key"))

	key, src, err := r.Resolve()
	require.NoError(t, err)
	require.Equal(t, "persisted-key", key)
	require.Equal(t, "persisted", src)

	r = NewResolver(Static("build", "  build-key "), Persisted(st, "api_key"))
	key, src, err = r.Resolve()
	require.NoError(t, err)
	require.Equal(t, "build-key", key)
	require.Equal(t, "build", src)
}

func TestResolveSkipsFailingLayer(t *testing.T) {
	t.Parallel()

	broken := Layer{Name: "broken", Get: func() (string, error) { return "", errors.New("db locked") }}
	key, src, err := NewResolver(broken, Static("config", "k")).Resolve()
	require.NoError(t, err)
	require.Equal(t, "k", key)
	require.Equal(t, "config", src)
}

func TestResolveMissing(t *testing.T) {
	t.Parallel()

	_, _, err := NewResolver(Static("build", ""), Static("config", "   ")).Resolve()
	require.ErrorIs(t, err, ErrMissing)
}

func TestMask(t *testing.T) {
	t.Parallel()

	require.Equal(t, "", Mask(""))
	require.Equal(t, "***", Mask("abc"))
	require.Equal(t, "*****6789", Mask("123456789"))
}
