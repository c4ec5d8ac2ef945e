package passphrase

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestSource(env map[string]string, prompt func(string) (string, error)) *Source {
	s := NewSource("VAULTGW_KEYSTORE_PASS", "")
	s.lookup = func(key string) (string, bool) {
		value, ok := env[key]
		return value, ok
	}
	s.prompt = prompt
	return s
}

func TestSourcePrefersEnvironment(t *testing.T) {
	prompted := 0
	s := newTestSource(map[string]string{"VAULTGW_KEYSTORE_PASS": "hunter2"}, func(string) (string, error) {
		prompted++
		return "other", nil
	})
	value, err := s.Get()
	require.NoError(t, err)
	require.Equal(t, "hunter2", value)
	require.Zero(t, prompted)
}

func TestSourceRejectsEmptyEnvironmentValue(t *testing.T) {
	s := newTestSource(map[string]string{"VAULTGW_KEYSTORE_PASS": "  "}, nil)
	_, err := s.Get()
	require.ErrorContains(t, err, "set but empty")
}

func TestSourcePromptsOnceAndCaches(t *testing.T) {
	prompted := 0
	s := newTestSource(nil, func(label string) (string, error) {
		prompted++
		require.Equal(t, "operator keystore", label)
		return "typed", nil
	})
	for i := 0; i < 3; i++ {
		value, err := s.Get()
		require.NoError(t, err)
		require.Equal(t, "typed", value)
	}
	require.Equal(t, 1, prompted)
}

func TestSourceWithoutTerminalNamesVariable(t *testing.T) {
	s := newTestSource(nil, func(string) (string, error) { return "", errNoTerminal })
	_, err := s.Get()
	require.ErrorIs(t, err, errNoTerminal)
	require.ErrorContains(t, err, "VAULTGW_KEYSTORE_PASS")
}

func TestSourceRejectsBlankPrompt(t *testing.T) {
	s := newTestSource(nil, func(string) (string, error) { return " ", nil })
	_, err := s.Get()
	require.Error(t, err)
	require.False(t, errors.Is(err, errNoTerminal))
}
