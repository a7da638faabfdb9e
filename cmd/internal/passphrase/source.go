// Package passphrase resolves keystore passphrases for CLI commands,
// preferring an environment variable and falling back to a terminal prompt.
package passphrase

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source lazily resolves a keystore passphrase. The first successful
// retrieval is cached so one invocation never prompts twice for the same
// secret.
type Source struct {
	envVar  string
	confirm bool

	once  sync.Once
	value string
	err   error
}

// NewSource builds a source that checks envVar before prompting on the
// terminal.
func NewSource(envVar string) *Source {
	return &Source{envVar: strings.TrimSpace(envVar)}
}

// NewConfirmedSource builds a source for freshly created keystores: a
// prompted passphrase must be typed twice so a typo cannot seal a key
// nobody can unlock. Values taken from the environment skip confirmation.
func NewConfirmedSource(envVar string) *Source {
	return &Source{envVar: strings.TrimSpace(envVar), confirm: true}
}

// Get returns the passphrase, resolving it on the first call. Whitespace-only
// passphrases are rejected to avoid unprotected keystores.
func (s *Source) Get() (string, error) {
	s.once.Do(func() { s.value, s.err = s.resolve() })
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.envVar != "" {
		if value, ok := os.LookupEnv(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s is set but empty", s.envVar)
			}
			return value, nil
		}
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		if s.envVar != "" {
			return "", fmt.Errorf("keystore passphrase required; set %s or run interactively", s.envVar)
		}
		return "", errors.New("keystore passphrase required and no terminal available")
	}

	entered, err := promptSecret("Enter keystore passphrase: ")
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(entered) == "" {
		return "", errors.New("keystore passphrase cannot be empty")
	}
	if s.confirm {
		repeat, err := promptSecret("Repeat keystore passphrase: ")
		if err != nil {
			return "", err
		}
		if repeat != entered {
			return "", errors.New("passphrases do not match")
		}
	}
	return entered, nil
}

func promptSecret(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	return string(raw), nil
}
