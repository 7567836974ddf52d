// Package secrets resolves credentials for remote connections. Secrets are
// looked up by service and identifier and requested from the user on first use.
package secrets

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

var (
	ErrEmptySecret = errors.New("secrets: empty secret")
	ErrNoTerminal  = errors.New("secrets: stdin is not a terminal")
)

// Store returns the secret for service+identifier. prompt is shown to the
// user when the secret is not known yet.
type Store interface {
	Get(service, identifier, prompt string) (string, error)
}

// Prompter asks the user for a secret.
type Prompter interface {
	Prompt(prompt string) (string, error)
}

// KeyringStore keeps secrets in the operating system keyring.
type KeyringStore struct {
	prompter Prompter
}

func NewKeyringStore(prompter Prompter) *KeyringStore {
	return &KeyringStore{prompter: prompter}
}

func (s *KeyringStore) Get(service, identifier, prompt string) (string, error) {
	secret, err := keyring.Get(service, identifier)
	if err == nil {
		return secret, nil
	}
	if !errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("keyring get %s: %w", service, err)
	}

	secret, err = s.prompter.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if secret == "" {
		return "", ErrEmptySecret
	}

	if err := keyring.Set(service, identifier, secret); err != nil {
		// still usable for this run
		slog.Warn("failed to persist secret in keyring", "service", service, "error", err)
	}
	return secret, nil
}

// TerminalPrompter reads a secret from the terminal without echoing it.
type TerminalPrompter struct {
	In  *os.File
	Out io.Writer
}

func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{In: os.Stdin, Out: os.Stderr}
}

func (p *TerminalPrompter) Prompt(prompt string) (string, error) {
	fd := int(p.In.Fd())
	if !term.IsTerminal(fd) {
		return "", ErrNoTerminal
	}

	fmt.Fprintf(p.Out, "%s: ", prompt)
	secret, err := term.ReadPassword(fd)
	fmt.Fprintln(p.Out)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return strings.TrimSpace(string(secret)), nil
}

// MemoryStore keeps secrets in memory. Unknown secrets are an error.
type MemoryStore struct {
	mu      sync.Mutex
	secrets map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{secrets: make(map[string]string)}
}

func (s *MemoryStore) Set(service, identifier, secret string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[memoryKey(service, identifier)] = secret
}

func (s *MemoryStore) Get(service, identifier, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	secret, ok := s.secrets[memoryKey(service, identifier)]
	if !ok {
		return "", fmt.Errorf("secrets: no secret for %s %q", service, identifier)
	}
	return secret, nil
}

// PromptStore asks the prompter once per secret and keeps the answers for
// the lifetime of the store. Nothing is persisted.
type PromptStore struct {
	prompter Prompter
	known    *MemoryStore
}

func NewPromptStore(prompter Prompter) *PromptStore {
	return &PromptStore{prompter: prompter, known: NewMemoryStore()}
}

func (s *PromptStore) Get(service, identifier, prompt string) (string, error) {
	if secret, err := s.known.Get(service, identifier, prompt); err == nil {
		return secret, nil
	}
	secret, err := s.prompter.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if secret == "" {
		return "", ErrEmptySecret
	}
	s.known.Set(service, identifier, secret)
	return secret, nil
}

func memoryKey(service, identifier string) string {
	return service + "\x00" + identifier
}

var (
	_ Store = (*KeyringStore)(nil)
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PromptStore)(nil)
)
