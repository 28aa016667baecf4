// Package keychain resolves configuration secrets stored in the OS keychain.
package keychain

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
)

// ServiceName is the keychain service all entries are stored under.
const ServiceName = "untis-auth"

// RefPrefix marks a config value that names a keychain entry instead of holding a secret.
const RefPrefix = "keyring:"

// ErrNotFound is returned when a key doesn't exist.
var ErrNotFound = errors.New("key not found in keychain")

// Keychain stores secrets by key.
type Keychain interface {
	Set(key, value string) error
	Get(key string) (string, error)
	Delete(key string) error
}

// System uses the OS keychain.
type System struct{}

var _ Keychain = System{}

func (System) Set(key, value string) error {
	if err := keyring.Set(ServiceName, key, value); err != nil {
		return fmt.Errorf("store in keychain: %w", err)
	}
	return nil
}

func (System) Get(key string) (string, error) {
	v, err := keyring.Get(ServiceName, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("read from keychain: %w", err)
	}
	return v, nil
}

func (System) Delete(key string) error {
	err := keyring.Delete(ServiceName, key)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("delete from keychain: %w", err)
	}
	return nil
}

// Mock is an in-memory keychain for tests.
type Mock struct {
	mu    sync.RWMutex
	store map[string]string
}

var _ Keychain = (*Mock)(nil)

// NewMock creates an empty Mock.
func NewMock() *Mock {
	return &Mock{store: make(map[string]string)}
}

func (m *Mock) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[key] = value
	return nil
}

func (m *Mock) Get(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.store[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Mock) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, key)
	return nil
}

// Resolve returns value unchanged unless it has the form "keyring:<key>", in which
// case the secret stored under key is returned.
func Resolve(kc Keychain, value string) (string, error) {
	key, ok := strings.CutPrefix(value, RefPrefix)
	if !ok {
		return value, nil
	}
	if key == "" {
		return "", fmt.Errorf("empty keychain reference")
	}
	secret, err := kc.Get(key)
	if err != nil {
		return "", fmt.Errorf("resolve %s%s: %w", RefPrefix, key, err)
	}
	return secret, nil
}
