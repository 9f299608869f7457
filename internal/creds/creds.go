// Package creds persists the session's authentication material and local
// identity. Values are read synchronously by the connection manager and the
// sync merger, so everything lives behind one mutex and every mutation is
// flushed to disk immediately.
package creds

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

type fileData struct {
	AuthToken    string `toml:"auth_token"`
	RefreshToken string `toml:"refresh_token"`
	MyNumber     string `toml:"my_number"`
	FCMToken     string `toml:"fcm_token"`
	DeviceID     string `toml:"device_id"`
}

// Store is a file-backed credential store for a single session.
type Store struct {
	mu   sync.RWMutex
	path string
	data fileData
}

// Open loads the credential file at path, creating an empty store if it
// does not exist yet.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &s.data); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// AuthToken returns the stored auth token, empty if absent.
func (s *Store) AuthToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.AuthToken
}

// RefreshToken returns the stored refresh token, empty if absent.
func (s *Store) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.RefreshToken
}

// MyNumber returns the local user identity, empty if absent.
func (s *Store) MyNumber() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.MyNumber
}

// FCMToken returns the push registration token, empty if absent.
func (s *Store) FCMToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.FCMToken
}

// DeviceID returns the stable device identifier, empty if absent.
func (s *Store) DeviceID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.DeviceID
}

// SetTokens stores a new auth/refresh token pair.
func (s *Store) SetTokens(authToken, refreshToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.AuthToken = authToken
	s.data.RefreshToken = refreshToken
	return s.flush()
}

// SetIdentity stores the local user number and device id.
func (s *Store) SetIdentity(myNumber, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.MyNumber = myNumber
	s.data.DeviceID = deviceID
	return s.flush()
}

// SetFCMToken stores the push registration token.
func (s *Store) SetFCMToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.FCMToken = token
	return s.flush()
}

// Clear wipes all stored credentials (logout).
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = fileData{}
	return s.flush()
}

func (s *Store) flush() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(s.data)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
