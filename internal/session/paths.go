package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.papo.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".papo")
}

// Dir returns the session-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "sessions", name)
}

// LockPath returns the lock file path for a session.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// DBPath returns the app-owned papo.db path.
func DBPath(name string) string {
	return filepath.Join(Dir(name), "papo.db")
}

// CredsPath returns the credential file path for a session.
func CredsPath(name string) string {
	return filepath.Join(Dir(name), "creds.toml")
}

// MediaDir returns the download cache directory for received files.
func MediaDir(name string) string {
	return filepath.Join(Dir(name), "media")
}

// SentDir returns the durable copy directory for outgoing files.
func SentDir(name string) string {
	return filepath.Join(Dir(name), "sent")
}

// LogDir returns the log directory for a session.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "papod.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the session directory tree with proper permissions.
func EnsureDir(name string) error {
	dirs := []string{
		Dir(name),
		LogDir(name),
		MediaDir(name),
		SentDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
