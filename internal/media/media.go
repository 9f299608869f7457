// Package media moves file payloads: durable local copies for outbound
// attachments and downloads of inbound ones, with per-message dedup and
// throttled progress writes.
package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/viniciusgb/papo/internal/bus"
	"github.com/viniciusgb/papo/internal/store"
)

// Manager owns the session's media and sent directories.
type Manager struct {
	db       *store.DB
	http     *resty.Client
	bus      *bus.Bus
	log      *zap.Logger
	mediaDir string
	sentDir  string

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

func NewManager(db *store.DB, b *bus.Bus, mediaDir, sentDir string, log *zap.Logger) *Manager {
	return &Manager{
		db:       db,
		http:     resty.New().SetTimeout(10 * time.Minute),
		bus:      b,
		log:      log.Named("media"),
		mediaDir: mediaDir,
		sentDir:  sentDir,
		active:   make(map[string]context.CancelFunc),
	}
}

// CreateLocalCopy copies a source file into the sent directory so the record
// survives even if the original file moves or disappears. Returns the copy's
// path.
func (m *Manager) CreateLocalCopy(srcPath string) (string, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	defer func() { _ = src.Close() }()

	if err := os.MkdirAll(m.sentDir, 0o700); err != nil {
		return "", fmt.Errorf("sent dir: %w", err)
	}
	name := strconv.FormatInt(time.Now().UnixMilli(), 10) + "_" + filepath.Base(srcPath)
	dstPath := filepath.Join(m.sentDir, name)

	dst, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("create copy: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(dstPath)
		return "", fmt.Errorf("copy: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(dstPath)
		return "", fmt.Errorf("close copy: %w", err)
	}
	return dstPath, nil
}

// Download fetches a message's file in the background. Duplicate calls for
// the same message while a download is running are ignored.
func (m *Manager) Download(messageID string) {
	m.mu.Lock()
	if _, running := m.active[messageID]; running {
		m.mu.Unlock()
		m.log.Debug("download already in progress", zap.String("message", messageID))
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.active[messageID] = cancel
	m.mu.Unlock()

	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.active, messageID)
			m.mu.Unlock()
		}()
		m.download(ctx, messageID)
	}()
}

// Cancel aborts a running download; the message returns to pendente.
func (m *Manager) Cancel(messageID string) {
	m.mu.Lock()
	cancel, running := m.active[messageID]
	m.mu.Unlock()
	if running {
		cancel()
	}
}

func (m *Manager) download(ctx context.Context, messageID string) {
	msg, err := m.db.GetMessage(messageID)
	if err != nil || msg == nil {
		m.log.Warn("download skipped, message unavailable", zap.String("message", messageID), zap.Error(err))
		return
	}

	if msg.DownloadStatus == store.DownloadDone && msg.LocalPath != "" {
		if _, err := os.Stat(msg.LocalPath); err == nil {
			if msg.DownloadProg != 100 {
				m.setState(messageID, store.DownloadDone, 100)
			}
			return
		}
	}
	if msg.FileURL == "" {
		m.log.Error("download failed, no file url", zap.String("message", messageID))
		m.setState(messageID, store.DownloadFailedState, 0)
		return
	}

	name := msg.Text
	if name == "" {
		name = "file_" + msg.ID
	}
	if err := os.MkdirAll(m.mediaDir, 0o700); err != nil {
		m.log.Error("media dir", zap.Error(err))
		m.setState(messageID, store.DownloadFailedState, 0)
		return
	}
	dstPath := filepath.Join(m.mediaDir, msg.ID+"_"+filepath.Base(name))

	m.log.Info("starting download", zap.String("message", messageID), zap.String("url", msg.FileURL))
	m.setState(messageID, store.DownloadInProgress, 0)

	err = m.fetch(ctx, msg.FileURL, dstPath, messageID)
	switch {
	case err == nil:
		if err := m.db.UpdateLocalPath(messageID, dstPath); err != nil {
			m.log.Error("record local path", zap.Error(err))
		}
		m.setState(messageID, store.DownloadDone, 100)
		m.log.Info("download complete", zap.String("message", messageID), zap.String("path", dstPath))
	case ctx.Err() != nil:
		// Cancelled: drop the partial file, back to pendente.
		_ = os.Remove(dstPath)
		m.setState(messageID, store.DownloadPending, 0)
		m.log.Info("download cancelled", zap.String("message", messageID))
	default:
		_ = os.Remove(dstPath)
		m.setState(messageID, store.DownloadFailedState, 0)
		m.log.Error("download failed", zap.String("message", messageID), zap.Error(err))
	}
}

func (m *Manager) fetch(ctx context.Context, url, dstPath, messageID string) error {
	resp, err := m.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return err
	}
	body := resp.RawBody()
	defer func() { _ = body.Close() }()
	if !resp.IsSuccess() {
		return fmt.Errorf("http %d", resp.StatusCode())
	}

	dst, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer func() { _ = dst.Close() }()

	total := resp.RawResponse.ContentLength
	var written int64
	lastPct := -1
	buf := make([]byte, 32*1024)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
			written += int64(n)
			if total > 0 {
				pct := int(100 * written / total)
				if pct > lastPct && (pct%5 == 0 || pct == 100) {
					lastPct = pct
					m.setState(messageID, store.DownloadInProgress, pct)
				}
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

func (m *Manager) setState(messageID, status string, pct int) {
	if err := m.db.UpdateDownloadState(messageID, status, pct); err != nil {
		m.log.Error("update download state", zap.String("message", messageID), zap.Error(err))
		return
	}
	if m.bus != nil {
		m.bus.Publish(bus.Event{Kind: "store.changed", Timestamp: time.Now(), Payload: messageID})
	}
}
