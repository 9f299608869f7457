package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// UploadResult is the server's record of an uploaded file.
type UploadResult struct {
	FileURL  string `json:"file_url"`
	FileSize int64  `json:"file_size"`
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
}

// uploadResponse is the upload handler's own envelope; it predates the
// /api/ envelope and carries the file fields at top level.
type uploadResponse struct {
	Status string `json:"status"`
	UploadResult
	Message string `json:"message"`
}

// ProgressFunc receives upload progress percentages. Calls are throttled to
// multiples of five plus the final 100.
type ProgressFunc func(pct int)

// UploadFile streams a local file as a multipart POST to the upload
// endpoint, reporting throttled progress along the way. uploadURL is
// absolute; the upload handler lives outside the /api/ prefix.
func (c *Client) UploadFile(ctx context.Context, uploadURL, path string, progress ProgressFunc) (*UploadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open upload file: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat upload file: %w", err)
	}

	var reader io.Reader = f
	if progress != nil && info.Size() > 0 {
		reader = newProgressReader(f, info.Size(), progress)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", c.authHeader()).
		SetFileReader("file", filepath.Base(path), reader).
		Post(uploadURL)
	if err != nil {
		return nil, fmt.Errorf("upload file: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("upload file: http %d", resp.StatusCode())
	}

	var body uploadResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("upload response: %w", err)
	}
	if body.Status != "success" {
		return nil, fmt.Errorf("upload rejected: %s", body.Message)
	}
	if body.FileURL == "" {
		return nil, fmt.Errorf("upload response missing file_url")
	}
	if body.FileName == "" {
		body.FileName = filepath.Base(path)
	}
	return &body.UploadResult, nil
}

// progressReader reports read progress as a percentage of total. Reports are
// suppressed unless the percentage advanced to a multiple of five (or 100),
// which bounds downstream write volume during large uploads.
type progressReader struct {
	r        io.Reader
	total    int64
	read     int64
	lastPct  int
	progress ProgressFunc
}

func newProgressReader(r io.Reader, total int64, progress ProgressFunc) *progressReader {
	return &progressReader{r: r, total: total, lastPct: -1, progress: progress}
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.read += int64(n)
		pct := int(100 * p.read / p.total)
		if pct > 100 {
			pct = 100
		}
		if pct > p.lastPct && (pct%5 == 0 || pct == 100) {
			p.lastPct = pct
			p.progress(pct)
		}
	}
	return n, err
}
