package outbox

import (
	"mime"
	"path/filepath"
	"strings"
)

// messageTypeForFile maps a file to its wire message type by MIME sniffing
// on the extension.
func messageTypeForFile(path string) string {
	mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if i := strings.IndexByte(mt, ';'); i != -1 {
		mt = mt[:i]
	}
	switch {
	case mt == "":
		return "file"
	case strings.HasPrefix(mt, "image/"):
		return "image"
	case strings.HasPrefix(mt, "video/"):
		return "video"
	case strings.HasPrefix(mt, "audio/"):
		return "audio"
	case mt == "application/pdf",
		strings.HasPrefix(mt, "application/vnd.openxmlformats-officedocument"),
		strings.HasPrefix(mt, "application/msword"),
		mt == "application/vnd.ms-excel",
		mt == "application/vnd.ms-powerpoint",
		strings.HasPrefix(mt, "text/"):
		return "document"
	case mt == "application/zip",
		mt == "application/x-rar-compressed",
		mt == "application/x-7z-compressed":
		return "archive"
	default:
		return "file"
	}
}
