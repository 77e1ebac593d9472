package cli

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/nadalpiantini/omnidrive/pkg/models"
)

var sizeUnits = []string{"B", "KB", "MB", "GB"}

// formatSize renders a byte count with one decimal, or "" when unknown.
func formatSize(size *int64) string {
	if size == nil {
		return ""
	}
	v := float64(*size)
	for _, unit := range sizeUnits {
		if v < 1024 {
			return fmt.Sprintf("%.1f %s", v, unit)
		}
		v /= 1024
	}
	return fmt.Sprintf("%.1f TB", v)
}

func fileIcon(f models.CloudFile) string {
	if f.IsFolder {
		return "📁"
	}
	mime := strings.ToLower(f.MimeType)
	switch {
	case mime == "":
		return "📄"
	case strings.Contains(mime, "folder"):
		return "📁"
	case strings.Contains(mime, "pdf"):
		return "📕"
	case strings.Contains(mime, "document"), strings.Contains(mime, "word"):
		return "📘"
	case strings.Contains(mime, "spreadsheet"), strings.Contains(mime, "excel"):
		return "📗"
	case strings.Contains(mime, "presentation"), strings.Contains(mime, "powerpoint"):
		return "📙"
	case strings.Contains(mime, "image"):
		return "🖼️ "
	case strings.Contains(mime, "video"):
		return "🎬"
	case strings.Contains(mime, "audio"):
		return "🎵"
	default:
		return "📄"
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
