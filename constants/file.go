package constants

import "strings"

// DocumentFormat is the format family of a submitted document.
type DocumentFormat string

const (
	FormatMarkdown DocumentFormat = "MARKDOWN"
	FormatText     DocumentFormat = "TEXT"
	FormatBinary   DocumentFormat = "BINARY" // needs the external conversion service
)

// TextExtensions are documents that are already converted content.
var TextExtensions = map[string]struct{}{
	"md":       {},
	"markdown": {},
	"txt":      {},
}

// WatchExtensions are picked up by the directory watcher and the batch CLI.
var WatchExtensions = map[string]struct{}{
	"md":       {},
	"markdown": {},
	"txt":      {},
	"pdf":      {},
	"docx":     {},
	"html":     {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// MapExtToFormat classifies a file extension.
func MapExtToFormat(ext string) DocumentFormat {
	switch NormalizeExt(ext) {
	case "md", "markdown":
		return FormatMarkdown
	case "txt":
		return FormatText
	default:
		return FormatBinary
	}
}
