package utils

import (
	"path/filepath"
	"regexp"
	"strings"
)

// --- Filename Sanitization ---
var invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]`) // Characters invalid in Windows/Unix filenames
var consecutiveUnderscores = regexp.MustCompile(`_+`)

const maxFilenameLength = 180 // Bytes, leaves room for the ".part" suffix under common 255-byte limits

// SanitizeFilename cleans a decoded file name so it is safe to create inside the target directory.
// The extension is preserved when the name has to be truncated.
// Returns "" when nothing usable remains, so callers can apply their own fallback.
func SanitizeFilename(name string) string {
	sanitized := invalidFilenameChars.ReplaceAllString(name, "_")
	sanitized = consecutiveUnderscores.ReplaceAllString(sanitized, "_")
	sanitized = strings.Trim(sanitized, "_ .")

	if len(sanitized) > maxFilenameLength {
		ext := filepath.Ext(sanitized)
		if len(ext) > 10 { // Not a real extension, truncate the whole thing
			ext = ""
		}
		stem := strings.TrimSuffix(sanitized, ext)
		stem = truncateUTF8(stem, maxFilenameLength-len(ext))
		sanitized = strings.Trim(stem, "_ .") + ext
	}

	if strings.Trim(sanitized, "_ .") == "" {
		return ""
	}
	return sanitized
}

// truncateUTF8 cuts s to at most n bytes without splitting a multi-byte rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
