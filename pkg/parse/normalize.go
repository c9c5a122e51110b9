package parse

import (
	"fmt"
	"net"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/Sriram-PR/khinsider-dl/pkg/utils"
)

const (
	// DefaultHostBase is where relative item-page references are resolved
	DefaultHostBase = "https://downloads.khinsider.com"
	// albumPathPrefix is the listing path every album URL lives under
	albumPathPrefix = "/game-soundtracks/album/"
	// unknownSlug is used when no slug can be taken from an album URL
	unknownSlug = "unknown-album"
)

var albumSlugRe = regexp.MustCompile(`/album/([^/?#]+)`)

// NormalizeURL standardizes a URL for comparison
// It lowercases the scheme and host, removes default ports, drops trailing slashes from non-root paths and removes the fragment
// The query string is kept since download hosts may sign links with it
// Does not modify the input *url.URL
func NormalizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	normalized := *u

	normalized.Scheme = strings.ToLower(normalized.Scheme)
	normalized.Host = strings.ToLower(normalized.Host)

	host, port, err := net.SplitHostPort(normalized.Host)
	if err == nil {
		if (normalized.Scheme == "http" && port == "80") ||
			(normalized.Scheme == "https" && port == "443") {
			normalized.Host = host
		}
	}

	if normalized.Path == "" {
		normalized.Path = "/"
	} else if len(normalized.Path) > 1 && strings.HasSuffix(normalized.Path, "/") {
		normalized.Path = normalized.Path[:len(normalized.Path)-1]
		if normalized.RawPath != "" {
			normalized.RawPath = strings.TrimSuffix(normalized.RawPath, "/")
		}
	}

	normalized.Fragment = ""
	normalized.RawFragment = ""
	return normalized.String()
}

// ParseAndNormalize parses an absolute URL (scheme required) and normalizes it
func ParseAndNormalize(urlStr string) (string, *url.URL, error) {
	parsed, err := url.ParseRequestURI(urlStr)
	if err != nil {
		return "", nil, err
	}
	return NormalizeURL(parsed), parsed, nil
}

// ResolveReference turns an href found on a page into an absolute URL.
// Absolute http(s) references are returned unchanged; anything else is resolved against base.
func ResolveReference(base, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("%w: empty URL reference", utils.ErrParsing)
	}
	lower := strings.ToLower(ref)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return ref, nil
	}

	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%w: invalid base URL '%s': %w", utils.ErrParsing, base, err)
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("%w: invalid URL reference '%s': %w", utils.ErrParsing, ref, err)
	}
	return baseURL.ResolveReference(refURL).String(), nil
}

// FileNameFromURL returns the percent-decoded final path segment of a download URL.
// Query strings and fragments are not part of the name. Returns "" when the path has no segment.
func FileNameFromURL(rawURL string) string {
	segment := ""
	if u, err := url.Parse(rawURL); err == nil {
		segment = path.Base(u.EscapedPath())
	} else {
		// Fall back to plain splitting for hrefs url.Parse rejects
		trimmed := rawURL
		if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
			trimmed = trimmed[:i]
		}
		segment = trimmed[strings.LastIndex(trimmed, "/")+1:]
	}
	if segment == "." || segment == "/" {
		return ""
	}
	if decoded, err := url.PathUnescape(segment); err == nil {
		return decoded
	}
	return segment
}

// ExtractSlug derives the album's directory name from its URL
func ExtractSlug(albumURL string) string {
	match := albumSlugRe.FindStringSubmatch(albumURL)
	if match == nil {
		return unknownSlug
	}
	slug := match[1]
	if decoded, err := url.PathUnescape(slug); err == nil {
		slug = decoded
	}
	if slug = utils.SanitizeFilename(slug); slug == "" {
		return unknownSlug
	}
	return slug
}

// ValidateAlbumURL checks that raw points at an album listing on hostBase's host.
func ValidateAlbumURL(raw, hostBase string) error {
	u, err := url.ParseRequestURI(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%w: invalid album URL '%s': %w", utils.ErrParsing, raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: album URL '%s' must use http or https", utils.ErrParsing, raw)
	}
	base, err := url.Parse(hostBase)
	if err != nil || base.Host == "" {
		return fmt.Errorf("%w: invalid host base URL '%s'", utils.ErrParsing, hostBase)
	}
	if !strings.EqualFold(u.Hostname(), base.Hostname()) {
		return fmt.Errorf("%w: album URL host '%s' does not match '%s'", utils.ErrParsing, u.Hostname(), base.Hostname())
	}
	if !strings.HasPrefix(u.Path, albumPathPrefix) || strings.Trim(strings.TrimPrefix(u.Path, albumPathPrefix), "/") == "" {
		return fmt.Errorf("%w: album URL path must look like %s<slug>, got '%s'", utils.ErrParsing, albumPathPrefix, u.Path)
	}
	return nil
}
