package tag

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/bogem/id3v2"
)

// trackPrefixRe matches a leading track number such as "01. " or "12 - "
var trackPrefixRe = regexp.MustCompile(`^\d{1,3}\s*[.\-_)]*\s+`)

// TrackInfo is what gets written into an MP3's ID3 tag
type TrackInfo struct {
	Album string
	Title string // Empty = derived from the file name
	Track int    // 1-based position in the album
	Total int
}

// IsMP3 reports whether path has an .mp3 extension
func IsMP3(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".mp3")
}

// WriteID3 sets album, title and track frames on an existing MP3, keeping any other frames.
func WriteID3(path string, info TrackInfo) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("id3 open error: %w", err)
	}
	defer tag.Close()

	tag.SetVersion(3)
	if info.Album != "" {
		tag.SetAlbum(info.Album)
	}

	title := info.Title
	if title == "" {
		title = TitleFromFileName(filepath.Base(path))
	}
	if title != "" && tag.Title() == "" {
		tag.SetTitle(title)
	}

	if info.Track > 0 {
		trackNumber := strconv.Itoa(info.Track)
		if info.Total > 0 {
			trackNumber += "/" + strconv.Itoa(info.Total)
		}
		tag.AddTextFrame(tag.CommonID("Track number/Position in set"), id3v2.EncodingUTF8, trackNumber)
	}

	return tag.Save()
}

// TitleFromFileName turns "01. Opening Theme.mp3" into "Opening Theme"
func TitleFromFileName(name string) string {
	name = strings.TrimSuffix(name, filepath.Ext(name))
	if stripped := trackPrefixRe.ReplaceAllString(name, ""); strings.TrimSpace(stripped) != "" {
		name = stripped
	}
	return strings.TrimSpace(name)
}
