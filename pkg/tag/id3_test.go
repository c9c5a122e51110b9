package tag

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bogem/id3v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTitleFromFileName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"01. Opening Theme.mp3", "Opening Theme"},
		{"12 - Boss Battle.flac", "Boss Battle"},
		{"Ending.mp3", "Ending"},
		{"1999.mp3", "1999"},
		{"2nd Movement.mp3", "2nd Movement"},
		{"07 .mp3", "07"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TitleFromFileName(tt.in), tt.in)
	}
}

func TestIsMP3(t *testing.T) {
	assert.True(t, IsMP3("/x/01.mp3"))
	assert.True(t, IsMP3("/x/01.MP3"))
	assert.False(t, IsMP3("/x/01.flac"))
	assert.False(t, IsMP3("/x/mp3"))
}

func TestWriteID3(t *testing.T) {
	path := filepath.Join(t.TempDir(), "03. Field Theme.mp3")
	// Bare MPEG frame bytes with no tag; the library prepends a fresh tag
	require.NoError(t, os.WriteFile(path, []byte{0xFF, 0xFB, 0x90, 0x00, 0x00, 0x00, 0x00, 0x00}, 0644))

	err := WriteID3(path, TrackInfo{Album: "Test Album OST", Track: 3, Total: 12})
	require.NoError(t, err)

	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	require.NoError(t, err)
	defer tag.Close()

	assert.Equal(t, "Test Album OST", tag.Album())
	assert.Equal(t, "Field Theme", tag.Title())
	assert.Equal(t, "3/12", tag.GetTextFrame(tag.CommonID("Track number/Position in set")).Text)
}

func TestWriteID3_MissingFile(t *testing.T) {
	err := WriteID3(filepath.Join(t.TempDir(), "missing.mp3"), TrackInfo{Album: "A"})
	assert.Error(t, err)
}
