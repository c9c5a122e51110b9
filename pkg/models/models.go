package models

import (
	"fmt"
	"time"
)

// AlbumReference identifies the album a run was started for
type AlbumReference struct {
	URL  string `json:"url"`
	Slug string `json:"slug"` // Directory name derived from the URL path
}

// Album is the parsed form of an album listing page
type Album struct {
	Title    string
	ItemRefs []string // Item-page hrefs as listed, duplicate-free, first-seen order
	NotesMD  string   // Album info block as Markdown; empty unless notes extraction is enabled
}

// ItemTask is one listed item; Index is its only identity
type ItemTask struct {
	Index   int
	PageRef string
}

// ItemLink is the result of resolving one item page.
// DownloadURL is empty when the page offered no usable link.
type ItemLink struct {
	PageURL     string
	DownloadURL string
	FileName    string
}

// FileStatus is the per-item progress record
type FileStatus struct {
	Index      int       `json:"index"`
	Name       string    `json:"name"`
	Status     FileState `json:"status"`
	Size       int64     `json:"size"`
	RetryCount int       `json:"retry_count"`
	Error      string    `json:"error,omitempty"`
	// ErrorCategory is utils.CategorizeError of the last failure, set only on failed items
	ErrorCategory string `json:"error_category,omitempty"`
}

// PlaceholderName is shown for an item until its file name is resolved
func PlaceholderName(index int) string {
	return fmt.Sprintf("Track %d", index+1)
}

// FallbackFileName is used when a download URL yields no usable file name
func FallbackFileName(index int) string {
	return fmt.Sprintf("track_%d.mp3", index+1)
}

// RunCounters are the rolled-up totals for one run
type RunCounters struct {
	Completed int       `json:"completed"`
	Failed    int       `json:"failed"`
	Bytes     int64     `json:"bytes"`
	StartedAt time.Time `json:"started_at"`
}

// ItemOutcome is the ledger view of a finished item
type ItemOutcome struct {
	Index         int       `json:"index"`
	Name          string    `json:"name"`
	Status        FileState `json:"status"`
	Size          int64     `json:"size"`
	RetryCount    int       `json:"retry_count"`
	ErrorCategory string    `json:"error_category,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// RunRecord is what the run-history ledger keeps for one finished (or aborted) run
type RunRecord struct {
	ID         string         `json:"id"`
	Album      AlbumReference `json:"album"`
	Title      string         `json:"title"`
	TargetDir  string         `json:"target_dir"`
	Phase      Phase          `json:"phase"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Total      int            `json:"total"`
	Completed  int            `json:"completed"`
	Failed     int            `json:"failed"`
	Bytes      int64          `json:"bytes"`
	SetupError string         `json:"setup_error,omitempty"`
	Items      []ItemOutcome  `json:"items,omitempty"`
}

// Duration returns how long the run took
func (r *RunRecord) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
