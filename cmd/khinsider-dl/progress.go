package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"

	"github.com/Sriram-PR/khinsider-dl/pkg/models"
	"github.com/Sriram-PR/khinsider-dl/pkg/utils"
)

const repaintInterval = 200 * time.Millisecond

// progressReporter renders the snapshots of one album run as a terminal progress bar
type progressReporter struct {
	mu       sync.Mutex
	out      io.Writer
	bar      *progressbar.ProgressBar
	title    string
	lastDraw time.Time
	settled  int
	files    []models.FileStatus // From the latest downloading snapshot
	now      func() time.Time
}

func newProgressReporter(out io.Writer) *progressReporter {
	return &progressReporter{out: out, now: time.Now}
}

// Observe consumes one snapshot
func (p *progressReporter) Observe(s models.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch snap := s.(type) {
	case models.ParsingSnapshot:
		fmt.Fprintln(p.out, snap.Message)
	case models.ParsedSnapshot:
		p.title = snap.AlbumTitle
		fmt.Fprintf(p.out, "%s: %s\n", snap.AlbumTitle, snap.Message)
		p.bar = progressbar.NewOptions(snap.TotalFiles,
			progressbar.OptionSetWriter(p.out),
			progressbar.OptionSetDescription("Downloading"),
			progressbar.OptionSetItsString("track"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(30),
			progressbar.OptionThrottle(repaintInterval),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "=",
				SaucerHead:    ">",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
	case models.DownloadingSnapshot:
		p.files = snap.Files
		settled := snap.Settled()
		// Every settle is drawn; in-flight changes at most once per repaint interval
		if settled == p.settled && p.now().Sub(p.lastDraw) < repaintInterval {
			return
		}
		p.lastDraw = p.now()
		p.settled = settled
		if p.bar != nil {
			p.bar.Describe(describeDownloading(snap))
			p.bar.Set(settled)
		}
	case models.DoneSnapshot:
		if p.bar != nil {
			p.bar.Finish()
		}
		fmt.Fprintf(p.out, "\n%s: %s, %s downloaded\n", p.title, snap.Message, humanize.Bytes(uint64(snap.TotalBytes)))
		for _, line := range failedLines(p.files) {
			fmt.Fprintln(p.out, line)
		}
	case models.CancelledSnapshot:
		fmt.Fprintf(p.out, "\n%s\n", snap.Message)
	}
}

// describeDownloading is the bar label: failures so far and the transfer rate
func describeDownloading(s models.DownloadingSnapshot) string {
	if s.FailedFiles > 0 {
		return fmt.Sprintf("Downloading (%d failed) %s", s.FailedFiles, utils.FormatSpeed(s.Speed))
	}
	return fmt.Sprintf("Downloading %s", utils.FormatSpeed(s.Speed))
}

// failedLines lists every failed track with its last error
func failedLines(files []models.FileStatus) []string {
	var lines []string
	for _, f := range files {
		if f.Status != models.FileStateFailed {
			continue
		}
		lines = append(lines, fmt.Sprintf("  FAILED %s: %s", f.Name, f.Error))
	}
	return lines
}
