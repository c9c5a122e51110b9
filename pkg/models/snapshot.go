package models

// Snapshot is an immutable point-in-time progress report.
// Each phase has its own concrete type carrying only the fields that phase defines.
type Snapshot interface {
	Phase() Phase
}

// ParsingSnapshot is emitted while the album page is being fetched and parsed
type ParsingSnapshot struct {
	Message string
}

// ParsedSnapshot is emitted once the item list is known
type ParsedSnapshot struct {
	AlbumTitle string
	TotalFiles int
	Message    string
}

// DownloadingSnapshot is emitted at every per-item transition while workers run
type DownloadingSnapshot struct {
	TotalFiles     int
	CompletedFiles int
	FailedFiles    int
	TotalBytes     int64
	Speed          float64 // Bytes per second since the worker phase started
	Elapsed        float64 // Seconds since the worker phase started
	Files          []FileStatus
}

// DoneSnapshot closes a run that was not cancelled
type DoneSnapshot struct {
	TotalFiles     int
	CompletedFiles int
	FailedFiles    int
	TotalBytes     int64
	Elapsed        float64
	Message        string
}

// CancelledSnapshot closes a cancelled run
type CancelledSnapshot struct {
	Message string
}

func (ParsingSnapshot) Phase() Phase     { return PhaseParsing }
func (ParsedSnapshot) Phase() Phase      { return PhaseParsed }
func (DownloadingSnapshot) Phase() Phase { return PhaseDownloading }
func (DoneSnapshot) Phase() Phase        { return PhaseDone }
func (CancelledSnapshot) Phase() Phase   { return PhaseCancelled }

// Settled returns completed+failed, the count used for percentage display
func (s DownloadingSnapshot) Settled() int {
	return s.CompletedFiles + s.FailedFiles
}

// Percent returns settled/total as 0..100
func (s DownloadingSnapshot) Percent() float64 {
	if s.TotalFiles == 0 {
		return 0
	}
	return float64(s.Settled()) / float64(s.TotalFiles) * 100
}
