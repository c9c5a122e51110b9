package models

// FileState represents where one album item is in its download lifecycle
type FileState string

const (
	FileStatePending     FileState = "pending"     // Not yet claimed by a worker
	FileStateDownloading FileState = "downloading" // Claimed; resolving or transferring
	FileStateRetrying    FileState = "retrying"    // Waiting out the backoff before the next attempt
	FileStateDone        FileState = "done"        // Transferred, or already present on disk
	FileStateFailed      FileState = "failed"      // Attempt budget exhausted
)

// String implements fmt.Stringer for logging
func (s FileState) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the state is one of the known lifecycle values
func (s FileState) IsValid() bool {
	switch s {
	case FileStatePending, FileStateDownloading, FileStateRetrying, FileStateDone, FileStateFailed:
		return true
	}
	return false
}

// IsTerminal returns true once no further transitions can happen
func (s FileState) IsTerminal() bool {
	return s == FileStateDone || s == FileStateFailed
}

// Phase tags a progress snapshot
type Phase string

const (
	PhaseParsing     Phase = "parsing"
	PhaseParsed      Phase = "parsed"
	PhaseDownloading Phase = "downloading"
	PhaseDone        Phase = "done"
	PhaseCancelled   Phase = "cancelled"
)

// String implements fmt.Stringer for logging
func (p Phase) String() string {
	if p == "" {
		return "unset"
	}
	return string(p)
}

// IsFinal returns true for the phases that close a run
func (p Phase) IsFinal() bool {
	return p == PhaseDone || p == PhaseCancelled
}
