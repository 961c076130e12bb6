package session

import "time"

// A Record is written once per item when it reaches a terminal status.
type Record struct {
	BatchID    string
	Path       string
	Name       string
	Status     ItemStatus
	Bytes      int64
	Duration   time.Duration
	Err        string
	FinishedAt time.Time
}

// A Recorder persists finished downloads, e.g. for the history command.
// Recording is best-effort: failures are logged, never surfaced into the
// batch's own state.
type Recorder interface {
	RecordDownload(*Record) error
}

type NilRecorder struct{}

func (NilRecorder) RecordDownload(*Record) error {
	return nil
}
