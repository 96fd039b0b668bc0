package ingest

import "time"

// Report summarizes one ingestion run for a single repository.
//
// Per-file failures never abort a run; they are collected in Errors and
// the affected files are retried on the next run. A non-empty Errors map
// with otherwise populated counters therefore means a partial run.
type Report struct {
	RepoName     string `json:"repo_name"`
	FromRevision string `json:"from_revision,omitempty"`
	ToRevision   string `json:"to_revision,omitempty"`

	// UpToDate is set when the mirror revision matched the stored
	// revision and nothing was done.
	UpToDate bool `json:"up_to_date,omitempty"`

	FilesAdded    int `json:"files_added"`
	FilesModified int `json:"files_modified"`
	FilesDeleted  int `json:"files_deleted"`
	// FilesSkipped counts files excluded at processing time: oversized,
	// binary, or unchanged content despite a path-level diff entry.
	FilesSkipped  int `json:"files_skipped"`
	ChunksWritten int `json:"chunks_written"`
	ChunksDeleted int `json:"chunks_deleted"`

	// Errors maps file path to the failure that prevented the file from
	// advancing this run.
	Errors map[string]string `json:"errors,omitempty"`

	// Err is set when the whole run failed before per-file processing
	// (source unavailable, diverged history, state commit failure).
	Err string `json:"error,omitempty"`

	Duration time.Duration `json:"duration_ns"`
}

func (r *Report) addError(path string, err error) {
	if r.Errors == nil {
		r.Errors = make(map[string]string)
	}
	r.Errors[path] = err.Error()
}

// Partial reports whether some files failed while others advanced.
func (r *Report) Partial() bool {
	return len(r.Errors) > 0
}
