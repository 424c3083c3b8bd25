// Package entity defines the core entities used in the application.
package entity

import (
	"log/slog"
	"time"

	"medialoader/pkg/ptr"
)

// JobStatus represents the status of a download job.
type JobStatus string

const (
	// JobStatusInitializing indicates that the job is registered and no byte arrived yet.
	JobStatusInitializing JobStatus = "Initializing"
	// JobStatusDownloading indicates that at least one chunk was received.
	JobStatusDownloading JobStatus = "Downloading"
	// JobStatusExtracting indicates that the stream ended and the archive is being unpacked.
	JobStatusExtracting JobStatus = "Extracting"
	// JobStatusCompleted indicates that the stream ended without error.
	JobStatusCompleted JobStatus = "Completed"
	// JobStatusError indicates that the stream or the file write failed.
	JobStatusError JobStatus = "Error"
)

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusError
}

// DownloadInfo is the metadata a provider reports for a URL.
type DownloadInfo struct {
	FileName string `json:"fileName"`
	Size     *int64 `json:"size"` // nil when the provider sent no content length
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (i DownloadInfo) LogValue() slog.Value {
	attrs := []slog.Attr{slog.String("fileName", i.FileName)}
	if i.Size != nil {
		attrs = append(attrs, slog.Int64("size", *i.Size))
	}

	return slog.GroupValue(attrs...)
}

// Job represents a download job.
type Job struct {
	ID         string    `json:"id"`
	Provider   string    `json:"provider"`
	Status     JobStatus `json:"status"`
	FileName   string    `json:"fileName"`
	Path       string    `json:"-"` // destination on disk
	Size       *int64    `json:"size"`
	Downloaded int64     `json:"downloaded"`
	Progress   *float64  `json:"progress,omitempty"` // set iff Size is known
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Snapshot returns a copy that does not share pointers with j.
func (j *Job) Snapshot() Job {
	snap := *j
	snap.Size = ptr.Clone(j.Size)
	snap.Progress = ptr.Clone(j.Progress)

	return snap
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (j Job) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("id", j.ID),
		slog.String("provider", j.Provider),
		slog.String("status", string(j.Status)),
		slog.String("fileName", j.FileName),
		slog.Int64("downloaded", j.Downloaded),
	}

	if j.Size != nil {
		attrs = append(attrs, slog.Int64("size", *j.Size))
	}

	if j.Progress != nil {
		attrs = append(attrs, slog.Float64("progress", *j.Progress))
	}

	if j.Error != "" {
		attrs = append(attrs, slog.String("error", j.Error))
	}

	return slog.GroupValue(attrs...)
}
