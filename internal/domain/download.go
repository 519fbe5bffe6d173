// Package domain holds the core record types shared by the store, the
// queue, and the download engine. It has no dependency on any other
// internal package so every layer can import it freely.
package domain

import "time"

// DownloadId is an opaque handle, unique forever within one store.
type DownloadId int64

// JobStatus is the lifecycle state of a Download record.
type JobStatus string

const (
	StatusQueued      JobStatus = "Queued"
	StatusDownloading JobStatus = "Downloading"
	StatusPaused      JobStatus = "Paused"
	StatusProcessing  JobStatus = "Processing"
	StatusComplete    JobStatus = "Complete"
	StatusFailed      JobStatus = "Failed"
)

// Incomplete reports whether status counts toward GetIncompleteDownloads.
func (s JobStatus) Incomplete() bool {
	switch s {
	case StatusQueued, StatusDownloading, StatusProcessing:
		return true
	default:
		return false
	}
}

// PostProcessMode selects which post-processing stages run after download.
type PostProcessMode string

const (
	PostProcessNone             PostProcessMode = "None"
	PostProcessVerify           PostProcessMode = "Verify"
	PostProcessRepair           PostProcessMode = "Repair"
	PostProcessUnpack           PostProcessMode = "Unpack"
	PostProcessUnpackAndCleanup PostProcessMode = "UnpackAndCleanup"
)

// Stages returns, in order, which pipeline stages this mode runs.
func (m PostProcessMode) Stages() []string {
	switch m {
	case PostProcessVerify:
		return []string{"verify"}
	case PostProcessRepair:
		return []string{"verify", "repair"}
	case PostProcessUnpack:
		return []string{"verify", "repair", "extract"}
	case PostProcessUnpackAndCleanup:
		return []string{"verify", "repair", "extract", "move", "cleanup"}
	default:
		return nil
	}
}

// DirectUnpackState tracks the incremental-extraction coordinator.
type DirectUnpackState string

const (
	DirectUnpackNotStarted DirectUnpackState = "NotStarted"
	DirectUnpackRunning    DirectUnpackState = "Running"
	DirectUnpackCompleted  DirectUnpackState = "Completed"
	DirectUnpackFailed     DirectUnpackState = "Failed"
)

// Download is the persistent record for one submitted NZB.
type Download struct {
	ID                         DownloadId
	Name                       string
	NZBHash                    string
	JobName                    string
	NZBMetaName                string
	Category                   string
	Destination                string
	PostProcessMode            PostProcessMode
	Priority                   int
	Status                     JobStatus
	SizeBytesTotal             int64
	CreatedAt                  time.Time
	StartedAt                  *time.Time
	CompletedAt                *time.Time
	Error                      *string
	DirectUnpackState          DirectUnpackState
	DirectUnpackExtractedCount int
}

// DownloadFile is one logical file inside an NZB (one <file> element).
type DownloadFile struct {
	DownloadID    DownloadId
	FileIndex     int
	FileName      string
	Subject       string
	TotalSegments int
}

// ArticleStatus is the per-article download state.
type ArticleStatus string

const (
	ArticlePending    ArticleStatus = "Pending"
	ArticleDownloaded ArticleStatus = "Downloaded"
	ArticleFailed     ArticleStatus = "Failed"
)

// Article is one NZB <segment>, addressed by Usenet message-id.
type Article struct {
	ID            int64
	DownloadID    DownloadId
	MessageID     string
	FileIndex     int
	SegmentNumber int
	SizeBytes     int64
	Status        ArticleStatus
	DownloadedAt  *time.Time
}

// DuplicateAction controls what insert_download does when nzb_hash collides.
type DuplicateAction string

const (
	DuplicateBlock DuplicateAction = "Block"
	DuplicateWarn  DuplicateAction = "Warn"
	DuplicateAllow DuplicateAction = "Allow"
)

// DuplicateMethod names which field a duplicate probe compares on.
type DuplicateMethod string

const (
	DuplicateByNZBHash DuplicateMethod = "NzbHash"
	DuplicateByNZBName DuplicateMethod = "NzbName"
	DuplicateByJobName DuplicateMethod = "JobName"
)

// FileCollisionPolicy controls Move's behavior when the destination path
// already exists.
type FileCollisionPolicy string

const (
	CollisionOverwrite FileCollisionPolicy = "Overwrite"
	CollisionSkip      FileCollisionPolicy = "Skip"
	CollisionRename    FileCollisionPolicy = "Rename"
)
