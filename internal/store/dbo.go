package store

import (
	"database/sql"
	"time"

	"github.com/jvz-devx/usenetd/internal/domain"
)

type downloadDBO struct {
	ID                         int64
	Name                       string
	NZBHash                    string
	JobName                    string
	NZBMetaName                string
	Category                   string
	Destination                string
	PostProcessMode            string
	Priority                   int
	Status                     string
	SizeBytesTotal             int64
	CreatedAt                  time.Time
	StartedAt                  sql.NullTime
	CompletedAt                sql.NullTime
	Error                      sql.NullString
	DirectUnpackState          string
	DirectUnpackExtractedCount int
}

func (d *downloadDBO) ToDomain() *domain.Download {
	out := &domain.Download{
		ID:                         domain.DownloadId(d.ID),
		Name:                       d.Name,
		NZBHash:                    d.NZBHash,
		JobName:                    d.JobName,
		NZBMetaName:                d.NZBMetaName,
		Category:                   d.Category,
		Destination:                d.Destination,
		PostProcessMode:            domain.PostProcessMode(d.PostProcessMode),
		Priority:                   d.Priority,
		Status:                     domain.JobStatus(d.Status),
		SizeBytesTotal:             d.SizeBytesTotal,
		CreatedAt:                  d.CreatedAt,
		DirectUnpackState:          domain.DirectUnpackState(d.DirectUnpackState),
		DirectUnpackExtractedCount: d.DirectUnpackExtractedCount,
	}
	if d.StartedAt.Valid {
		out.StartedAt = &d.StartedAt.Time
	}
	if d.CompletedAt.Valid {
		out.CompletedAt = &d.CompletedAt.Time
	}
	if d.Error.Valid {
		out.Error = &d.Error.String
	}
	return out
}

func scanDownload(row interface{ Scan(...any) error }) (*downloadDBO, error) {
	var d downloadDBO
	err := row.Scan(
		&d.ID, &d.Name, &d.NZBHash, &d.JobName, &d.NZBMetaName, &d.Category,
		&d.Destination, &d.PostProcessMode, &d.Priority, &d.Status, &d.SizeBytesTotal,
		&d.CreatedAt, &d.StartedAt, &d.CompletedAt, &d.Error,
		&d.DirectUnpackState, &d.DirectUnpackExtractedCount,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

const downloadColumns = `id, name, nzb_hash, job_name, nzb_meta_name, category,
	destination, post_process_mode, priority, status, size_bytes_total,
	created_at, started_at, completed_at, error,
	direct_unpack_state, direct_unpack_extracted_count`

type articleDBO struct {
	ID            int64
	DownloadID    int64
	MessageID     string
	FileIndex     int
	SegmentNumber int
	SizeBytes     int64
	Status        string
	DownloadedAt  sql.NullTime
}

func (a *articleDBO) ToDomain() *domain.Article {
	out := &domain.Article{
		ID:            a.ID,
		DownloadID:    domain.DownloadId(a.DownloadID),
		MessageID:     a.MessageID,
		FileIndex:     a.FileIndex,
		SegmentNumber: a.SegmentNumber,
		SizeBytes:     a.SizeBytes,
		Status:        domain.ArticleStatus(a.Status),
	}
	if a.DownloadedAt.Valid {
		out.DownloadedAt = &a.DownloadedAt.Time
	}
	return out
}
