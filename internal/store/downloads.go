package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jvz-devx/usenetd/internal/domain"
)

// InsertDownload creates a new download row. Duplicate handling (by
// nzb_hash/name/job_name) is the caller's responsibility per the configured
// DuplicateMethod/DuplicateAction, checked with FindByNZBHash et al. before
// calling this.
func (s *PersistentStore) InsertDownload(ctx context.Context, d *domain.Download) (domain.DownloadId, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO downloads (name, nzb_hash, job_name, nzb_meta_name, category,
			destination, post_process_mode, priority, status, size_bytes_total)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Name, d.NZBHash, d.JobName, d.NZBMetaName, d.Category, d.Destination,
		string(d.PostProcessMode), d.Priority, string(d.Status), d.SizeBytesTotal,
	)
	if err != nil {
		return 0, fmt.Errorf("insert download: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return domain.DownloadId(id), nil
}

func (s *PersistentStore) GetDownload(ctx context.Context, id domain.DownloadId) (*domain.Download, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+downloadColumns+" FROM downloads WHERE id = ?", int64(id))
	d, err := scanDownload(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.NewError(domain.ErrKindNotFound, "download %d not found", id)
		}
		return nil, err
	}
	return d.ToDomain(), nil
}

func (s *PersistentStore) ListDownloads(ctx context.Context) ([]*domain.Download, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+downloadColumns+" FROM downloads ORDER BY priority DESC, created_at ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDownloadRows(rows)
}

// GetIncompleteDownloads returns every download whose status is still
// Queued, Downloading, or Processing — the restart-resume set.
func (s *PersistentStore) GetIncompleteDownloads(ctx context.Context) ([]*domain.Download, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+downloadColumns+` FROM downloads
		WHERE status IN ('Queued', 'Downloading', 'Processing')
		ORDER BY priority DESC, created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDownloadRows(rows)
}

func scanDownloadRows(rows *sql.Rows) ([]*domain.Download, error) {
	var out []*domain.Download
	for rows.Next() {
		d, err := scanDownload(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d.ToDomain())
	}
	return out, rows.Err()
}

func (s *PersistentStore) FindByNZBHash(ctx context.Context, hash string) (*domain.Download, error) {
	return s.findOneBy(ctx, "nzb_hash", hash)
}

func (s *PersistentStore) FindByName(ctx context.Context, name string) (*domain.Download, error) {
	return s.findOneBy(ctx, "name", name)
}

func (s *PersistentStore) FindByJobName(ctx context.Context, jobName string) (*domain.Download, error) {
	return s.findOneBy(ctx, "job_name", jobName)
}

func (s *PersistentStore) findOneBy(ctx context.Context, column, value string) (*domain.Download, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+downloadColumns+" FROM downloads WHERE "+column+" = ? LIMIT 1", value)
	d, err := scanDownload(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return d.ToDomain(), nil
}

func (s *PersistentStore) UpdateStatus(ctx context.Context, id domain.DownloadId, status domain.JobStatus) error {
	_, err := s.db.ExecContext(ctx, "UPDATE downloads SET status = ? WHERE id = ?", string(status), int64(id))
	return err
}

func (s *PersistentStore) SetStarted(ctx context.Context, id domain.DownloadId, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE downloads SET status = 'Downloading', started_at = ? WHERE id = ?", at, int64(id))
	return err
}

func (s *PersistentStore) SetCompleted(ctx context.Context, id domain.DownloadId, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE downloads SET status = 'Complete', completed_at = ?, error = NULL WHERE id = ?", at, int64(id))
	return err
}

func (s *PersistentStore) SetError(ctx context.Context, id domain.DownloadId, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE downloads SET status = 'Failed', error = ? WHERE id = ?", errMsg, int64(id))
	return err
}

func (s *PersistentStore) UpdatePriority(ctx context.Context, id domain.DownloadId, priority int) error {
	_, err := s.db.ExecContext(ctx, "UPDATE downloads SET priority = ? WHERE id = ?", priority, int64(id))
	return err
}

func (s *PersistentStore) UpdateDirectUnpackState(ctx context.Context, id domain.DownloadId, state domain.DirectUnpackState, extractedCount int) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE downloads SET direct_unpack_state = ?, direct_unpack_extracted_count = ? WHERE id = ?",
		string(state), extractedCount, int64(id))
	return err
}

func (s *PersistentStore) MarkScriptsRun(ctx context.Context, id domain.DownloadId) error {
	_, err := s.db.ExecContext(ctx, "UPDATE downloads SET scripts_run = 1 WHERE id = ?", int64(id))
	return err
}

// SetCleanShutdown resets any download stuck Downloading/Processing back to
// Queued on restart, the same "unexpected shutdown" recovery the teacher's
// ResetStuckQueueItems performed.
func (s *PersistentStore) SetCleanShutdown(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE downloads SET status = 'Queued'
		WHERE status IN ('Downloading', 'Processing')`)
	return err
}

func (s *PersistentStore) DeleteDownload(ctx context.Context, id domain.DownloadId) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM downloads WHERE id = ?", int64(id))
	return err
}
