package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jvz-devx/usenetd/internal/domain"
)

// InsertFilesBatch writes one row per NZB <file> element, chunked to stay
// under SQLite's bound-parameter ceiling.
func (s *PersistentStore) InsertFilesBatch(ctx context.Context, downloadID domain.DownloadId, files []*domain.DownloadFile) error {
	if len(files) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, bound := range chunks(len(files)) {
		batch := files[bound[0]:bound[1]]
		placeholders := make([]string, len(batch))
		args := make([]any, 0, len(batch)*4)
		for i, f := range batch {
			placeholders[i] = "(?, ?, ?, ?, ?)"
			args = append(args, int64(downloadID), f.FileIndex, f.FileName, f.Subject, f.TotalSegments)
		}
		query := fmt.Sprintf(
			"INSERT INTO download_files (download_id, file_index, file_name, subject, total_segments) VALUES %s",
			strings.Join(placeholders, ", "))
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert files batch: %w", err)
		}
	}

	return tx.Commit()
}

func (s *PersistentStore) GetFiles(ctx context.Context, downloadID domain.DownloadId) ([]*domain.DownloadFile, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT download_id, file_index, file_name, subject, total_segments FROM download_files WHERE download_id = ? ORDER BY file_index ASC",
		int64(downloadID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.DownloadFile
	for rows.Next() {
		var f domain.DownloadFile
		var did int64
		if err := rows.Scan(&did, &f.FileIndex, &f.FileName, &f.Subject, &f.TotalSegments); err != nil {
			return nil, err
		}
		f.DownloadID = domain.DownloadId(did)
		out = append(out, &f)
	}
	return out, rows.Err()
}
