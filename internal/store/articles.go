package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jvz-devx/usenetd/internal/domain"
)

// InsertArticlesBatch writes one row per NZB <segment>, chunked to stay
// under SQLite's bound-parameter ceiling (999 / 6 columns here).
func (s *PersistentStore) InsertArticlesBatch(ctx context.Context, downloadID domain.DownloadId, articles []*domain.Article) error {
	if len(articles) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, bound := range chunks(len(articles)) {
		batch := articles[bound[0]:bound[1]]
		placeholders := make([]string, len(batch))
		args := make([]any, 0, len(batch)*6)
		for i, a := range batch {
			placeholders[i] = "(?, ?, ?, ?, ?, ?)"
			args = append(args, int64(downloadID), a.MessageID, a.FileIndex, a.SegmentNumber, a.SizeBytes, string(domain.ArticlePending))
		}
		query := fmt.Sprintf(
			"INSERT INTO articles (download_id, message_id, file_index, segment_number, size_bytes, status) VALUES %s",
			strings.Join(placeholders, ", "))
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert articles batch: %w", err)
		}
	}

	return tx.Commit()
}

// GetPendingArticles returns every undownloaded article for a download. A
// LEFT JOIN against download_files tolerates legacy records whose articles
// predate per-file metadata (spec.md §4.4.2 Phase 3 / §6) — those still
// come back as pending instead of vanishing into a false Complete. When
// directRename is set, PAR2 volumes (file names ending .par2) sort first,
// the front-loading spec.md's batching section requires so Verify can
// start before the main file set finishes; otherwise ordering is plain
// file/segment order.
func (s *PersistentStore) GetPendingArticles(ctx context.Context, downloadID domain.DownloadId, directRename bool) ([]*domain.Article, error) {
	par2First := "1"
	if directRename {
		par2First = "CASE WHEN f.file_name LIKE '%.par2' THEN 0 ELSE 1 END"
	}
	query := fmt.Sprintf(`
		SELECT a.id, a.download_id, a.message_id, a.file_index, a.segment_number, a.size_bytes, a.status, a.downloaded_at
		FROM articles a
		LEFT JOIN download_files f ON f.download_id = a.download_id AND f.file_index = a.file_index
		WHERE a.download_id = ? AND a.status = 'Pending'
		ORDER BY %s, a.file_index ASC, a.segment_number ASC`, par2First)
	rows, err := s.db.QueryContext(ctx, query, int64(downloadID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Article
	for rows.Next() {
		var a articleDBO
		if err := rows.Scan(&a.ID, &a.DownloadID, &a.MessageID, &a.FileIndex, &a.SegmentNumber, &a.SizeBytes, &a.Status, &a.DownloadedAt); err != nil {
			return nil, err
		}
		out = append(out, a.ToDomain())
	}
	return out, rows.Err()
}

func (s *PersistentStore) UpdateArticleStatus(ctx context.Context, articleID int64, status domain.ArticleStatus) error {
	if status == domain.ArticleDownloaded {
		_, err := s.db.ExecContext(ctx,
			"UPDATE articles SET status = ?, downloaded_at = ? WHERE id = ?", string(status), time.Now(), articleID)
		return err
	}
	_, err := s.db.ExecContext(ctx, "UPDATE articles SET status = ? WHERE id = ?", string(status), articleID)
	return err
}

// ArticleStatusUpdate is one pending write for UpdateArticleStatusBatch.
type ArticleStatusUpdate struct {
	ArticleID int64
	Status    domain.ArticleStatus
}

// UpdateArticleStatusBatch applies every update in one transaction — the
// batch-status-writer's amortized flush the download task's background
// helper calls on a timer instead of one transaction per article.
func (s *PersistentStore) UpdateArticleStatusBatch(ctx context.Context, updates []ArticleStatusUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	for _, u := range updates {
		if u.Status == domain.ArticleDownloaded {
			if _, err := tx.ExecContext(ctx, "UPDATE articles SET status = ?, downloaded_at = ? WHERE id = ?",
				string(u.Status), now, u.ArticleID); err != nil {
				return fmt.Errorf("update article status batch: %w", err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, "UPDATE articles SET status = ? WHERE id = ?", string(u.Status), u.ArticleID); err != nil {
			return fmt.Errorf("update article status batch: %w", err)
		}
	}
	return tx.Commit()
}

// ArticleCounts reports total/downloaded/failed counts, the inputs to the
// failure-ratio and fast-fail checks.
func (s *PersistentStore) ArticleCounts(ctx context.Context, downloadID domain.DownloadId) (total, downloaded, failed int, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			SUM(CASE WHEN status = 'Downloaded' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'Failed' THEN 1 ELSE 0 END)
		FROM articles WHERE download_id = ?`, int64(downloadID))
	var d, f sql.NullInt64
	if scanErr := row.Scan(&total, &d, &f); scanErr != nil {
		return 0, 0, 0, scanErr
	}
	if d.Valid {
		downloaded = int(d.Int64)
	}
	if f.Valid {
		failed = int(f.Int64)
	}
	return total, downloaded, failed, nil
}
