package store

import (
	"context"
	"database/sql"
)

// SaveCachedPassword remembers a working archive password for an nzb_hash,
// so cancel→re-add of the same release skips the password-list retry.
func (s *PersistentStore) SaveCachedPassword(ctx context.Context, nzbHash, password string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cached_passwords (nzb_hash, password) VALUES (?, ?)
		ON CONFLICT(nzb_hash) DO UPDATE SET password = excluded.password`,
		nzbHash, password)
	return err
}

func (s *PersistentStore) GetCachedPassword(ctx context.Context, nzbHash string) (string, bool, error) {
	var pw string
	err := s.db.QueryRowContext(ctx, "SELECT password FROM cached_passwords WHERE nzb_hash = ?", nzbHash).Scan(&pw)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, err
	}
	return pw, true, nil
}
