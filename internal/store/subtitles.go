package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const subtitleColumns = "id, video_id, language, language_name, storage_key, is_default, source, created_at, updated_at"

func scanSubtitle(scanner interface{ Scan(dest ...any) error }) (*Subtitle, error) {
	var (
		id           int64
		videoID      int64
		language     string
		languageName sql.NullString
		storageKey   string
		isDefault    sql.NullInt64
		source       string
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
	)
	if err := scanner.Scan(&id, &videoID, &language, &languageName, &storageKey, &isDefault, &source, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	subtitle := &Subtitle{
		ID:           id,
		VideoID:      videoID,
		Language:     language,
		LanguageName: languageName.String,
		StorageKey:   storageKey,
		IsDefault:    isDefault.Valid && isDefault.Int64 != 0,
		Source:       SubtitleSource(source),
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		subtitle.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		subtitle.UpdatedAt = updated
	}
	return subtitle, nil
}

// ReplaceSubtitles swaps a video's caption tracks in one transaction. Exactly
// one entry must be marked default; re-runs of the emit stage converge on the
// same rows.
func (s *Store) ReplaceSubtitles(ctx context.Context, videoID int64, subtitles []*Subtitle) error {
	defaults := 0
	for _, subtitle := range subtitles {
		if subtitle == nil {
			return errors.New("subtitle is nil")
		}
		if subtitle.IsDefault {
			defaults++
		}
	}
	if len(subtitles) > 0 && defaults != 1 {
		return fmt.Errorf("expected exactly one default subtitle, got %d", defaults)
	}

	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin subtitles tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `DELETE FROM subtitles WHERE video_id = ?`, videoID); err != nil {
			return fmt.Errorf("clear subtitles: %w", err)
		}

		timestamp := nowStamp()
		for _, subtitle := range subtitles {
			if _, err := tx.ExecContext(
				ctx,
				`INSERT INTO subtitles (
                    video_id, language, language_name, storage_key, is_default,
                    source, created_at, updated_at
                ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				videoID,
				subtitle.Language,
				nullableString(subtitle.LanguageName),
				subtitle.StorageKey,
				boolToInt(subtitle.IsDefault),
				string(subtitle.Source),
				timestamp,
				timestamp,
			); err != nil {
				return fmt.Errorf("insert subtitle %s: %w", subtitle.Language, err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit subtitles: %w", err)
		}
		return nil
	})
}

// ListSubtitles returns a video's caption tracks with the default track first.
func (s *Store) ListSubtitles(ctx context.Context, videoID int64) ([]*Subtitle, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+subtitleColumns+` FROM subtitles WHERE video_id = ? ORDER BY is_default DESC, language`,
		videoID,
	)
	if err != nil {
		return nil, fmt.Errorf("list subtitles: %w", err)
	}
	defer rows.Close()

	var subtitles []*Subtitle
	for rows.Next() {
		subtitle, err := scanSubtitle(rows)
		if err != nil {
			return nil, err
		}
		subtitles = append(subtitles, subtitle)
	}
	return subtitles, rows.Err()
}

// RemoveSubtitles deletes all caption rows for a video.
func (s *Store) RemoveSubtitles(ctx context.Context, videoID int64) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM subtitles WHERE video_id = ?`, videoID)
	if err != nil {
		return 0, fmt.Errorf("delete subtitles: %w", err)
	}
	return res.RowsAffected()
}
