package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const vocabularyColumns = "id, user_ref, word, translation, phonetic, definition, example, video_id, timestamp_secs, context, mastery, review_count, created_at, updated_at"

func scanVocabulary(scanner interface{ Scan(dest ...any) error }) (*VocabularyEntry, error) {
	var (
		id          int64
		userRef     string
		word        string
		translation sql.NullString
		phonetic    sql.NullString
		definition  sql.NullString
		example     sql.NullString
		videoID     sql.NullInt64
		timestamp   sql.NullFloat64
		wordContext sql.NullString
		mastery     int
		reviewCount int
		createdRaw  sql.NullString
		updatedRaw  sql.NullString
	)
	if err := scanner.Scan(
		&id,
		&userRef,
		&word,
		&translation,
		&phonetic,
		&definition,
		&example,
		&videoID,
		&timestamp,
		&wordContext,
		&mastery,
		&reviewCount,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	entry := &VocabularyEntry{
		ID:          id,
		UserRef:     userRef,
		Word:        word,
		Translation: translation.String,
		Phonetic:    phonetic.String,
		Definition:  definition.String,
		Example:     example.String,
		Context:     wordContext.String,
		Mastery:     mastery,
		ReviewCount: reviewCount,
	}
	if videoID.Valid {
		value := videoID.Int64
		entry.VideoID = &value
	}
	if timestamp.Valid {
		value := timestamp.Float64
		entry.TimestampSecs = &value
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		entry.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		entry.UpdatedAt = updated
	}
	return entry, nil
}

// AddVocabulary inserts a saved word for a user.
func (s *Store) AddVocabulary(ctx context.Context, entry *VocabularyEntry) (*VocabularyEntry, error) {
	if entry == nil {
		return nil, errors.New("vocabulary entry is nil")
	}
	if entry.UserRef == "" || entry.Word == "" {
		return nil, errors.New("user and word are required")
	}
	if entry.Mastery < 0 || entry.Mastery > 5 {
		return nil, fmt.Errorf("mastery %d out of range 0-5", entry.Mastery)
	}

	timestamp := nowStamp()
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO user_vocabulary (
            user_ref, word, translation, phonetic, definition, example,
            video_id, timestamp_secs, context, mastery, review_count,
            created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.UserRef,
		entry.Word,
		nullableString(entry.Translation),
		nullableString(entry.Phonetic),
		nullableString(entry.Definition),
		nullableString(entry.Example),
		nullableInt64(entry.VideoID),
		nullableFloat64(entry.TimestampSecs),
		nullableString(entry.Context),
		entry.Mastery,
		entry.ReviewCount,
		timestamp,
		timestamp,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("word %q already saved for user: %w", entry.Word, err)
		}
		return nil, fmt.Errorf("insert vocabulary: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetVocabulary(ctx, id)
}

// GetVocabulary fetches one saved word by identifier.
func (s *Store) GetVocabulary(ctx context.Context, id int64) (*VocabularyEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+vocabularyColumns+` FROM user_vocabulary WHERE id = ?`, id)
	entry, err := scanVocabulary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get vocabulary: %w", err)
	}
	return entry, nil
}

// ListVocabulary returns a user's saved words ordered by creation time.
func (s *Store) ListVocabulary(ctx context.Context, userRef string) ([]*VocabularyEntry, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+vocabularyColumns+` FROM user_vocabulary WHERE user_ref = ? ORDER BY created_at`,
		userRef,
	)
	if err != nil {
		return nil, fmt.Errorf("list vocabulary: %w", err)
	}
	defer rows.Close()

	var entries []*VocabularyEntry
	for rows.Next() {
		entry, err := scanVocabulary(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ReviewVocabulary records a review outcome: mastery moves to the given level
// and the review counter increments.
func (s *Store) ReviewVocabulary(ctx context.Context, id int64, mastery int) error {
	if mastery < 0 || mastery > 5 {
		return fmt.Errorf("mastery %d out of range 0-5", mastery)
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE user_vocabulary SET mastery = ?, review_count = review_count + 1, updated_at = ? WHERE id = ?`,
		mastery,
		nowStamp(),
		id,
	)
	if err != nil {
		return fmt.Errorf("review vocabulary: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("vocabulary entry %d not found", id)
	}
	return nil
}

// RemoveVocabulary deletes a saved word.
func (s *Store) RemoveVocabulary(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM user_vocabulary WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete vocabulary: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}
