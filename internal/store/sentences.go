package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const sentenceColumns = "id, video_id, sentence_index, text, start_time, end_time, words_json, translations_json, created_at"

func scanSentence(scanner interface{ Scan(dest ...any) error }) (*Sentence, error) {
	var (
		id            int64
		videoID       int64
		sentenceIndex int
		text          string
		startTime     float64
		endTime       float64
		words         sql.NullString
		translations  sql.NullString
		createdRaw    sql.NullString
	)
	if err := scanner.Scan(&id, &videoID, &sentenceIndex, &text, &startTime, &endTime, &words, &translations, &createdRaw); err != nil {
		return nil, err
	}
	sentence := &Sentence{
		ID:               id,
		VideoID:          videoID,
		SentenceIndex:    sentenceIndex,
		Text:             text,
		StartTime:        startTime,
		EndTime:          endTime,
		WordsJSON:        words.String,
		TranslationsJSON: translations.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		sentence.CreatedAt = created
	}
	return sentence, nil
}

// ReplaceSentences swaps a video's transcript sentences in one transaction so
// stage re-runs converge on the same rows.
func (s *Store) ReplaceSentences(ctx context.Context, videoID int64, sentences []*Sentence) error {
	for _, sentence := range sentences {
		if sentence == nil {
			return errors.New("sentence is nil")
		}
	}

	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin sentences tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `DELETE FROM transcript_sentences WHERE video_id = ?`, videoID); err != nil {
			return fmt.Errorf("clear sentences: %w", err)
		}

		timestamp := nowStamp()
		for _, sentence := range sentences {
			if _, err := tx.ExecContext(
				ctx,
				`INSERT INTO transcript_sentences (
                    video_id, sentence_index, text, start_time, end_time,
                    words_json, translations_json, created_at
                ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				videoID,
				sentence.SentenceIndex,
				sentence.Text,
				sentence.StartTime,
				sentence.EndTime,
				nullableString(sentence.WordsJSON),
				nullableString(sentence.TranslationsJSON),
				timestamp,
			); err != nil {
				return fmt.Errorf("insert sentence %d: %w", sentence.SentenceIndex, err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit sentences: %w", err)
		}
		return nil
	})
}

// UpdateSentenceTranslations overwrites the translations payload for every
// sentence of a video in one transaction. Missing indices are an error so a
// partially translated video never commits.
func (s *Store) UpdateSentenceTranslations(ctx context.Context, videoID int64, translationsByIndex map[int]string) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin translations tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		for index, payload := range translationsByIndex {
			res, err := tx.ExecContext(
				ctx,
				`UPDATE transcript_sentences SET translations_json = ? WHERE video_id = ? AND sentence_index = ?`,
				payload,
				videoID,
				index,
			)
			if err != nil {
				return fmt.Errorf("update translations for sentence %d: %w", index, err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			if affected == 0 {
				return fmt.Errorf("sentence %d not found for video %d", index, videoID)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit translations: %w", err)
		}
		return nil
	})
}

// ListSentences returns a video's sentences in transcript order.
func (s *Store) ListSentences(ctx context.Context, videoID int64) ([]*Sentence, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+sentenceColumns+` FROM transcript_sentences WHERE video_id = ? ORDER BY sentence_index`,
		videoID,
	)
	if err != nil {
		return nil, fmt.Errorf("list sentences: %w", err)
	}
	defer rows.Close()

	var sentences []*Sentence
	for rows.Next() {
		sentence, err := scanSentence(rows)
		if err != nil {
			return nil, err
		}
		sentences = append(sentences, sentence)
	}
	return sentences, rows.Err()
}

// RemoveSentences deletes all transcript rows for a video.
func (s *Store) RemoveSentences(ctx context.Context, videoID int64) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM transcript_sentences WHERE video_id = ?`, videoID)
	if err != nil {
		return 0, fmt.Errorf("delete sentences: %w", err)
	}
	return res.RowsAffected()
}
