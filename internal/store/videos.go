package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const videoColumns = "id, title, slug, description, source_url, duration_secs, level, language, category_id, owner, status, thumbnail_key, audio_key, resolution, view_count, published_at, created_at, updated_at"

func scanVideo(scanner interface{ Scan(dest ...any) error }) (*Video, error) {
	var (
		id           int64
		title        string
		slug         string
		description  sql.NullString
		sourceURL    string
		duration     sql.NullFloat64
		level        string
		language     string
		categoryID   sql.NullInt64
		owner        sql.NullString
		status       string
		thumbnailKey sql.NullString
		audioKey     sql.NullString
		resolution   sql.NullString
		viewCount    sql.NullInt64
		publishedRaw sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&title,
		&slug,
		&description,
		&sourceURL,
		&duration,
		&level,
		&language,
		&categoryID,
		&owner,
		&status,
		&thumbnailKey,
		&audioKey,
		&resolution,
		&viewCount,
		&publishedRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	video := &Video{
		ID:           id,
		Title:        title,
		Slug:         slug,
		Description:  description.String,
		SourceURL:    sourceURL,
		DurationSecs: duration.Float64,
		Level:        Level(level),
		Language:     language,
		Owner:        owner.String,
		Status:       VideoStatus(status),
		ThumbnailKey: thumbnailKey.String,
		AudioKey:     audioKey.String,
		Resolution:   resolution.String,
		ViewCount:    viewCount.Int64,
	}
	if categoryID.Valid {
		value := categoryID.Int64
		video.CategoryID = &value
	}
	video.PublishedAt = timePointer(publishedRaw)
	if created, err := parseTimeString(createdRaw.String); err == nil {
		video.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		video.UpdatedAt = updated
	}
	return video, nil
}

// CreateVideo inserts a new video in draft state.
func (s *Store) CreateVideo(ctx context.Context, video *Video) (*Video, error) {
	if video == nil {
		return nil, errors.New("video is nil")
	}
	if video.Slug == "" {
		return nil, errors.New("video slug is required")
	}
	status := video.Status
	if status == "" {
		status = VideoStatusDraft
	}
	timestamp := nowStamp()

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO videos (
            title, slug, description, source_url, duration_secs, level, language,
            category_id, owner, status, thumbnail_key, audio_key, resolution,
            view_count, published_at, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		video.Title,
		video.Slug,
		nullableString(video.Description),
		video.SourceURL,
		video.DurationSecs,
		string(video.Level),
		video.Language,
		nullableInt64(video.CategoryID),
		nullableString(video.Owner),
		status,
		nullableString(video.ThumbnailKey),
		nullableString(video.AudioKey),
		nullableString(video.Resolution),
		video.ViewCount,
		nullableTime(video.PublishedAt),
		timestamp,
		timestamp,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("video slug %q already exists: %w", video.Slug, err)
		}
		return nil, fmt.Errorf("insert video: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetVideo(ctx, id)
}

// GetVideo fetches a video by identifier.
func (s *Store) GetVideo(ctx context.Context, id int64) (*Video, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = ?`, id)
	video, err := scanVideo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get video: %w", err)
	}
	return video, nil
}

// GetVideoBySlug fetches a video by its unique slug.
func (s *Store) GetVideoBySlug(ctx context.Context, slug string) (*Video, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM videos WHERE slug = ?`, slug)
	video, err := scanVideo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get video by slug: %w", err)
	}
	return video, nil
}

// ListVideos returns videos filtered by status set (or all videos when no
// status is provided), ordered by creation time.
func (s *Store) ListVideos(ctx context.Context, statuses ...VideoStatus) ([]*Video, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + videoColumns + ` FROM videos`
	orderClause := ` ORDER BY created_at`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	defer rows.Close()

	var videos []*Video
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		videos = append(videos, video)
	}
	return videos, rows.Err()
}

// UpdateVideo persists changes to an existing video.
func (s *Store) UpdateVideo(ctx context.Context, video *Video) error {
	if video == nil {
		return errors.New("video is nil")
	}
	video.UpdatedAt = time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE videos
         SET title = ?, slug = ?, description = ?, source_url = ?, duration_secs = ?,
             level = ?, language = ?, category_id = ?, owner = ?, status = ?,
             thumbnail_key = ?, audio_key = ?, resolution = ?, view_count = ?,
             published_at = ?, updated_at = ?
         WHERE id = ?`,
		video.Title,
		video.Slug,
		nullableString(video.Description),
		video.SourceURL,
		video.DurationSecs,
		string(video.Level),
		video.Language,
		nullableInt64(video.CategoryID),
		nullableString(video.Owner),
		video.Status,
		nullableString(video.ThumbnailKey),
		nullableString(video.AudioKey),
		nullableString(video.Resolution),
		video.ViewCount,
		nullableTime(video.PublishedAt),
		video.UpdatedAt.Format(time.RFC3339Nano),
		video.ID,
	); err != nil {
		return fmt.Errorf("update video: %w", err)
	}
	return nil
}

// SetVideoStatus updates only the status projection of a video. Publishing
// stamps published_at; any other transition clears it.
func (s *Store) SetVideoStatus(ctx context.Context, id int64, status VideoStatus) error {
	timestamp := nowStamp()
	var published any
	if status == VideoStatusPublished {
		published = timestamp
	}
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE videos SET status = ?, published_at = ?, updated_at = ? WHERE id = ?`,
		status,
		published,
		timestamp,
		id,
	); err != nil {
		return fmt.Errorf("set video status: %w", err)
	}
	return nil
}

// RemoveVideo deletes a video and, via cascading foreign keys, its subtitles,
// sentences, and jobs.
func (s *Store) RemoveVideo(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM videos WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete video: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}
