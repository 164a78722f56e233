package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const categoryColumns = "id, name, slug, description, created_at, updated_at"

func scanCategory(scanner interface{ Scan(dest ...any) error }) (*Category, error) {
	var (
		id          int64
		name        string
		slug        string
		description sql.NullString
		createdRaw  sql.NullString
		updatedRaw  sql.NullString
	)
	if err := scanner.Scan(&id, &name, &slug, &description, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	category := &Category{
		ID:          id,
		Name:        name,
		Slug:        slug,
		Description: description.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		category.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		category.UpdatedAt = updated
	}
	return category, nil
}

// CreateCategory inserts a new category.
func (s *Store) CreateCategory(ctx context.Context, name, slug, description string) (*Category, error) {
	if slug == "" {
		return nil, errors.New("category slug is required")
	}
	timestamp := nowStamp()
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO categories (name, slug, description, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		name,
		slug,
		nullableString(description),
		timestamp,
		timestamp,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("category slug %q already exists: %w", slug, err)
		}
		return nil, fmt.Errorf("insert category: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetCategory(ctx, id)
}

// GetCategory fetches a category by identifier.
func (s *Store) GetCategory(ctx context.Context, id int64) (*Category, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id = ?`, id)
	category, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get category: %w", err)
	}
	return category, nil
}

// GetCategoryBySlug fetches a category by its unique slug.
func (s *Store) GetCategoryBySlug(ctx context.Context, slug string) (*Category, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM categories WHERE slug = ?`, slug)
	category, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get category by slug: %w", err)
	}
	return category, nil
}

// ListCategories returns all categories ordered by name.
func (s *Store) ListCategories(ctx context.Context) ([]*Category, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+categoryColumns+` FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var categories []*Category
	for rows.Next() {
		category, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		categories = append(categories, category)
	}
	return categories, rows.Err()
}

// UpdateCategory persists changes to a category.
func (s *Store) UpdateCategory(ctx context.Context, category *Category) error {
	if category == nil {
		return errors.New("category is nil")
	}
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE categories SET name = ?, slug = ?, description = ?, updated_at = ? WHERE id = ?`,
		category.Name,
		category.Slug,
		nullableString(category.Description),
		nowStamp(),
		category.ID,
	); err != nil {
		return fmt.Errorf("update category: %w", err)
	}
	return nil
}

// RemoveCategory deletes a category; videos referencing it fall back to NULL.
func (s *Store) RemoveCategory(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM categories WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete category: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}
