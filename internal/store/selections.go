package store

import (
	"context"
	"errors"
	"fmt"
)

// errLostInsertRace rolls back a toggle whose insert collided with a
// concurrent insert of the same row.
var errLostInsertRace = errors.New("lost insert race")

// ToggleSelection flips the presence of the (photo, client) selection row.
// A concurrent insert that loses on the unique constraint resolves to the
// winner's row, so the caller sees selected=true rather than an error.
func (s *SQLStore) ToggleSelection(ctx context.Context, photoID, galleryID int64, clientID string) (bool, error) {
	selected := false
	err := s.db.InTx(ctx, func(q Querier) error {
		res, err := q.Run(ctx, `
			DELETE FROM selections WHERE photo_id = ? AND client_identifier = ?
		`, photoID, clientID)
		if err != nil {
			return fmt.Errorf("delete selection: %w", err)
		}
		if res.RowsAffected > 0 {
			selected = false
			return nil
		}

		_, err = q.Run(ctx, `
			INSERT INTO selections (photo_id, gallery_id, client_identifier, status)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (photo_id, client_identifier) DO NOTHING
		`, photoID, galleryID, clientID, string(StatusPending))
		if IsUniqueViolation(err) {
			return errLostInsertRace
		}
		if err != nil {
			return fmt.Errorf("insert selection: %w", err)
		}
		selected = true
		return nil
	})
	if errors.Is(err, errLostInsertRace) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return selected, nil
}

// SelectAll inserts a pending selection for every photo in the gallery the
// client has not already selected. Existing rows keep their status. It
// returns the number of photos in the gallery.
func (s *SQLStore) SelectAll(ctx context.Context, galleryID int64, clientID string) (int, error) {
	var photos int
	err := s.db.InTx(ctx, func(q Querier) error {
		if _, err := q.Run(ctx, `
			INSERT INTO selections (photo_id, gallery_id, client_identifier, status)
			SELECT p.id, p.gallery_id, CAST(? AS TEXT), CAST(? AS TEXT)
			FROM photos p
			WHERE p.gallery_id = ?
			ON CONFLICT (photo_id, client_identifier) DO NOTHING
		`, clientID, string(StatusPending), galleryID); err != nil {
			return fmt.Errorf("select all: %w", err)
		}
		if err := q.Get(ctx, `SELECT COUNT(*) FROM photos WHERE gallery_id = ?`, galleryID).Scan(&photos); err != nil {
			return fmt.Errorf("count gallery photos: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return photos, nil
}

// DeselectAll removes every selection the client holds in the gallery,
// whatever its status.
func (s *SQLStore) DeselectAll(ctx context.Context, galleryID int64, clientID string) (int64, error) {
	res, err := s.db.Run(ctx, `
		DELETE FROM selections WHERE gallery_id = ? AND client_identifier = ?
	`, galleryID, clientID)
	if err != nil {
		return 0, fmt.Errorf("deselect all: %w", err)
	}
	return res.RowsAffected, nil
}

func (s *SQLStore) ToggleFavorite(ctx context.Context, photoID, galleryID int64, clientID string) (bool, error) {
	favorited := false
	err := s.db.InTx(ctx, func(q Querier) error {
		res, err := q.Run(ctx, `
			DELETE FROM favorites WHERE photo_id = ? AND client_identifier = ?
		`, photoID, clientID)
		if err != nil {
			return fmt.Errorf("delete favorite: %w", err)
		}
		if res.RowsAffected > 0 {
			favorited = false
			return nil
		}

		_, err = q.Run(ctx, `
			INSERT INTO favorites (photo_id, gallery_id, client_identifier)
			VALUES (?, ?, ?)
			ON CONFLICT (photo_id, client_identifier) DO NOTHING
		`, photoID, galleryID, clientID)
		if IsUniqueViolation(err) {
			return errLostInsertRace
		}
		if err != nil {
			return fmt.Errorf("insert favorite: %w", err)
		}
		favorited = true
		return nil
	})
	if errors.Is(err, errLostInsertRace) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return favorited, nil
}

// GetOwnedSelection loads a selection only if its gallery belongs to adminID.
func (s *SQLStore) GetOwnedSelection(ctx context.Context, selectionID, adminID int64) (Selection, error) {
	var item Selection
	var status string
	err := s.db.Get(ctx, `
		SELECT s.id, s.photo_id, s.gallery_id, s.client_identifier, s.status, s.created_at
		FROM selections s
		JOIN galleries g ON g.id = s.gallery_id
		WHERE s.id = ? AND g.admin_id = ?
	`, selectionID, adminID).Scan(&item.ID, &item.PhotoID, &item.GalleryID, &item.ClientIdentifier, &status, &item.CreatedAt)
	if err != nil {
		return Selection{}, notFound(err)
	}
	item.Status = SelectionStatus(status)
	return item, nil
}

func (s *SQLStore) SetSelectionStatus(ctx context.Context, selectionID int64, status SelectionStatus) error {
	res, err := s.db.Run(ctx, `UPDATE selections SET status = ? WHERE id = ?`, string(status), selectionID)
	if err != nil {
		return fmt.Errorf("update selection status: %w", err)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetOwnedSelectionStatuses overwrites the status of every listed selection.
// All ids must belong to galleries owned by adminID; otherwise nothing is
// changed and ErrNotFound is returned.
func (s *SQLStore) SetOwnedSelectionStatuses(ctx context.Context, selectionIDs []int64, adminID int64, status SelectionStatus) (int64, error) {
	ids := uniqueIDs(selectionIDs)
	if len(ids) == 0 {
		return 0, nil
	}
	ownedQuery, ownedArgs, err := expandIn(`
		SELECT COUNT(*)
		FROM selections s
		JOIN galleries g ON g.id = s.gallery_id
		WHERE s.id IN (?) AND g.admin_id = ?
	`, ids, adminID)
	if err != nil {
		return 0, err
	}
	updateQuery, updateArgs, err := expandIn(`
		UPDATE selections SET status = ? WHERE id IN (?)
	`, string(status), ids)
	if err != nil {
		return 0, err
	}

	var updated int64
	err = s.db.InTx(ctx, func(q Querier) error {
		var owned int
		if err := q.Get(ctx, ownedQuery, ownedArgs...).Scan(&owned); err != nil {
			return fmt.Errorf("check selection ownership: %w", err)
		}
		if owned != len(ids) {
			return ErrNotFound
		}

		res, err := q.Run(ctx, updateQuery, updateArgs...)
		if err != nil {
			return fmt.Errorf("bulk update selection status: %w", err)
		}
		updated = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}

const selectionListSelect = `
	SELECT s.id, s.photo_id, s.gallery_id, s.client_identifier, s.status, s.created_at,
		p.filename, p.original_name, p.thumbnail_path
	FROM selections s
	JOIN photos p ON p.id = s.photo_id
`

func (s *SQLStore) ListClientSelections(ctx context.Context, galleryID int64, clientID string) ([]Selection, error) {
	return s.listSelections(ctx, selectionListSelect+`
		WHERE s.gallery_id = ? AND s.client_identifier = ?
		ORDER BY s.created_at DESC, s.id DESC
	`, galleryID, clientID)
}

func (s *SQLStore) ListGallerySelections(ctx context.Context, galleryID int64) ([]Selection, error) {
	return s.listSelections(ctx, selectionListSelect+`
		WHERE s.gallery_id = ?
		ORDER BY s.created_at DESC, s.id DESC
	`, galleryID)
}

func (s *SQLStore) listSelections(ctx context.Context, query string, args ...any) ([]Selection, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list selections: %w", err)
	}
	defer rows.Close()

	items := make([]Selection, 0)
	for rows.Next() {
		var item Selection
		var status string
		if err := rows.Scan(&item.ID, &item.PhotoID, &item.GalleryID, &item.ClientIdentifier, &status,
			&item.CreatedAt, &item.Filename, &item.OriginalName, &item.ThumbnailPath); err != nil {
			return nil, fmt.Errorf("scan selection: %w", err)
		}
		item.Status = SelectionStatus(status)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate selections: %w", err)
	}
	return items, nil
}

func (s *SQLStore) ListClientFavorites(ctx context.Context, galleryID int64, clientID string) ([]Favorite, error) {
	rows, err := s.db.Query(ctx, `
		SELECT f.id, f.photo_id, f.gallery_id, f.client_identifier, f.created_at,
			p.filename, p.original_name, p.thumbnail_path
		FROM favorites f
		JOIN photos p ON p.id = f.photo_id
		WHERE f.gallery_id = ? AND f.client_identifier = ?
		ORDER BY f.created_at DESC, f.id DESC
	`, galleryID, clientID)
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	defer rows.Close()

	items := make([]Favorite, 0)
	for rows.Next() {
		var item Favorite
		if err := rows.Scan(&item.ID, &item.PhotoID, &item.GalleryID, &item.ClientIdentifier, &item.CreatedAt,
			&item.Filename, &item.OriginalName, &item.ThumbnailPath); err != nil {
			return nil, fmt.Errorf("scan favorite: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate favorites: %w", err)
	}
	return items, nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
