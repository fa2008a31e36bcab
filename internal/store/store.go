package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLStore holds every query the proofing core issues. It runs unchanged on
// PostgreSQL and SQLite through the Adapter.
type SQLStore struct {
	db *Adapter
}

func NewSQLStore(db *Adapter) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Adapter() *Adapter {
	return s.db
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *SQLStore) InsertUser(ctx context.Context, user User) (int64, error) {
	role := user.Role
	if role == "" {
		role = "client"
	}
	res, err := s.db.Run(ctx, `
		INSERT INTO users (email, password, name, role)
		VALUES (?, ?, ?, ?)
	`, user.Email, user.Password, user.Name, role)
	if err != nil {
		return 0, fmt.Errorf("insert user: %w", err)
	}
	return res.LastInsertID, nil
}

func (s *SQLStore) InsertGallery(ctx context.Context, g Gallery) (int64, error) {
	status := g.Status
	if status == "" {
		status = GalleryActive
	}
	var password any
	if g.Password != "" {
		password = g.Password
	}
	var expiry any
	if g.ExpiryDate != nil {
		expiry = g.ExpiryDate.UTC()
	}
	res, err := s.db.Run(ctx, `
		INSERT INTO galleries (admin_id, name, description, share_link, password, expiry_date,
			allow_download, allow_bulk_download, allow_client_upload, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, g.AdminID, g.Name, g.Description, g.ShareLink, password, expiry,
		g.AllowDownload, g.AllowBulkDownload, g.AllowClientUpload, string(status))
	if err != nil {
		return 0, fmt.Errorf("insert gallery: %w", err)
	}
	return res.LastInsertID, nil
}

const gallerySelect = `
	SELECT g.id, g.admin_id, COALESCE(u.name, ''), g.name, g.description, g.share_link,
		COALESCE(g.password, ''), g.expiry_date, g.allow_download, g.allow_bulk_download,
		g.allow_client_upload, g.status, g.created_at
	FROM galleries g
	LEFT JOIN users u ON u.id = g.admin_id
`

func scanGallery(row *sql.Row) (Gallery, error) {
	var g Gallery
	var status string
	var expiry sql.NullTime
	err := row.Scan(&g.ID, &g.AdminID, &g.AdminName, &g.Name, &g.Description, &g.ShareLink,
		&g.Password, &expiry, &g.AllowDownload, &g.AllowBulkDownload,
		&g.AllowClientUpload, &status, &g.CreatedAt)
	if err != nil {
		return Gallery{}, notFound(err)
	}
	g.Status = GalleryStatus(status)
	if expiry.Valid {
		t := expiry.Time
		g.ExpiryDate = &t
	}
	return g, nil
}

func (s *SQLStore) GetGallery(ctx context.Context, galleryID int64) (Gallery, error) {
	return scanGallery(s.db.Get(ctx, gallerySelect+` WHERE g.id = ?`, galleryID))
}

// GetOwnedGallery returns ErrNotFound both when the gallery is missing and
// when another admin owns it.
func (s *SQLStore) GetOwnedGallery(ctx context.Context, galleryID, adminID int64) (Gallery, error) {
	return scanGallery(s.db.Get(ctx, gallerySelect+` WHERE g.id = ? AND g.admin_id = ?`, galleryID, adminID))
}

func (s *SQLStore) GetGalleryByShareLink(ctx context.Context, shareLink string) (Gallery, error) {
	return scanGallery(s.db.Get(ctx, gallerySelect+` WHERE g.share_link = ?`, shareLink))
}

func (s *SQLStore) InsertPhoto(ctx context.Context, p Photo) (int64, error) {
	res, err := s.db.Run(ctx, `
		INSERT INTO photos (gallery_id, filename, original_name, original_path, thumbnail_path,
			watermarked_path, width, height, size, mime_type, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.GalleryID, p.Filename, p.OriginalName, p.OriginalPath, p.ThumbnailPath,
		p.WatermarkedPath, p.Width, p.Height, p.Size, p.MimeType, p.Tags)
	if err != nil {
		return 0, fmt.Errorf("insert photo: %w", err)
	}
	return res.LastInsertID, nil
}

func (s *SQLStore) GetPhoto(ctx context.Context, photoID int64) (Photo, error) {
	var p Photo
	err := s.db.Get(ctx, `
		SELECT id, gallery_id, filename, original_name, original_path, thumbnail_path,
			watermarked_path, width, height, size, mime_type, tags, uploaded_at
		FROM photos
		WHERE id = ?
	`, photoID).Scan(&p.ID, &p.GalleryID, &p.Filename, &p.OriginalName, &p.OriginalPath, &p.ThumbnailPath,
		&p.WatermarkedPath, &p.Width, &p.Height, &p.Size, &p.MimeType, &p.Tags, &p.UploadedAt)
	if err != nil {
		return Photo{}, notFound(err)
	}
	return p, nil
}

// ListClientPhotos returns the gallery's photos annotated with one client's
// selection and favorite state, newest upload first.
func (s *SQLStore) ListClientPhotos(ctx context.Context, galleryID int64, clientID string) ([]ClientPhoto, error) {
	rows, err := s.db.Query(ctx, `
		SELECT p.id, p.gallery_id, p.filename, p.original_name, p.original_path, p.thumbnail_path,
			p.watermarked_path, p.width, p.height, p.size, p.mime_type, p.tags, p.uploaded_at,
			CASE WHEN s.id IS NOT NULL THEN 1 ELSE 0 END,
			COALESCE(s.status, ''),
			CASE WHEN f.id IS NOT NULL THEN 1 ELSE 0 END,
			(SELECT COUNT(*) FROM favorites fc WHERE fc.photo_id = p.id)
		FROM photos p
		LEFT JOIN selections s ON s.photo_id = p.id AND s.client_identifier = ?
		LEFT JOIN favorites f ON f.photo_id = p.id AND f.client_identifier = ?
		WHERE p.gallery_id = ?
		ORDER BY p.uploaded_at DESC, p.id DESC
	`, clientID, clientID, galleryID)
	if err != nil {
		return nil, fmt.Errorf("list client photos: %w", err)
	}
	defer rows.Close()

	items := make([]ClientPhoto, 0)
	for rows.Next() {
		var item ClientPhoto
		var selected, favorited int
		if err := rows.Scan(&item.ID, &item.GalleryID, &item.Filename, &item.OriginalName, &item.OriginalPath,
			&item.ThumbnailPath, &item.WatermarkedPath, &item.Width, &item.Height, &item.Size, &item.MimeType,
			&item.Tags, &item.UploadedAt, &selected, &item.SelectionStatus, &favorited, &item.FavoriteCount); err != nil {
			return nil, fmt.Errorf("scan client photo: %w", err)
		}
		item.IsSelected = selected == 1
		item.IsFavorited = favorited == 1
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate client photos: %w", err)
	}
	return items, nil
}

func (s *SQLStore) RecordAccess(ctx context.Context, galleryID int64, clientID string, at time.Time) error {
	_, err := s.db.Run(ctx, `
		INSERT INTO gallery_access (gallery_id, client_identifier, last_accessed)
		VALUES (?, ?, ?)
		ON CONFLICT (gallery_id, client_identifier)
		DO UPDATE SET last_accessed = excluded.last_accessed
	`, galleryID, clientID, at.UTC())
	if err != nil {
		return fmt.Errorf("record gallery access: %w", err)
	}
	return nil
}

func (s *SQLStore) ListAccessLog(ctx context.Context, galleryID int64) ([]AccessRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, gallery_id, client_identifier, client_name, client_email, last_accessed
		FROM gallery_access
		WHERE gallery_id = ?
		ORDER BY last_accessed DESC, id DESC
	`, galleryID)
	if err != nil {
		return nil, fmt.Errorf("list access log: %w", err)
	}
	defer rows.Close()

	items := make([]AccessRecord, 0)
	for rows.Next() {
		var item AccessRecord
		if err := rows.Scan(&item.ID, &item.GalleryID, &item.ClientIdentifier, &item.ClientName,
			&item.ClientEmail, &item.LastAccessed); err != nil {
			return nil, fmt.Errorf("scan access record: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate access log: %w", err)
	}
	return items, nil
}
