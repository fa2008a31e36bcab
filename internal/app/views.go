package app

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gnanamtech85-ops/photo-proofing-app/internal/store"
)

type selectionView struct {
	ID               int64     `json:"id"`
	PhotoID          int64     `json:"photo_id"`
	GalleryID        int64     `json:"gallery_id"`
	ClientIdentifier string    `json:"client_identifier"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	Filename         string    `json:"filename"`
	OriginalName     string    `json:"original_name"`
	ThumbnailURL     string    `json:"thumbnail_url"`
}

func (s *Service) selectionView(ctx context.Context, sel store.Selection) selectionView {
	return selectionView{
		ID:               sel.ID,
		PhotoID:          sel.PhotoID,
		GalleryID:        sel.GalleryID,
		ClientIdentifier: sel.ClientIdentifier,
		Status:           string(sel.Status),
		CreatedAt:        sel.CreatedAt,
		Filename:         sel.Filename,
		OriginalName:     sel.OriginalName,
		ThumbnailURL:     s.resolve(ctx, sel.ThumbnailPath),
	}
}

type favoriteView struct {
	ID               int64     `json:"id"`
	PhotoID          int64     `json:"photo_id"`
	GalleryID        int64     `json:"gallery_id"`
	ClientIdentifier string    `json:"client_identifier"`
	CreatedAt        time.Time `json:"created_at"`
	Filename         string    `json:"filename"`
	OriginalName     string    `json:"original_name"`
	ThumbnailURL     string    `json:"thumbnail_url"`
}

func (s *Service) favoriteView(ctx context.Context, fav store.Favorite) favoriteView {
	return favoriteView{
		ID:               fav.ID,
		PhotoID:          fav.PhotoID,
		GalleryID:        fav.GalleryID,
		ClientIdentifier: fav.ClientIdentifier,
		CreatedAt:        fav.CreatedAt,
		Filename:         fav.Filename,
		OriginalName:     fav.OriginalName,
		ThumbnailURL:     s.resolve(ctx, fav.ThumbnailPath),
	}
}

type notificationView struct {
	ID          int64           `json:"id"`
	GalleryID   int64           `json:"gallery_id"`
	GalleryName string          `json:"gallery_name"`
	Type        string          `json:"type"`
	Message     string          `json:"message"`
	Data        json.RawMessage `json:"data"`
	Read        bool            `json:"read"`
	CreatedAt   time.Time       `json:"created_at"`
}

func newNotificationView(n store.Notification) notificationView {
	data := json.RawMessage(n.Data)
	if !json.Valid(data) {
		data = json.RawMessage("{}")
	}
	return notificationView{
		ID:          n.ID,
		GalleryID:   n.GalleryID,
		GalleryName: n.GalleryName,
		Type:        string(n.Type),
		Message:     n.Message,
		Data:        data,
		Read:        n.Read,
		CreatedAt:   n.CreatedAt,
	}
}

// galleryView omits the password hash and owner id.
type galleryView struct {
	ID                int64      `json:"id"`
	Name              string     `json:"name"`
	Description       string     `json:"description"`
	ShareLink         string     `json:"share_link"`
	ExpiryDate        *time.Time `json:"expiry_date"`
	AllowDownload     bool       `json:"allow_download"`
	AllowBulkDownload bool       `json:"allow_bulk_download"`
	AllowClientUpload bool       `json:"allow_client_upload"`
	Status            string     `json:"status"`
	AdminName         string     `json:"admin_name"`
	CreatedAt         time.Time  `json:"created_at"`
}

func newGalleryView(g store.Gallery) galleryView {
	return galleryView{
		ID:                g.ID,
		Name:              g.Name,
		Description:       g.Description,
		ShareLink:         g.ShareLink,
		ExpiryDate:        g.ExpiryDate,
		AllowDownload:     g.AllowDownload,
		AllowBulkDownload: g.AllowBulkDownload,
		AllowClientUpload: g.AllowClientUpload,
		Status:            string(g.Status),
		AdminName:         g.AdminName,
		CreatedAt:         g.CreatedAt,
	}
}

type clientPhotoView struct {
	ID              int64     `json:"id"`
	GalleryID       int64     `json:"gallery_id"`
	Filename        string    `json:"filename"`
	OriginalName    string    `json:"original_name"`
	Width           int       `json:"width"`
	Height          int       `json:"height"`
	Size            int64     `json:"size"`
	MimeType        string    `json:"mime_type"`
	Tags            string    `json:"tags"`
	UploadedAt      time.Time `json:"uploaded_at"`
	ThumbnailURL    string    `json:"thumbnail_url"`
	WatermarkedURL  string    `json:"watermarked_url"`
	IsSelected      bool      `json:"is_selected"`
	SelectionStatus *string   `json:"selection_status"`
	IsFavorited     bool      `json:"is_favorited"`
	FavoriteCount   int       `json:"favorite_count"`
}

func (s *Service) clientPhotoView(ctx context.Context, p store.ClientPhoto) clientPhotoView {
	view := clientPhotoView{
		ID:             p.ID,
		GalleryID:      p.GalleryID,
		Filename:       p.Filename,
		OriginalName:   p.OriginalName,
		Width:          p.Width,
		Height:         p.Height,
		Size:           p.Size,
		MimeType:       p.MimeType,
		Tags:           p.Tags,
		UploadedAt:     p.UploadedAt,
		ThumbnailURL:   s.resolve(ctx, p.ThumbnailPath),
		WatermarkedURL: s.resolve(ctx, p.WatermarkedPath),
		IsSelected:     p.IsSelected,
		IsFavorited:    p.IsFavorited,
		FavoriteCount:  p.FavoriteCount,
	}
	if p.SelectionStatus != "" {
		status := p.SelectionStatus
		view.SelectionStatus = &status
	}
	return view
}

type accessView struct {
	ID               int64     `json:"id"`
	GalleryID        int64     `json:"gallery_id"`
	ClientIdentifier string    `json:"client_identifier"`
	ClientName       string    `json:"client_name,omitempty"`
	ClientEmail      string    `json:"client_email,omitempty"`
	LastAccessed     time.Time `json:"last_accessed"`
}
