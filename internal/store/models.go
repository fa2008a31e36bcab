package store

import "time"

type SelectionStatus string

const (
	StatusPending  SelectionStatus = "pending"
	StatusApproved SelectionStatus = "approved"
	StatusRejected SelectionStatus = "rejected"
)

func (s SelectionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	default:
		return false
	}
}

type GalleryStatus string

const (
	GalleryActive   GalleryStatus = "active"
	GalleryExpired  GalleryStatus = "expired"
	GalleryArchived GalleryStatus = "archived"
)

type NotificationType string

const (
	NotifySelection   NotificationType = "selection"
	NotifyFavorite    NotificationType = "favorite"
	NotifySelectAll   NotificationType = "select_all"
	NotifyDeselectAll NotificationType = "deselect_all"
)

type User struct {
	ID        int64
	Email     string
	Password  string
	Name      string
	Role      string
	CreatedAt time.Time
}

type Gallery struct {
	ID                int64
	AdminID           int64
	AdminName         string
	Name              string
	Description       string
	ShareLink         string
	Password          string
	ExpiryDate        *time.Time
	AllowDownload     bool
	AllowBulkDownload bool
	AllowClientUpload bool
	Status            GalleryStatus
	CreatedAt         time.Time
}

// Closed reports whether clients may no longer act on the gallery.
func (g Gallery) Closed(now time.Time) bool {
	if g.Status != GalleryActive {
		return true
	}
	return g.ExpiryDate != nil && g.ExpiryDate.Before(now)
}

type Photo struct {
	ID              int64
	GalleryID       int64
	Filename        string
	OriginalName    string
	OriginalPath    string
	ThumbnailPath   string
	WatermarkedPath string
	Width           int
	Height          int
	Size            int64
	MimeType        string
	Tags            string
	UploadedAt      time.Time
}

type Selection struct {
	ID               int64
	PhotoID          int64
	GalleryID        int64
	ClientIdentifier string
	Status           SelectionStatus
	CreatedAt        time.Time
	// joined from photos
	Filename      string
	OriginalName  string
	ThumbnailPath string
}

type Favorite struct {
	ID               int64
	PhotoID          int64
	GalleryID        int64
	ClientIdentifier string
	CreatedAt        time.Time
	Filename         string
	OriginalName     string
	ThumbnailPath    string
}

type Notification struct {
	ID          int64
	GalleryID   int64
	GalleryName string
	Type        NotificationType
	Message     string
	Data        string
	Read        bool
	CreatedAt   time.Time
}

// ClientPhoto is a photo as seen by one client, with that client's marks.
type ClientPhoto struct {
	Photo
	IsSelected      bool
	SelectionStatus string
	IsFavorited     bool
	FavoriteCount   int
}

type AccessRecord struct {
	ID               int64
	GalleryID        int64
	ClientIdentifier string
	ClientName       string
	ClientEmail      string
	LastAccessed     time.Time
}

type StatusCounts struct {
	Pending   int
	Approved  int
	Rejected  int
	Favorites int
}

type DashboardStats struct {
	TotalGalleries      int
	TotalPhotos         int
	PendingSelections   int
	ApprovedSelections  int
	RejectedSelections  int
	TotalFavorites      int
	UnreadNotifications int
}
