package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gnanamtech85-ops/photo-proofing-app/internal/auth"
	"github.com/gnanamtech85-ops/photo-proofing-app/internal/authpw"
	"github.com/gnanamtech85-ops/photo-proofing-app/internal/config"
	"github.com/gnanamtech85-ops/photo-proofing-app/internal/logging"
	"github.com/gnanamtech85-ops/photo-proofing-app/internal/media"
	"github.com/gnanamtech85-ops/photo-proofing-app/internal/metrics"
	"github.com/gnanamtech85-ops/photo-proofing-app/internal/notify"
	"github.com/gnanamtech85-ops/photo-proofing-app/internal/rbac"
	"github.com/gnanamtech85-ops/photo-proofing-app/internal/realtime"
	"github.com/gnanamtech85-ops/photo-proofing-app/internal/store"
)

const Version = "1.0.0"

type SelectionInput struct {
	PhotoID          ID     `json:"photo_id"`
	GalleryID        ID     `json:"gallery_id"`
	ClientIdentifier string `json:"client_identifier"`
}

type GalleryClientInput struct {
	GalleryID        ID     `json:"gallery_id"`
	ClientIdentifier string `json:"client_identifier"`
}

type BulkStatusInput struct {
	SelectionIDs []ID `json:"selection_ids"`
}

type dataStore interface {
	Ping(ctx context.Context) error
	GetGallery(ctx context.Context, galleryID int64) (store.Gallery, error)
	GetOwnedGallery(ctx context.Context, galleryID, adminID int64) (store.Gallery, error)
	GetGalleryByShareLink(ctx context.Context, shareLink string) (store.Gallery, error)
	GetPhoto(ctx context.Context, photoID int64) (store.Photo, error)
	ListClientPhotos(ctx context.Context, galleryID int64, clientID string) ([]store.ClientPhoto, error)
	RecordAccess(ctx context.Context, galleryID int64, clientID string, at time.Time) error
	ListAccessLog(ctx context.Context, galleryID int64) ([]store.AccessRecord, error)

	ToggleSelection(ctx context.Context, photoID, galleryID int64, clientID string) (bool, error)
	SelectAll(ctx context.Context, galleryID int64, clientID string) (int, error)
	DeselectAll(ctx context.Context, galleryID int64, clientID string) (int64, error)
	ToggleFavorite(ctx context.Context, photoID, galleryID int64, clientID string) (bool, error)
	GetOwnedSelection(ctx context.Context, selectionID, adminID int64) (store.Selection, error)
	SetSelectionStatus(ctx context.Context, selectionID int64, status store.SelectionStatus) error
	SetOwnedSelectionStatuses(ctx context.Context, selectionIDs []int64, adminID int64, status store.SelectionStatus) (int64, error)
	ListClientSelections(ctx context.Context, galleryID int64, clientID string) ([]store.Selection, error)
	ListGallerySelections(ctx context.Context, galleryID int64) ([]store.Selection, error)
	ListClientFavorites(ctx context.Context, galleryID int64, clientID string) ([]store.Favorite, error)

	CountClientSelections(ctx context.Context, galleryID int64, clientID string) (int, error)
	CountGalleryStatuses(ctx context.Context, galleryID int64) (store.StatusCounts, error)
	DashboardStats(ctx context.Context, adminID int64) (store.DashboardStats, error)
}

type notifier interface {
	Emit(ctx context.Context, galleryID int64, kind store.NotificationType, message string, payload any) (int64, error)
	List(ctx context.Context, adminID int64) (notify.Feed, error)
	MarkRead(ctx context.Context, notificationID, adminID int64) error
	MarkAllRead(ctx context.Context, adminID int64) (int64, error)
}

type broadcaster interface {
	Broadcast(galleryID int64, event realtime.Event)
}

// Dependencies are the collaborators a Service is built from. Broadcaster is
// the live connection registry owned by main.
type Dependencies struct {
	Store       dataStore
	Notifier    notifier
	Broadcaster broadcaster
	Media       media.Resolver
	Logger      logging.Logger
	Metrics     *metrics.Metrics
}

type Service struct {
	cfg         config.Config
	store       dataStore
	notifier    notifier
	broadcaster broadcaster
	media       media.Resolver
	log         logging.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

func New(cfg config.Config, deps Dependencies) *Service {
	s := &Service{
		cfg:         cfg,
		store:       deps.Store,
		notifier:    deps.Notifier,
		broadcaster: deps.Broadcaster,
		media:       deps.Media,
		log:         deps.Logger,
		metrics:     deps.Metrics,
		now:         time.Now,
	}
	if s.log == nil {
		s.log = logging.Nop()
	}
	if s.media == nil {
		s.media = media.NewLocalResolver(cfg.MediaBaseURL)
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Admin is the authenticated caller of moderation endpoints.
type Admin struct {
	ID    int64
	Email string
	Role  rbac.Role
}

func (s *Service) AdminFromToken(token string) (Admin, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Admin{}, err
	}
	return Admin{ID: claims.ID, Email: claims.Email, Role: rbac.Normalize(claims.Role)}, nil
}

func (s *Service) Can(admin Admin, action rbac.Action) bool {
	return rbac.Can(admin.Role, action)
}

// postCommit is a side effect that runs after the ledger write is durable.
// Its failure is logged and counted, never returned.
type postCommit struct {
	name string
	run  func(ctx context.Context) error
}

func (s *Service) runPostCommit(ctx context.Context, operation string, galleryID int64, hooks ...postCommit) {
	ctx = context.WithoutCancel(ctx)
	for _, hook := range hooks {
		if err := s.safeRun(ctx, hook); err != nil {
			s.metrics.SideEffectFailed(hook.name)
			s.log.Warn(ctx, "post-commit hook failed",
				"hook", hook.name,
				"operation", operation,
				"gallery_id", galleryID,
				"error", err,
			)
		}
	}
}

func (s *Service) safeRun(ctx context.Context, hook postCommit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return hook.run(ctx)
}

func (s *Service) notifyHook(galleryID int64, kind store.NotificationType, message string, payload any) postCommit {
	return postCommit{name: "notification", run: func(ctx context.Context) error {
		if s.notifier == nil {
			return nil
		}
		_, err := s.notifier.Emit(ctx, galleryID, kind, message, payload)
		return err
	}}
}

func (s *Service) broadcastHook(galleryID int64, event realtime.Event) postCommit {
	return postCommit{name: "broadcast", run: func(context.Context) error {
		if s.broadcaster != nil {
			s.broadcaster.Broadcast(galleryID, event)
		}
		return nil
	}}
}

func requireClient(galleryID ID, clientID string) (string, error) {
	clientID = strings.TrimSpace(clientID)
	if galleryID <= 0 || clientID == "" {
		return "", validationError("Gallery ID and client identifier required")
	}
	return clientID, nil
}

func requirePhotoClient(input SelectionInput) (string, error) {
	clientID := strings.TrimSpace(input.ClientIdentifier)
	if input.PhotoID <= 0 || input.GalleryID <= 0 || clientID == "" {
		return "", validationError("Photo ID, gallery ID, and client identifier required")
	}
	return clientID, nil
}

// loadGalleryPhoto checks the photo exists and belongs to the gallery.
func (s *Service) loadGalleryPhoto(ctx context.Context, photoID, galleryID int64) (store.Photo, error) {
	photo, err := s.store.GetPhoto(ctx, photoID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && photo.GalleryID != galleryID) {
		return store.Photo{}, notFoundError("Photo not found")
	}
	if err != nil {
		return store.Photo{}, err
	}
	return photo, nil
}

func (s *Service) loadGallery(ctx context.Context, galleryID int64) (store.Gallery, error) {
	gallery, err := s.store.GetGallery(ctx, galleryID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Gallery{}, notFoundError("Gallery not found")
	}
	return gallery, err
}

func (s *Service) loadOwnedGallery(ctx context.Context, galleryID, adminID int64) (store.Gallery, error) {
	gallery, err := s.store.GetOwnedGallery(ctx, galleryID, adminID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Gallery{}, notFoundError("Gallery not found")
	}
	return gallery, err
}

func (s *Service) ToggleSelection(ctx context.Context, input SelectionInput) (map[string]any, error) {
	clientID, err := requirePhotoClient(input)
	if err != nil {
		return nil, err
	}
	photoID, galleryID := int64(input.PhotoID), int64(input.GalleryID)
	photo, err := s.loadGalleryPhoto(ctx, photoID, galleryID)
	if err != nil {
		return nil, err
	}

	selected, err := s.store.ToggleSelection(ctx, photoID, galleryID, clientID)
	s.metrics.Mutation("toggle_selection", err)
	if err != nil {
		return nil, err
	}
	total, err := s.store.CountClientSelections(ctx, galleryID, clientID)
	if err != nil {
		return nil, err
	}

	action := realtime.ActionRemove
	hooks := make([]postCommit, 0, 2)
	if selected {
		action = realtime.ActionAdd
		hooks = append(hooks, s.notifyHook(galleryID, store.NotifySelection,
			"Photo selected: "+photo.OriginalName,
			map[string]any{"photo_id": photoID, "client_identifier": clientID}))
	}
	hooks = append(hooks, s.broadcastHook(galleryID, realtime.Event{
		Type:             realtime.EventSelection,
		PhotoID:          photoID,
		ClientIdentifier: clientID,
		Action:           action,
	}))
	s.runPostCommit(ctx, "toggle_selection", galleryID, hooks...)

	return map[string]any{"selected": selected, "totalSelected": total}, nil
}

func (s *Service) SelectAll(ctx context.Context, input GalleryClientInput) (map[string]any, error) {
	clientID, err := requireClient(input.GalleryID, input.ClientIdentifier)
	if err != nil {
		return nil, err
	}
	galleryID := int64(input.GalleryID)
	if _, err := s.loadGallery(ctx, galleryID); err != nil {
		return nil, err
	}

	photos, err := s.store.SelectAll(ctx, galleryID, clientID)
	s.metrics.Mutation("select_all", err)
	if err != nil {
		return nil, err
	}
	total, err := s.store.CountClientSelections(ctx, galleryID, clientID)
	if err != nil {
		return nil, err
	}

	s.runPostCommit(ctx, "select_all", galleryID,
		s.notifyHook(galleryID, store.NotifySelectAll,
			fmt.Sprintf("All %d photos selected", photos),
			map[string]any{"client_identifier": clientID, "count": photos}),
		s.broadcastHook(galleryID, realtime.Event{
			Type:             realtime.EventSelectAll,
			ClientIdentifier: clientID,
			Count:            &photos,
		}),
	)

	return map[string]any{"totalSelected": total}, nil
}

func (s *Service) DeselectAll(ctx context.Context, input GalleryClientInput) (map[string]any, error) {
	clientID, err := requireClient(input.GalleryID, input.ClientIdentifier)
	if err != nil {
		return nil, err
	}
	galleryID := int64(input.GalleryID)
	if _, err := s.loadGallery(ctx, galleryID); err != nil {
		return nil, err
	}

	removed, err := s.store.DeselectAll(ctx, galleryID, clientID)
	s.metrics.Mutation("deselect_all", err)
	if err != nil {
		return nil, err
	}

	s.runPostCommit(ctx, "deselect_all", galleryID,
		s.notifyHook(galleryID, store.NotifyDeselectAll,
			"All photos deselected",
			map[string]any{"client_identifier": clientID, "removed": removed}),
		s.broadcastHook(galleryID, realtime.Event{
			Type:             realtime.EventDeselectAll,
			ClientIdentifier: clientID,
		}),
	)

	return map[string]any{"totalSelected": 0}, nil
}

func (s *Service) ToggleFavorite(ctx context.Context, input SelectionInput) (map[string]any, error) {
	clientID, err := requirePhotoClient(input)
	if err != nil {
		return nil, err
	}
	photoID, galleryID := int64(input.PhotoID), int64(input.GalleryID)
	photo, err := s.loadGalleryPhoto(ctx, photoID, galleryID)
	if err != nil {
		return nil, err
	}

	favorited, err := s.store.ToggleFavorite(ctx, photoID, galleryID, clientID)
	s.metrics.Mutation("toggle_favorite", err)
	if err != nil {
		return nil, err
	}

	action := realtime.ActionRemove
	hooks := make([]postCommit, 0, 2)
	if favorited {
		action = realtime.ActionAdd
		hooks = append(hooks, s.notifyHook(galleryID, store.NotifyFavorite,
			"Photo favorited: "+photo.OriginalName,
			map[string]any{"photo_id": photoID, "client_identifier": clientID}))
	}
	hooks = append(hooks, s.broadcastHook(galleryID, realtime.Event{
		Type:             realtime.EventFavorite,
		PhotoID:          photoID,
		ClientIdentifier: clientID,
		Action:           action,
	}))
	s.runPostCommit(ctx, "toggle_favorite", galleryID, hooks...)

	return map[string]any{"favorited": favorited}, nil
}

func (s *Service) Approve(ctx context.Context, admin Admin, selectionID int64) (map[string]any, error) {
	return s.setStatus(ctx, admin, selectionID, store.StatusApproved)
}

func (s *Service) Reject(ctx context.Context, admin Admin, selectionID int64) (map[string]any, error) {
	return s.setStatus(ctx, admin, selectionID, store.StatusRejected)
}

// setStatus overwrites the status whatever it was, after checking the
// selection's gallery belongs to the admin.
func (s *Service) setStatus(ctx context.Context, admin Admin, selectionID int64, status store.SelectionStatus) (map[string]any, error) {
	if selectionID <= 0 {
		return nil, validationError("Selection ID required")
	}
	if _, err := s.store.GetOwnedSelection(ctx, selectionID, admin.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFoundError("Selection not found")
		}
		return nil, err
	}
	err := s.store.SetSelectionStatus(ctx, selectionID, status)
	s.metrics.Mutation(string(status), err)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFoundError("Selection not found")
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"message": "Selection " + string(status)}, nil
}

func (s *Service) BulkApprove(ctx context.Context, admin Admin, input BulkStatusInput) (map[string]any, error) {
	return s.bulkSetStatus(ctx, admin, input, store.StatusApproved)
}

func (s *Service) BulkReject(ctx context.Context, admin Admin, input BulkStatusInput) (map[string]any, error) {
	return s.bulkSetStatus(ctx, admin, input, store.StatusRejected)
}

func (s *Service) bulkSetStatus(ctx context.Context, admin Admin, input BulkStatusInput, status store.SelectionStatus) (map[string]any, error) {
	if len(input.SelectionIDs) == 0 {
		return nil, validationError("Selection IDs array required")
	}
	ids := make([]int64, 0, len(input.SelectionIDs))
	for _, id := range input.SelectionIDs {
		if id <= 0 {
			return nil, validationError("Selection IDs must be positive integers")
		}
		ids = append(ids, int64(id))
	}

	updated, err := s.store.SetOwnedSelectionStatuses(ctx, ids, admin.ID, status)
	s.metrics.Mutation("bulk_"+string(status), err)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFoundError("Selection not found")
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"message": fmt.Sprintf("%d selections %s", updated, status),
		"updated": updated,
	}, nil
}

func (s *Service) GallerySelections(ctx context.Context, admin Admin, galleryID int64) (map[string]any, error) {
	if _, err := s.loadOwnedGallery(ctx, galleryID, admin.ID); err != nil {
		return nil, err
	}
	selections, err := s.store.ListGallerySelections(ctx, galleryID)
	if err != nil {
		return nil, err
	}

	items := make([]selectionView, 0, len(selections))
	grouped := make(map[string][]selectionView)
	for _, sel := range selections {
		view := s.selectionView(ctx, sel)
		items = append(items, view)
		grouped[sel.ClientIdentifier] = append(grouped[sel.ClientIdentifier], view)
	}
	return map[string]any{
		"selections":        items,
		"grouped_by_client": grouped,
		"total":             len(items),
	}, nil
}

func (s *Service) ClientSelections(ctx context.Context, galleryID ID, clientID string) (map[string]any, error) {
	clientID, err := requireClient(galleryID, clientID)
	if err != nil {
		return nil, err
	}
	selections, err := s.store.ListClientSelections(ctx, int64(galleryID), clientID)
	if err != nil {
		return nil, err
	}
	items := make([]selectionView, 0, len(selections))
	for _, sel := range selections {
		items = append(items, s.selectionView(ctx, sel))
	}
	return map[string]any{"selections": items, "count": len(items)}, nil
}

func (s *Service) ClientFavorites(ctx context.Context, galleryID ID, clientID string) (map[string]any, error) {
	clientID, err := requireClient(galleryID, clientID)
	if err != nil {
		return nil, err
	}
	favorites, err := s.store.ListClientFavorites(ctx, int64(galleryID), clientID)
	if err != nil {
		return nil, err
	}
	items := make([]favoriteView, 0, len(favorites))
	for _, fav := range favorites {
		items = append(items, s.favoriteView(ctx, fav))
	}
	return map[string]any{"favorites": items, "count": len(items)}, nil
}

func (s *Service) GalleryCounts(ctx context.Context, admin Admin, galleryID int64) (map[string]any, error) {
	if _, err := s.loadOwnedGallery(ctx, galleryID, admin.ID); err != nil {
		return nil, err
	}
	counts, err := s.store.CountGalleryStatuses(ctx, galleryID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"gallery_id": galleryID,
		"pending":    counts.Pending,
		"approved":   counts.Approved,
		"rejected":   counts.Rejected,
		"favorites":  counts.Favorites,
	}, nil
}

func (s *Service) Stats(ctx context.Context, admin Admin) (map[string]any, error) {
	stats, err := s.store.DashboardStats(ctx, admin.ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"stats": map[string]any{
		"total_galleries":      stats.TotalGalleries,
		"total_photos":         stats.TotalPhotos,
		"pending_selections":   stats.PendingSelections,
		"approved_selections":  stats.ApprovedSelections,
		"rejected_selections":  stats.RejectedSelections,
		"total_favorites":      stats.TotalFavorites,
		"unread_notifications": stats.UnreadNotifications,
	}}, nil
}

func (s *Service) Notifications(ctx context.Context, admin Admin) (map[string]any, error) {
	feed, err := s.notifier.List(ctx, admin.ID)
	if err != nil {
		return nil, err
	}
	items := make([]notificationView, 0, len(feed.Notifications))
	for _, n := range feed.Notifications {
		items = append(items, newNotificationView(n))
	}
	return map[string]any{"notifications": items, "unreadCount": feed.Unread}, nil
}

func (s *Service) MarkNotificationRead(ctx context.Context, admin Admin, notificationID int64) (map[string]any, error) {
	err := s.notifier.MarkRead(ctx, notificationID, admin.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFoundError("Notification not found")
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"message": "Notification marked as read"}, nil
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context, admin Admin) (map[string]any, error) {
	if _, err := s.notifier.MarkAllRead(ctx, admin.ID); err != nil {
		return nil, err
	}
	return map[string]any{"message": "All notifications marked as read"}, nil
}

// ClientGallery opens a shared gallery for a client. The access record is
// best effort, like the ledger side effects.
func (s *Service) ClientGallery(ctx context.Context, shareLink, password, clientID string) (map[string]any, error) {
	shareLink = strings.TrimSpace(shareLink)
	if shareLink == "" {
		return nil, notFoundError("Gallery not found")
	}
	gallery, err := s.store.GetGalleryByShareLink(ctx, shareLink)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFoundError("Gallery not found")
	}
	if err != nil {
		return nil, err
	}

	now := s.now()
	if gallery.Closed(now) {
		e := domainError(http.StatusForbidden, "GALLERY_EXPIRED", "Gallery has expired", nil)
		e.Fields = map[string]any{"expired": true}
		return nil, e
	}
	switch err := authpw.Check(gallery.Password, password); {
	case errors.Is(err, authpw.ErrPasswordRequired):
		e := domainError(http.StatusUnauthorized, "PASSWORD_REQUIRED", "Password required", nil)
		e.Fields = map[string]any{"requiresPassword": true}
		return nil, e
	case err != nil:
		return nil, domainError(http.StatusUnauthorized, "INVALID_PASSWORD", "Invalid password", nil)
	}

	clientID = strings.TrimSpace(clientID)
	photos, err := s.store.ListClientPhotos(ctx, gallery.ID, clientID)
	if err != nil {
		return nil, err
	}
	selectionCount, err := s.store.CountClientSelections(ctx, gallery.ID, clientID)
	if err != nil {
		return nil, err
	}

	if clientID != "" {
		if err := s.store.RecordAccess(context.WithoutCancel(ctx), gallery.ID, clientID, now); err != nil {
			s.log.Warn(ctx, "record gallery access failed", "gallery_id", gallery.ID, "error", err)
		}
	}

	items := make([]clientPhotoView, 0, len(photos))
	for _, p := range photos {
		items = append(items, s.clientPhotoView(ctx, p))
	}
	return map[string]any{
		"gallery":        newGalleryView(gallery),
		"photos":         items,
		"selectionCount": selectionCount,
	}, nil
}

func (s *Service) AccessLog(ctx context.Context, admin Admin, galleryID int64) (map[string]any, error) {
	if _, err := s.loadOwnedGallery(ctx, galleryID, admin.ID); err != nil {
		return nil, err
	}
	records, err := s.store.ListAccessLog(ctx, galleryID)
	if err != nil {
		return nil, err
	}
	items := make([]accessView, 0, len(records))
	for _, r := range records {
		items = append(items, accessView{
			ID:               r.ID,
			GalleryID:        r.GalleryID,
			ClientIdentifier: r.ClientIdentifier,
			ClientName:       r.ClientName,
			ClientEmail:      r.ClientEmail,
			LastAccessed:     r.LastAccessed,
		})
	}
	return map[string]any{"accessLog": items}, nil
}

func (s *Service) resolve(ctx context.Context, locator string) string {
	url, err := s.media.URL(ctx, locator)
	if err != nil {
		s.log.Warn(ctx, "resolve media url failed", "locator", locator, "error", err)
		return ""
	}
	return url
}
