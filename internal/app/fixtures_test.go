package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/gnanamtech85-ops/photo-proofing-app/internal/auth"
	"github.com/gnanamtech85-ops/photo-proofing-app/internal/config"
	"github.com/gnanamtech85-ops/photo-proofing-app/internal/notify"
	"github.com/gnanamtech85-ops/photo-proofing-app/internal/realtime"
	"github.com/gnanamtech85-ops/photo-proofing-app/internal/store"
)

const testSecret = "test-secret"

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (b *recordingBroadcaster) Broadcast(galleryID int64, event realtime.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	event.GalleryID = galleryID
	b.events = append(b.events, event)
}

func (b *recordingBroadcaster) Events() []realtime.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]realtime.Event(nil), b.events...)
}

// failingNotifier refuses every Emit but serves reads from the real emitter.
type failingNotifier struct {
	*notify.Emitter
}

func (failingNotifier) Emit(context.Context, int64, store.NotificationType, string, any) (int64, error) {
	return 0, errors.New("notifications table unavailable")
}

type testEnv struct {
	store       *store.SQLStore
	service     *Service
	broadcaster *recordingBroadcaster
	adminID     int64
	otherID     int64
	galleryID   int64
	shareLink   string
	photoIDs    []int64
}

func newTestEnv(t *testing.T, photos int) *testEnv {
	t.Helper()
	ctx := context.Background()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString())
	adapter, err := store.Open(ctx, store.DialectSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = adapter.Close() })
	_, err = store.ApplyMigrations(ctx, adapter)
	require.NoError(t, err)
	s := store.NewSQLStore(adapter)

	env := &testEnv{store: s, broadcaster: &recordingBroadcaster{}}
	env.adminID, err = s.InsertUser(ctx, store.User{Email: "admin@example.com", Password: "x", Name: "Admin", Role: "admin"})
	require.NoError(t, err)
	env.otherID, err = s.InsertUser(ctx, store.User{Email: "other@example.com", Password: "x", Name: "Other", Role: "admin"})
	require.NoError(t, err)

	env.shareLink = "share-" + uuid.NewString()
	env.galleryID, err = s.InsertGallery(ctx, store.Gallery{AdminID: env.adminID, Name: "Wedding", ShareLink: env.shareLink})
	require.NoError(t, err)
	for i := 0; i < photos; i++ {
		id, err := s.InsertPhoto(ctx, store.Photo{
			GalleryID:     env.galleryID,
			Filename:      fmt.Sprintf("img-%d.jpg", i),
			OriginalName:  fmt.Sprintf("IMG_%04d.JPG", i),
			OriginalPath:  fmt.Sprintf("originals/img-%d.jpg", i),
			ThumbnailPath: fmt.Sprintf("thumbs/img-%d.jpg", i),
		})
		require.NoError(t, err)
		env.photoIDs = append(env.photoIDs, id)
	}

	env.service = New(config.Config{JWTSecret: testSecret, MediaBaseURL: "/uploads"}, Dependencies{
		Store:       s,
		Notifier:    notify.NewEmitter(s),
		Broadcaster: env.broadcaster,
	})
	return env
}

func (e *testEnv) admin() Admin {
	return Admin{ID: e.adminID, Email: "admin@example.com", Role: "admin"}
}

func (e *testEnv) other() Admin {
	return Admin{ID: e.otherID, Email: "other@example.com", Role: "admin"}
}

func issueTestToken(t *testing.T, id int64, role string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte(testSecret), auth.Claims{ID: id, Email: "u@example.com", Role: role}, time.Hour)
	require.NoError(t, err)
	return token
}

func (e *testEnv) selectPhoto(t *testing.T, index int, client string) {
	t.Helper()
	_, err := e.service.ToggleSelection(context.Background(), SelectionInput{
		PhotoID:          ID(e.photoIDs[index]),
		GalleryID:        ID(e.galleryID),
		ClientIdentifier: client,
	})
	require.NoError(t, err)
}

func (e *testEnv) selectionIDs(t *testing.T) []int64 {
	t.Helper()
	selections, err := e.store.ListGallerySelections(context.Background(), e.galleryID)
	require.NoError(t, err)
	ids := make([]int64, 0, len(selections))
	for _, sel := range selections {
		ids = append(ids, sel.ID)
	}
	return ids
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
