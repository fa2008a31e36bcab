package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return parsed
}

func TestToggleSelectionRoundTrip(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	photo := f.photoIDs[0]

	selected, err := f.store.ToggleSelection(ctx, photo, f.galleryID, "c1")
	require.NoError(t, err)
	assert.True(t, selected)

	count, err := f.store.CountClientSelections(ctx, f.galleryID, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	selected, err = f.store.ToggleSelection(ctx, photo, f.galleryID, "c1")
	require.NoError(t, err)
	assert.False(t, selected)

	count, err = f.store.CountClientSelections(ctx, f.galleryID, "c1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestToggleSelectionIsPerClient(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	_, err := f.store.ToggleSelection(ctx, f.photoIDs[0], f.galleryID, "c1")
	require.NoError(t, err)
	selected, err := f.store.ToggleSelection(ctx, f.photoIDs[0], f.galleryID, "c2")
	require.NoError(t, err)
	assert.True(t, selected)

	counts, err := f.store.CountGalleryStatuses(ctx, f.galleryID)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Pending)
}

func TestConcurrentTogglesKeepOneRow(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.store.ToggleSelection(ctx, f.photoIDs[0], f.galleryID, "c1"); err != nil {
				errs <- err
			}
			if _, err := f.store.ToggleFavorite(ctx, f.photoIDs[0], f.galleryID, "c1"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var selections, favorites int
	require.NoError(t, f.store.Adapter().Get(ctx, `SELECT COUNT(*) FROM selections WHERE photo_id = ? AND client_identifier = ?`, f.photoIDs[0], "c1").Scan(&selections))
	require.NoError(t, f.store.Adapter().Get(ctx, `SELECT COUNT(*) FROM favorites WHERE photo_id = ? AND client_identifier = ?`, f.photoIDs[0], "c1").Scan(&favorites))
	assert.LessOrEqual(t, selections, 1)
	assert.LessOrEqual(t, favorites, 1)
}

// A toggle whose delete finds nothing but whose insert collides with a
// concurrent insert still reports the row as present.
func TestToggleInsertCollisionReportsPresent(t *testing.T) {
	toggles := []struct {
		table  string
		toggle func(*SQLStore) (bool, error)
	}{
		{"selections", func(s *SQLStore) (bool, error) {
			return s.ToggleSelection(context.Background(), 1, 2, "c1")
		}},
		{"favorites", func(s *SQLStore) (bool, error) {
			return s.ToggleFavorite(context.Background(), 1, 2, "c1")
		}},
	}

	for _, tt := range toggles {
		t.Run(tt.table+"/postgres conflict skips insert", func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			mock.ExpectBegin()
			mock.ExpectExec(`DELETE FROM ` + tt.table + ` WHERE photo_id = \$1 AND client_identifier = \$2`).
				WithArgs(int64(1), "c1").
				WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectQuery(`INSERT INTO ` + tt.table + `.*ON CONFLICT \(photo_id, client_identifier\) DO NOTHING RETURNING id`).
				WillReturnRows(sqlmock.NewRows([]string{"id"}))
			mock.ExpectCommit()

			present, err := tt.toggle(NewSQLStore(NewAdapter(db, DialectPostgres)))
			require.NoError(t, err)
			assert.True(t, present)
			require.NoError(t, mock.ExpectationsWereMet())
		})

		t.Run(tt.table+"/sqlite unique violation rolls back", func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			mock.ExpectBegin()
			mock.ExpectExec(`DELETE FROM ` + tt.table + ` WHERE photo_id = \? AND client_identifier = \?`).
				WithArgs(int64(1), "c1").
				WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectExec(`INSERT INTO ` + tt.table).
				WillReturnError(sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique})
			mock.ExpectRollback()

			present, err := tt.toggle(NewSQLStore(NewAdapter(db, DialectSQLite)))
			require.NoError(t, err)
			assert.True(t, present)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSelectAllKeepsExistingStatus(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	_, err := f.store.ToggleSelection(ctx, f.photoIDs[0], f.galleryID, "c1")
	require.NoError(t, err)
	selections, err := f.store.ListClientSelections(ctx, f.galleryID, "c1")
	require.NoError(t, err)
	require.Len(t, selections, 1)
	require.NoError(t, f.store.SetSelectionStatus(ctx, selections[0].ID, StatusApproved))

	photos, err := f.store.SelectAll(ctx, f.galleryID, "c1")
	require.NoError(t, err)
	assert.Equal(t, 3, photos)

	selections, err = f.store.ListClientSelections(ctx, f.galleryID, "c1")
	require.NoError(t, err)
	require.Len(t, selections, 3)
	byPhoto := map[int64]SelectionStatus{}
	for _, sel := range selections {
		byPhoto[sel.PhotoID] = sel.Status
	}
	assert.Equal(t, StatusApproved, byPhoto[f.photoIDs[0]])
	assert.Equal(t, StatusPending, byPhoto[f.photoIDs[1]])
	assert.Equal(t, StatusPending, byPhoto[f.photoIDs[2]])

	// idempotent
	_, err = f.store.SelectAll(ctx, f.galleryID, "c1")
	require.NoError(t, err)
	count, err := f.store.CountClientSelections(ctx, f.galleryID, "c1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestDeselectAllRemovesEveryStatus(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	_, err := f.store.SelectAll(ctx, f.galleryID, "c1")
	require.NoError(t, err)
	_, err = f.store.SelectAll(ctx, f.galleryID, "c2")
	require.NoError(t, err)
	selections, err := f.store.ListClientSelections(ctx, f.galleryID, "c1")
	require.NoError(t, err)
	require.NoError(t, f.store.SetSelectionStatus(ctx, selections[0].ID, StatusApproved))
	require.NoError(t, f.store.SetSelectionStatus(ctx, selections[1].ID, StatusRejected))

	removed, err := f.store.DeselectAll(ctx, f.galleryID, "c1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, removed)

	count, err := f.store.CountClientSelections(ctx, f.galleryID, "c1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	count, err = f.store.CountClientSelections(ctx, f.galleryID, "c2")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestToggleFavorite(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	favorited, err := f.store.ToggleFavorite(ctx, f.photoIDs[0], f.galleryID, "c1")
	require.NoError(t, err)
	assert.True(t, favorited)

	n, err := f.store.CountGalleryFavorites(ctx, f.galleryID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	favs, err := f.store.ListClientFavorites(ctx, f.galleryID, "c1")
	require.NoError(t, err)
	require.Len(t, favs, 1)
	assert.Equal(t, "IMG_0000.JPG", favs[0].OriginalName)

	favorited, err = f.store.ToggleFavorite(ctx, f.photoIDs[0], f.galleryID, "c1")
	require.NoError(t, err)
	assert.False(t, favorited)

	n, err = f.store.CountGalleryFavorites(ctx, f.galleryID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestGetOwnedSelectionChecksOwner(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	_, err := f.store.ToggleSelection(ctx, f.photoIDs[0], f.galleryID, "c1")
	require.NoError(t, err)
	selections, err := f.store.ListGallerySelections(ctx, f.galleryID)
	require.NoError(t, err)
	require.Len(t, selections, 1)

	sel, err := f.store.GetOwnedSelection(ctx, selections[0].ID, f.adminID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, sel.Status)

	_, err = f.store.GetOwnedSelection(ctx, selections[0].ID, f.otherID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSetOwnedSelectionStatusesAllOrNothing(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	otherGallery, err := f.store.InsertGallery(ctx, Gallery{AdminID: f.otherID, Name: "Other", ShareLink: "other-link"})
	require.NoError(t, err)
	otherPhoto, err := f.store.InsertPhoto(ctx, Photo{GalleryID: otherGallery, Filename: "o.jpg", OriginalName: "o.jpg", OriginalPath: "o.jpg"})
	require.NoError(t, err)

	_, err = f.store.SelectAll(ctx, f.galleryID, "c1")
	require.NoError(t, err)
	_, err = f.store.ToggleSelection(ctx, otherPhoto, otherGallery, "c1")
	require.NoError(t, err)

	own, err := f.store.ListGallerySelections(ctx, f.galleryID)
	require.NoError(t, err)
	foreign, err := f.store.ListGallerySelections(ctx, otherGallery)
	require.NoError(t, err)

	_, err = f.store.SetOwnedSelectionStatuses(ctx, []int64{own[0].ID, foreign[0].ID}, f.adminID, StatusApproved)
	require.ErrorIs(t, err, ErrNotFound)

	counts, err := f.store.CountGalleryStatuses(ctx, f.galleryID)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Pending)
	assert.Equal(t, 0, counts.Approved)

	updated, err := f.store.SetOwnedSelectionStatuses(ctx, []int64{own[0].ID, own[1].ID, own[0].ID}, f.adminID, StatusRejected)
	require.NoError(t, err)
	assert.EqualValues(t, 2, updated)

	counts, err = f.store.CountGalleryStatuses(ctx, f.galleryID)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Rejected)
}

func TestPhotoDeleteCascades(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	_, err := f.store.ToggleSelection(ctx, f.photoIDs[0], f.galleryID, "c1")
	require.NoError(t, err)
	_, err = f.store.ToggleFavorite(ctx, f.photoIDs[0], f.galleryID, "c1")
	require.NoError(t, err)

	_, err = f.store.Adapter().Run(ctx, `DELETE FROM photos WHERE id = ?`, f.photoIDs[0])
	require.NoError(t, err)

	count, err := f.store.CountClientSelections(ctx, f.galleryID, "c1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	favs, err := f.store.CountGalleryFavorites(ctx, f.galleryID)
	require.NoError(t, err)
	assert.Equal(t, 0, favs)
}

func TestListClientPhotosAnnotatesClientState(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	_, err := f.store.ToggleSelection(ctx, f.photoIDs[0], f.galleryID, "c1")
	require.NoError(t, err)
	_, err = f.store.ToggleFavorite(ctx, f.photoIDs[1], f.galleryID, "c1")
	require.NoError(t, err)
	_, err = f.store.ToggleFavorite(ctx, f.photoIDs[1], f.galleryID, "c2")
	require.NoError(t, err)

	photos, err := f.store.ListClientPhotos(ctx, f.galleryID, "c1")
	require.NoError(t, err)
	require.Len(t, photos, 2)

	byID := map[int64]ClientPhoto{}
	for _, p := range photos {
		byID[p.ID] = p
	}
	assert.True(t, byID[f.photoIDs[0]].IsSelected)
	assert.Equal(t, "pending", byID[f.photoIDs[0]].SelectionStatus)
	assert.False(t, byID[f.photoIDs[0]].IsFavorited)
	assert.False(t, byID[f.photoIDs[1]].IsSelected)
	assert.True(t, byID[f.photoIDs[1]].IsFavorited)
	assert.Equal(t, 2, byID[f.photoIDs[1]].FavoriteCount)
}
