package store

import (
	"context"
	"fmt"
)

// Counts are always read from the rows themselves; there are no maintained
// counters that could drift from the selections and favorites tables.

func (s *SQLStore) CountClientSelections(ctx context.Context, galleryID int64, clientID string) (int, error) {
	var count int
	err := s.db.Get(ctx, `
		SELECT COUNT(*) FROM selections WHERE gallery_id = ? AND client_identifier = ?
	`, galleryID, clientID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count client selections: %w", err)
	}
	return count, nil
}

func (s *SQLStore) CountGalleryStatuses(ctx context.Context, galleryID int64) (StatusCounts, error) {
	rows, err := s.db.Query(ctx, `
		SELECT status, COUNT(*) FROM selections WHERE gallery_id = ? GROUP BY status
	`, galleryID)
	if err != nil {
		return StatusCounts{}, fmt.Errorf("count gallery statuses: %w", err)
	}
	defer rows.Close()

	var counts StatusCounts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return StatusCounts{}, fmt.Errorf("scan status count: %w", err)
		}
		switch SelectionStatus(status) {
		case StatusPending:
			counts.Pending = n
		case StatusApproved:
			counts.Approved = n
		case StatusRejected:
			counts.Rejected = n
		}
	}
	if err := rows.Err(); err != nil {
		return StatusCounts{}, fmt.Errorf("iterate status counts: %w", err)
	}

	favorites, err := s.CountGalleryFavorites(ctx, galleryID)
	if err != nil {
		return StatusCounts{}, err
	}
	counts.Favorites = favorites
	return counts, nil
}

func (s *SQLStore) CountGalleryFavorites(ctx context.Context, galleryID int64) (int, error) {
	var count int
	if err := s.db.Get(ctx, `SELECT COUNT(*) FROM favorites WHERE gallery_id = ?`, galleryID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count gallery favorites: %w", err)
	}
	return count, nil
}

// DashboardStats aggregates across every gallery the admin owns.
func (s *SQLStore) DashboardStats(ctx context.Context, adminID int64) (DashboardStats, error) {
	var stats DashboardStats
	err := s.db.Get(ctx, `
		SELECT
			(SELECT COUNT(*) FROM galleries WHERE admin_id = ?),
			(SELECT COUNT(*) FROM photos p JOIN galleries g ON p.gallery_id = g.id WHERE g.admin_id = ?),
			(SELECT COUNT(*) FROM selections s JOIN galleries g ON s.gallery_id = g.id WHERE g.admin_id = ? AND s.status = 'pending'),
			(SELECT COUNT(*) FROM selections s JOIN galleries g ON s.gallery_id = g.id WHERE g.admin_id = ? AND s.status = 'approved'),
			(SELECT COUNT(*) FROM selections s JOIN galleries g ON s.gallery_id = g.id WHERE g.admin_id = ? AND s.status = 'rejected'),
			(SELECT COUNT(*) FROM favorites f JOIN galleries g ON f.gallery_id = g.id WHERE g.admin_id = ?),
			(SELECT COUNT(*) FROM notifications n JOIN galleries g ON n.gallery_id = g.id WHERE g.admin_id = ? AND n.read = ?)
	`, adminID, adminID, adminID, adminID, adminID, adminID, adminID, false).Scan(
		&stats.TotalGalleries,
		&stats.TotalPhotos,
		&stats.PendingSelections,
		&stats.ApprovedSelections,
		&stats.RejectedSelections,
		&stats.TotalFavorites,
		&stats.UnreadNotifications,
	)
	if err != nil {
		return DashboardStats{}, fmt.Errorf("dashboard stats: %w", err)
	}
	return stats, nil
}
