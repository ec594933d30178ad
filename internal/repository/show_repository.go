package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/movie-ticket-booking/internal/model"
)

// ShowRepo reads catalog shows.  The seat groupings are stored as a JSON
// column on shows and the screening instants in show_times.
type ShowRepo struct {
	db *sql.DB
}

// NewShowRepo returns a new ShowRepo bound to the given database.
func NewShowRepo(db *sql.DB) *ShowRepo { return &ShowRepo{db: db} }

// GetByID loads a show with its seat layout and showtimes.  It returns
// ErrShowNotFound when the id is unknown.
func (r *ShowRepo) GetByID(ctx context.Context, id string) (*model.Show, error) {
	const q = `SELECT id, title, overview, original_language, runtime, poster_path, seats_per_row, seat_groupings
		FROM shows WHERE id = ?`
	var s model.Show
	var groupings []byte
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&s.ID, &s.Title, &s.Overview, &s.OriginalLanguage, &s.Runtime, &s.PosterPath,
		&s.SeatLayout.SeatsPerRow, &groupings,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrShowNotFound
		}
		return nil, err
	}
	if len(groupings) > 0 {
		if err := json.Unmarshal(groupings, &s.SeatLayout.Groupings); err != nil {
			return nil, fmt.Errorf("show %s: decode seat groupings: %w", id, err)
		}
	}

	rows, err := r.db.QueryContext(ctx, `SELECT starts_at FROM show_times WHERE show_id = ? ORDER BY starts_at`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	s.Showtimes = []time.Time{}
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		s.Showtimes = append(s.Showtimes, t.UTC())
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &s, nil
}
