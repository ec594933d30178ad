package model

import "time"

// Layouts a seat grouping may be drawn with.  They only affect how a
// client renders the seat map.
const (
	LayoutStacked = "stacked"
	LayoutGrid    = "grid"
)

// Show is a movie together with its scheduled screenings and the seat
// layout used for all of them.  The booking core only reads shows;
// edits go through the catalog.
//
// Fields:
//  ID               – catalog identifier.
//  Title            – movie title.
//  Overview         – short synopsis.
//  OriginalLanguage – ISO language code of the movie.
//  Runtime          – length in minutes.
//  PosterPath       – file name of the poster image.
//  Showtimes        – screening instants (UTC), ascending.
//  SeatLayout       – seats per row and the priced row groupings.
type Show struct {
	ID               string      `json:"id"`                          // shows.id
	Title            string      `json:"title"`                       // shows.title
	Overview         string      `json:"overview,omitempty"`          // shows.overview
	OriginalLanguage string      `json:"original_language,omitempty"` // shows.original_language
	Runtime          int         `json:"runtime,omitempty"`           // shows.runtime
	PosterPath       string      `json:"poster_path,omitempty"`       // shows.poster_path
	Showtimes        []time.Time `json:"showtimes"`                   // show_times.starts_at
	SeatLayout       SeatLayout  `json:"seat_layout"`
}

// SeatLayout describes the seat map of a show.  Every row label must
// belong to exactly one grouping so that each seat has a single price.
type SeatLayout struct {
	SeatsPerRow int            `json:"seats_per_row"` // shows.seats_per_row
	Groupings   []SeatGrouping `json:"groupings"`     // shows.seat_groupings (JSON)
}

// SeatGrouping is a set of rows sharing one price tier.  PriceCents is
// in minor currency units.
type SeatGrouping struct {
	Rows       []string `json:"rows"`
	PriceCents int64    `json:"price_cents"`
	Layout     string   `json:"layout"`
}

// HasShowtime reports whether t is exactly one of the show's screening
// instants.  Comparison uses time.Equal so the location does not matter.
func (s *Show) HasShowtime(t time.Time) bool {
	for _, st := range s.Showtimes {
		if st.Equal(t) {
			return true
		}
	}
	return false
}

// MovieSnapshot copies the movie fields a booking keeps.
func (s *Show) MovieSnapshot() MovieSnapshot {
	return MovieSnapshot{
		Title:            s.Title,
		OriginalLanguage: s.OriginalLanguage,
		Runtime:          s.Runtime,
		PosterPath:       s.PosterPath,
	}
}

// GroupingsForRow returns the indexes of every grouping listing row.  A
// well formed layout yields exactly one index per row.
func (l SeatLayout) GroupingsForRow(row string) []int {
	var idx []int
	for i, g := range l.Groupings {
		for _, r := range g.Rows {
			if r == row {
				idx = append(idx, i)
				break
			}
		}
	}
	return idx
}
