package service

import (
	"context"
	"time"

	"github.com/iliyamo/movie-ticket-booking/internal/model"
)

// Inventory answers which seats of a show-time are taken.  The answer is
// read committed: a reservation racing with the query is not visible,
// so writers rely on the store's unique claim instead.
type Inventory struct {
	store   BookingStore
	catalog ShowCatalog
	settings
}

// NewInventory returns an Inventory reading bookings from store and
// shows from catalog.
func NewInventory(store BookingStore, catalog ShowCatalog, opts ...Option) *Inventory {
	return &Inventory{store: store, catalog: catalog, settings: newSettings(opts)}
}

// Show loads a show from the catalog.
func (i *Inventory) Show(ctx context.Context, showID string) (*model.Show, error) {
	ctx, cancel := i.storageCtx(ctx)
	defer cancel()
	s, err := i.catalog.GetByID(ctx, showID)
	if err != nil {
		return nil, storageErr("get show", err)
	}
	return s, nil
}

// OccupiedSeats returns the labels held by pending or paid bookings of
// showID at the given instant.  The instant must equal one of the
// show's showtimes exactly.
func (i *Inventory) OccupiedSeats(ctx context.Context, showID string, at time.Time) ([]string, error) {
	show, err := i.Show(ctx, showID)
	if err != nil {
		return nil, err
	}
	if !show.HasShowtime(at) {
		return nil, validationf("show %s has no showtime at %s", showID, at.UTC().Format(time.RFC3339))
	}
	return i.occupied(ctx, showID, at)
}

func (i *Inventory) occupied(ctx context.Context, showID string, at time.Time) ([]string, error) {
	ctx, cancel := i.storageCtx(ctx)
	defer cancel()
	seats, err := i.store.OccupiedSeats(ctx, showID, at.UTC())
	if err != nil {
		return nil, storageErr("occupied seats", err)
	}
	return seats, nil
}
