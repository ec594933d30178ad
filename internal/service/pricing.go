package service

import "github.com/iliyamo/movie-ticket-booking/internal/model"

// PricedSeats is the result of checking a seat selection against a
// layout: canonical labels in seat order, the price of each and the sum.
type PricedSeats struct {
	Labels []string
	Prices map[string]int64
	Total  int64
}

// PriceSeats validates seats against layout and prices each one with
// the grouping that lists its row.  maxSeats <= 0 disables the size
// limit.
//
// Malformed labels, duplicates, columns outside 1..SeatsPerRow and rows
// no grouping lists are validation errors.  A row listed by more than
// one grouping, or a grouping with a non-positive price, is a pricing
// error because the layout itself is broken.
func PriceSeats(layout model.SeatLayout, seats []string, maxSeats int) (*PricedSeats, error) {
	if len(seats) == 0 {
		return nil, validationf("at least one seat is required")
	}
	if maxSeats > 0 && len(seats) > maxSeats {
		return nil, validationf("at most %d seats per booking", maxSeats)
	}
	out := &PricedSeats{
		Labels: make([]string, 0, len(seats)),
		Prices: make(map[string]int64, len(seats)),
	}
	for _, raw := range seats {
		id, err := model.ParseSeatID(raw)
		if err != nil {
			return nil, validationf("invalid seat %q", raw)
		}
		label := id.String()
		if _, dup := out.Prices[label]; dup {
			return nil, validationf("seat %s requested more than once", label)
		}
		if layout.SeatsPerRow > 0 && id.Column > layout.SeatsPerRow {
			return nil, validationf("seat %s: row %s has only %d seats", label, id.Row, layout.SeatsPerRow)
		}
		groups := layout.GroupingsForRow(id.Row)
		switch len(groups) {
		case 0:
			return nil, validationf("seat %s: unknown row %s", label, id.Row)
		case 1:
		default:
			return nil, pricingf("row %s belongs to %d seat groupings", id.Row, len(groups))
		}
		price := layout.Groupings[groups[0]].PriceCents
		if price <= 0 {
			return nil, pricingf("row %s has no valid price", id.Row)
		}
		out.Prices[label] = price
		out.Labels = append(out.Labels, label)
		out.Total += price
	}
	model.SortSeatLabels(out.Labels)
	return out, nil
}
