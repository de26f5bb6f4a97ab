package httpapi

import (
	"net/http"
	"time"
)

type positionView struct {
	Instrument string    `json:"instrument"`
	Quantity   string    `json:"quantity"`
	Notional   string    `json:"notional"`
	Fills      int       `json:"fills"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type slotView struct {
	Instrument string `json:"instrument"`
	Side       string `json:"side"`
	State      string `json:"state"`
	LocalID    string `json:"local_id,omitempty"`
	VenueID    string `json:"venue_id,omitempty"`
	Price      string `json:"price,omitempty"`
	Size       string `json:"size,omitempty"`
	Filled     string `json:"filled,omitempty"`
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions := []positionView{}
	if s.deps.Positions != nil {
		for _, p := range s.deps.Positions.Positions() {
			positions = append(positions, positionView{
				Instrument: p.Instrument,
				Quantity:   p.Quantity.String(),
				Notional:   p.Notional.String(),
				Fills:      p.Fills,
				UpdatedAt:  p.UpdatedAt,
			})
		}
	}

	slots := []slotView{}
	if s.deps.Slots != nil {
		views, err := s.deps.Slots.Slots(r.Context())
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", err.Error())
			return
		}
		for _, v := range views {
			sv := slotView{Instrument: v.Instrument, Side: string(v.Side), State: string(v.State)}
			if o := v.Order; o != nil {
				sv.LocalID = o.LocalID
				sv.VenueID = o.VenueID
				sv.Price = o.Price.String()
				sv.Size = o.Size.String()
				sv.Filled = o.Filled.String()
			}
			slots = append(slots, sv)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"positions": positions, "slots": slots})
}
