package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"agile-solo-strategy/internal/band"
	"agile-solo-strategy/internal/storage"
	"agile-solo-strategy/internal/strategy"
)

type bandPayload struct {
	ID           int64             `json:"id,omitempty"`
	SortOrder    int               `json:"sortOrder"`
	MinPrice     *string           `json:"minPrice"`
	MaxPrice     *string           `json:"maxPrice"`
	Kind         string            `json:"kind"`
	TargetPoolID string            `json:"targetPoolId"`
	ClassModes   map[string]string `json:"classModes"`
}

type statusPayload struct {
	Enabled          bool       `json:"enabled"`
	EnrolledDevices  []string   `json:"enrolledDevices"`
	CurrentBandID    *int64     `json:"currentBandId"`
	PendingBandID    *int64     `json:"pendingBandId"`
	PendingSince     *time.Time `json:"pendingSince,omitempty"`
	Confirmations    int        `json:"confirmations"`
	ChampionDeviceID *string    `json:"championDeviceId"`
	LastPriceChecked *string    `json:"lastPriceChecked"`
	LastActionTime   *time.Time `json:"lastActionTime"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.state.LoadState(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	payload := statusPayload{
		Enabled:          st.Enabled,
		EnrolledDevices:  st.EnrolledDeviceIDs,
		CurrentBandID:    st.CurrentBandID,
		PendingBandID:    st.PendingBandID,
		PendingSince:     st.PendingSince,
		Confirmations:    st.Confirmations,
		ChampionDeviceID: st.ChampionDeviceID,
		LastActionTime:   st.LastActionTime,
	}
	if st.LastPriceChecked != nil {
		v := st.LastPriceChecked.String()
		payload.LastPriceChecked = &v
	}
	if payload.EnrolledDevices == nil {
		payload.EnrolledDevices = []string{}
	}

	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	s.mutateState(w, r, func(st *strategy.State) error {
		st.Enabled = true
		return nil
	})
}

func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	s.mutateState(w, r, func(st *strategy.State) error {
		st.Enabled = false
		return nil
	})
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if s.trigger == nil {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("no evaluation loop attached"))
		return
	}
	s.trigger("manual")
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleListCycles(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = parsed
	}

	records, err := s.cycles.ListRecentCycles(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	out := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		entry := map[string]any{
			"evaluatedAt":     rec.EvaluatedAt,
			"trigger":         rec.Trigger,
			"price":           rec.Price.String(),
			"priceUnit":       rec.PriceUnit,
			"matchedBandId":   rec.MatchedBandID,
			"committedBandId": rec.CommittedBandID,
			"committed":       rec.Committed,
			"reason":          rec.Reason,
			"plannedDevices":  rec.PlannedDevices,
			"dispatchStatus":  rec.DispatchStatus,
		}
		if rec.ChampionDeviceID != nil {
			entry["championDeviceId"] = *rec.ChampionDeviceID
		}
		if rec.CoinPrice != nil {
			entry["coinPrice"] = rec.CoinPrice.String()
		}
		out = append(out, entry)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListBands(w http.ResponseWriter, r *http.Request) {
	bands, err := s.bands.ListBands(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	out := make([]bandPayload, 0, len(bands))
	for _, b := range bands {
		out = append(out, toPayload(b))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleInsertBand(w http.ResponseWriter, r *http.Request) {
	proposed, err := s.decodeBand(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	existing, err := s.bands.ListBands(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	// Validate the whole proposed table before touching storage.
	proposed.ID = nextProbeID(existing)
	if _, err := band.NewTable(append(existing, proposed)); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	id, err := s.bands.InsertBand(r.Context(), proposed)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	proposed.ID = id
	s.writeJSON(w, http.StatusCreated, toPayload(proposed))
}

func (s *Server) handleUpdateBand(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	proposed, err := s.decodeBand(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	proposed.ID = id

	existing, err := s.bands.ListBands(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	next := make([]band.PriceBand, 0, len(existing))
	found := false
	for _, b := range existing {
		if b.ID == id {
			next = append(next, proposed)
			found = true
			continue
		}
		next = append(next, b)
	}
	if !found {
		s.writeError(w, http.StatusNotFound, storage.ErrBandNotFound)
		return
	}
	if _, err := band.NewTable(next); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	if err := s.bands.UpdateBand(r.Context(), proposed); err != nil {
		if errors.Is(err, storage.ErrBandNotFound) {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toPayload(proposed))
}

func (s *Server) handleDeleteBand(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	st, err := s.state.LoadState(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if st.References(id) {
		s.writeError(w, http.StatusConflict, fmt.Errorf("band %d is the committed or pending band; disable or re-evaluate first", id))
		return
	}

	existing, err := s.bands.ListBands(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	next := make([]band.PriceBand, 0, len(existing))
	for _, b := range existing {
		if b.ID != id {
			next = append(next, b)
		}
	}
	if len(next) == len(existing) {
		s.writeError(w, http.StatusNotFound, storage.ErrBandNotFound)
		return
	}
	if _, err := band.NewTable(next); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, fmt.Errorf("remaining bands invalid: %w", err))
		return
	}

	if err := s.bands.DeleteBand(r.Context(), id); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResetBands(w http.ResponseWriter, r *http.Request) {
	defaults := band.DefaultBands()
	if err := s.bands.ReplaceBands(r.Context(), defaults); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	// Replacing re-issues every band id, so the state's band pointers
	// would dangle. Drop them and let the next cycle bootstrap.
	st, err := s.state.LoadState(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	st.ResetBandRefs()
	if err := s.state.SaveState(r.Context(), st); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.handleListBands(w, r)
}

func (s *Server) handleChampionToggle(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}

	existing, err := s.bands.ListBands(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	var target *band.PriceBand
	next := make([]band.PriceBand, len(existing))
	copy(next, existing)
	for i := range next {
		if next[i].ID == id {
			target = &next[i]
		}
	}
	if target == nil {
		s.writeError(w, http.StatusNotFound, storage.ErrBandNotFound)
		return
	}
	if target.IsOff() {
		s.writeError(w, http.StatusUnprocessableEntity, errors.New("off band cannot run champion mode"))
		return
	}

	if body.Enabled {
		target.Kind = band.KindChampion
	} else {
		target.Kind = band.KindNormal
	}

	if _, err := band.NewTable(next); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	if err := s.bands.UpdateBand(r.Context(), *target); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toPayload(*target))
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]
	s.mutateState(w, r, func(st *strategy.State) error {
		st.Enroll(deviceID)
		return nil
	})
}

func (s *Server) handleUnenroll(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]
	s.mutateState(w, r, func(st *strategy.State) error {
		st.Unenroll(deviceID)
		return nil
	})
}

func (s *Server) mutateState(w http.ResponseWriter, r *http.Request, mutate func(st *strategy.State) error) {
	st, err := s.state.LoadState(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := mutate(st); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	if err := s.state.SaveState(r.Context(), st); err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			s.writeError(w, http.StatusConflict, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"enabled":         st.Enabled,
		"enrolledDevices": st.EnrolledDeviceIDs,
	})
}

func (s *Server) decodeBand(r *http.Request) (band.PriceBand, error) {
	var payload bandPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return band.PriceBand{}, fmt.Errorf("decode band: %w", err)
	}

	b := band.PriceBand{
		SortOrder:    payload.SortOrder,
		Kind:         band.Kind(payload.Kind),
		TargetPoolID: payload.TargetPoolID,
		ClassModes:   payload.ClassModes,
	}
	if payload.MinPrice != nil {
		v, err := decimal.NewFromString(*payload.MinPrice)
		if err != nil {
			return band.PriceBand{}, fmt.Errorf("parse minPrice: %w", err)
		}
		b.MinPrice = &v
	}
	if payload.MaxPrice != nil {
		v, err := decimal.NewFromString(*payload.MaxPrice)
		if err != nil {
			return band.PriceBand{}, fmt.Errorf("parse maxPrice: %w", err)
		}
		b.MaxPrice = &v
	}
	return b, nil
}

func toPayload(b band.PriceBand) bandPayload {
	payload := bandPayload{
		ID:           b.ID,
		SortOrder:    b.SortOrder,
		Kind:         string(b.Kind),
		TargetPoolID: b.TargetPoolID,
		ClassModes:   b.ClassModes,
	}
	if b.MinPrice != nil {
		v := b.MinPrice.String()
		payload.MinPrice = &v
	}
	if b.MaxPrice != nil {
		v := b.MaxPrice.String()
		payload.MaxPrice = &v
	}
	return payload
}

func pathID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid band id %q", raw)
	}
	return id, nil
}

// nextProbeID picks a placeholder id for validating an insert; the
// real id comes from storage.
func nextProbeID(existing []band.PriceBand) int64 {
	var max int64
	for _, b := range existing {
		if b.ID > max {
			max = b.ID
		}
	}
	return max + 1
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error().Err(err).Msg("write response failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Warn().Int("status", status).Err(err).Msg("request failed")
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
