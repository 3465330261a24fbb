package dashboard

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"aquarium-dashboard/pkg/api"
	"aquarium-dashboard/pkg/client"
	"aquarium-dashboard/pkg/models"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Upstreams are the backend service clients used by the demo pass-through routes.
// Any of them may be nil, in which case its routes are not registered.
type Upstreams struct {
	Monitor *client.MonitorClient
	Species *client.SpeciesClient
	Brain   *client.BrainClient
}

// Handler serves the /v1 dashboard API.
type Handler struct {
	svc       *Service
	stream    *Stream
	upstreams Upstreams
	log       zerolog.Logger
}

// NewHandler creates the HTTP handler set.
func NewHandler(svc *Service, stream *Stream, upstreams Upstreams, log zerolog.Logger) *Handler {
	return &Handler{svc: svc, stream: stream, upstreams: upstreams, log: log}
}

// Routes registers every /v1 route on r. Writes go through mw.HMACAuth.
func (h *Handler) Routes(r *mux.Router, mw *api.Middleware) {
	signed := func(f http.HandlerFunc) http.Handler { return mw.HMACAuth(f) }

	v1 := r.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/status", h.getStatus).Methods("GET")
	v1.Handle("/status/refresh", signed(h.refreshStatus)).Methods("POST")

	v1.HandleFunc("/challenges", h.getChallenges).Methods("GET")
	v1.Handle("/challenges/{id}/validate", signed(h.validate)).Methods("POST")
	v1.HandleFunc("/challenges/{id}/message", h.getMessage).Methods("GET")
	v1.HandleFunc("/challenges/{id}/confirmations", h.getConfirmations).Methods("GET")
	v1.Handle("/challenges/{id}/confirm", signed(h.confirm)).Methods("POST")

	v1.Handle("/solved", signed(h.resetSolved)).Methods("DELETE")

	v1.HandleFunc("/visitor", h.getVisitor).Methods("GET")
	v1.Handle("/visitor", signed(h.markVisited)).Methods("POST")

	if h.stream != nil {
		v1.Handle("/ws", h.stream).Methods("GET")
	}

	demo := v1.PathPrefix("/demo").Subrouter()
	if h.upstreams.Monitor != nil {
		demo.HandleFunc("/monitor/tanks", h.tanks).Methods("GET")
		demo.HandleFunc("/monitor/tanks/{id}/readings", h.tankReadings).Methods("GET")
		demo.HandleFunc("/monitor/sensors/status", h.sensorStatus).Methods("GET")
	}
	if h.upstreams.Species != nil {
		demo.HandleFunc("/species", h.species).Methods("GET")
		demo.HandleFunc("/species/{id}", h.speciesByID).Methods("GET")
		demo.HandleFunc("/species/{id}/feeding-schedule", h.feedingSchedule).Methods("GET")
	}
	if h.upstreams.Brain != nil {
		demo.HandleFunc("/brain/analysis/tanks", h.tankAnalyses).Methods("GET")
		demo.HandleFunc("/brain/analysis/tanks/{id}", h.tankAnalysis).Methods("GET")
	}
}

func requestID(r *http.Request) string {
	return r.Header.Get("X-Request-ID")
}

// challengeID parses the {id} route variable, writing a 400 when it is not a number.
func challengeID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil || id <= 0 {
		api.WriteError(w, http.StatusBadRequest, "INVALID_ID", "Challenge id must be a positive integer", requestID(r))
		return 0, false
	}
	return id, true
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, h.svc.Status())
}

func (h *Handler) refreshStatus(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, h.svc.RefreshStatus(r.Context()))
}

func (h *Handler) getChallenges(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, h.svc.Challenges(r.Context()))
}

func (h *Handler) validate(w http.ResponseWriter, r *http.Request) {
	id, ok := challengeID(w, r)
	if !ok {
		return
	}

	result, err := h.svc.ValidateChallenge(r.Context(), id)
	if errors.Is(err, ErrChallengeNotFound) {
		api.WriteError(w, http.StatusNotFound, "CHALLENGE_NOT_FOUND", "Challenge not found", requestID(r))
		return
	}

	h.log.Info().
		Str("request_id", requestID(r)).
		Int("challenge_id", id).
		Bool("valid", result.IsValid).
		Msg("Challenge validated")
	api.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) getMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := challengeID(w, r)
	if !ok {
		return
	}
	api.WriteJSON(w, http.StatusOK, h.svc.Message(r.Context(), id))
}

func (h *Handler) getConfirmations(w http.ResponseWriter, r *http.Request) {
	id, ok := challengeID(w, r)
	if !ok {
		return
	}
	api.WriteJSON(w, http.StatusOK, h.svc.Confirmations(r.Context(), id))
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	id, ok := challengeID(w, r)
	if !ok {
		return
	}

	var req models.ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON body", requestID(r))
		return
	}

	out, err := h.svc.Confirm(r.Context(), id, req.Kind)
	switch {
	case errors.Is(err, ErrInvalidKind):
		api.WriteError(w, http.StatusBadRequest, "INVALID_KIND", err.Error(), requestID(r))
	case errors.Is(err, ErrChallengeNotFound):
		api.WriteError(w, http.StatusNotFound, "CHALLENGE_NOT_FOUND", "Challenge not found", requestID(r))
	default:
		api.WriteJSON(w, http.StatusOK, out)
	}
}

func (h *Handler) resetSolved(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, h.svc.ResetSolved(r.Context()))
}

func (h *Handler) getVisitor(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, h.svc.Visitor(r.Context()))
}

func (h *Handler) markVisited(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, h.svc.MarkVisited(r.Context()))
}

// writeUpstream sends v, or a 502 carrying the normalized client error message.
func (h *Handler) writeUpstream(w http.ResponseWriter, r *http.Request, v any, err error) {
	if err == nil {
		api.WriteJSON(w, http.StatusOK, v)
		return
	}

	message := "Upstream request failed"
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		message = apiErr.Message
	}
	api.WriteError(w, http.StatusBadGateway, "UPSTREAM_ERROR", message, requestID(r))
}

func (h *Handler) tanks(w http.ResponseWriter, r *http.Request) {
	out, err := h.upstreams.Monitor.Tanks(r.Context())
	h.writeUpstream(w, r, out, err)
}

func (h *Handler) tankReadings(w http.ResponseWriter, r *http.Request) {
	out, err := h.upstreams.Monitor.TankReadings(r.Context(), mux.Vars(r)["id"])
	h.writeUpstream(w, r, out, err)
}

func (h *Handler) sensorStatus(w http.ResponseWriter, r *http.Request) {
	out, err := h.upstreams.Monitor.SensorStatus(r.Context())
	h.writeUpstream(w, r, out, err)
}

func (h *Handler) species(w http.ResponseWriter, r *http.Request) {
	q := models.SpeciesQuery{
		Name:           r.URL.Query().Get("name"),
		ScientificName: r.URL.Query().Get("scientific_name"),
	}
	out, err := h.upstreams.Species.Species(r.Context(), q)
	h.writeUpstream(w, r, out, err)
}

func (h *Handler) speciesByID(w http.ResponseWriter, r *http.Request) {
	out, err := h.upstreams.Species.SpeciesByID(r.Context(), mux.Vars(r)["id"])
	h.writeUpstream(w, r, out, err)
}

func (h *Handler) feedingSchedule(w http.ResponseWriter, r *http.Request) {
	q := models.FeedingScheduleQuery{
		TankType:   r.URL.Query().Get("tank_type"),
		CustomDiet: r.URL.Query().Get("custom_diet"),
	}
	out, err := h.upstreams.Species.FeedingSchedule(r.Context(), mux.Vars(r)["id"], q)
	h.writeUpstream(w, r, out, err)
}

func (h *Handler) tankAnalyses(w http.ResponseWriter, r *http.Request) {
	out, err := h.upstreams.Brain.TankAnalyses(r.Context())
	h.writeUpstream(w, r, out, err)
}

func (h *Handler) tankAnalysis(w http.ResponseWriter, r *http.Request) {
	out, err := h.upstreams.Brain.TankAnalysis(r.Context(), mux.Vars(r)["id"])
	h.writeUpstream(w, r, out, err)
}
