package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/food-rescue/internal/allocation"
	"github.com/example/food-rescue/internal/apperr"
	"github.com/example/food-rescue/internal/auth"
	"github.com/example/food-rescue/internal/dispatch"
	"github.com/example/food-rescue/internal/logging"
	"github.com/example/food-rescue/internal/matcher"
	"github.com/example/food-rescue/internal/models"
	"github.com/example/food-rescue/internal/places"
)

// ClaimantSink receives claimant profile updates, e.g. the geo pool or the
// Kafka locations topic.
type ClaimantSink interface {
	Upsert(ctx context.Context, c models.Claimant) error
}

// ClaimantSinkFunc adapts a plain function, e.g. a Kafka publish, to a ClaimantSink.
type ClaimantSinkFunc func(ctx context.Context, c models.Claimant) error

func (f ClaimantSinkFunc) Upsert(ctx context.Context, c models.Claimant) error { return f(ctx, c) }

type Server struct {
	Alloc     *allocation.Service
	Matcher   *matcher.Service
	Places    *places.Finder
	Auth      *auth.Service
	WSReg     *dispatch.WSRegistry
	Claimants []ClaimantSink
	logger    *slog.Logger
	mux       *mux.Router
}

type Deps struct {
	Alloc     *allocation.Service
	Matcher   *matcher.Service
	Places    *places.Finder
	Auth      *auth.Service
	WSReg     *dispatch.WSRegistry
	Claimants []ClaimantSink
}

func NewServer(d Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Server{
		Alloc:     d.Alloc,
		Matcher:   d.Matcher,
		Places:    d.Places,
		Auth:      d.Auth,
		WSReg:     d.WSReg,
		Claimants: d.Claimants,
		logger:    logging.Component(logger, "http"),
		mux:       mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{claimant_id}", s.handleWS)

	s.mux.HandleFunc("/internal/suppliers/{id}", s.handleUpsertSupplier).Methods("PUT")
	s.mux.HandleFunc("/internal/claimants/{id}", s.handleUpsertClaimant).Methods("PUT")

	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.Use(s.Auth.Middleware)
	api.HandleFunc("/listings", s.handleCreateListing).Methods("POST")
	api.HandleFunc("/listings", s.handleListListings).Methods("GET")
	api.HandleFunc("/listings/{id}", s.handleGetListing).Methods("GET")
	api.HandleFunc("/listings/{id}/candidates", s.handleCandidates).Methods("GET")
	api.HandleFunc("/listings/{id}/nearby-places", s.handleNearbyPlaces).Methods("GET")
	api.HandleFunc("/listings/{id}/claims", s.handleListingClaims).Methods("GET")
	api.HandleFunc("/claims", s.handleCreateClaim).Methods("POST")
	api.HandleFunc("/claims/{id}", s.handleGetClaim).Methods("GET")
	api.HandleFunc("/claims/{id}/approve", s.handleApprove).Methods("POST")
	api.HandleFunc("/claims/{id}/reject", s.handleReject).Methods("POST")
	api.HandleFunc("/claims/{id}/collect", s.handleCollect).Methods("POST")
	api.HandleFunc("/claims/{id}/complete", s.handleComplete).Methods("POST")
	api.HandleFunc("/claims/{id}/cancel", s.handleCancel).Methods("POST")
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func caller(r *http.Request) allocation.Caller {
	c, _ := auth.CallerFrom(r.Context())
	return c
}

func (s *Server) handleUpsertSupplier(w http.ResponseWriter, r *http.Request) {
	var sup models.Supplier
	if err := decode(r, &sup); err != nil {
		writeError(w, s.logger, err)
		return
	}
	sup.ID = mux.Vars(r)["id"]
	out, err := s.Alloc.UpsertSupplier(r.Context(), sup)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpsertClaimant(w http.ResponseWriter, r *http.Request) {
	var c models.Claimant
	if err := decode(r, &c); err != nil {
		writeError(w, s.logger, err)
		return
	}
	c.ID = mux.Vars(r)["id"]
	out, err := s.Alloc.UpsertClaimant(r.Context(), c)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	// the candidate pool is eventually consistent with the registry
	for _, sink := range s.Claimants {
		if err := sink.Upsert(r.Context(), *out); err != nil {
			s.logger.Warn("claimant sink update failed", "claimant_id", out.ID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateListing(w http.ResponseWriter, r *http.Request) {
	var in allocation.ListingInput
	if err := decode(r, &in); err != nil {
		writeError(w, s.logger, err)
		return
	}
	l, err := s.Alloc.CreateListing(r.Context(), caller(r), in)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

func (s *Server) handleListListings(w http.ResponseWriter, r *http.Request) {
	var status models.ListingStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		st, err := models.ParseListingStatus(raw)
		if err != nil {
			writeError(w, s.logger, apperr.InvalidArgument(err.Error(), "status"))
			return
		}
		status = st
	}
	ls, err := s.Alloc.ListListings(r.Context(), status)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ls)
}

func (s *Server) handleGetListing(w http.ResponseWriter, r *http.Request) {
	l, err := s.Alloc.GetListing(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// ownListing loads a listing and checks the caller is its supplier.
func (s *Server) ownListing(r *http.Request) (*models.Listing, error) {
	l, err := s.Alloc.GetListing(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		return nil, err
	}
	c := caller(r)
	if c.Role != allocation.RoleSupplier || c.ID != l.SupplierID {
		return nil, apperr.Unauthorized("listing %s belongs to another supplier", l.ID)
	}
	return l, nil
}

func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	l, err := s.ownListing(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	limit, err := intParam(r, "limit", 10)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	cands, err := s.Matcher.Candidates(r.Context(), *l, limit, offset)
	if err != nil {
		writeError(w, s.logger, apperr.Internal("rank candidates", err))
		return
	}
	writeJSON(w, http.StatusOK, cands)
}

func (s *Server) handleNearbyPlaces(w http.ResponseWriter, r *http.Request) {
	l, err := s.ownListing(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Places.Find(r.Context(), l.Loc))
}

func (s *Server) handleListingClaims(w http.ResponseWriter, r *http.Request) {
	cs, err := s.Alloc.ListingClaims(r.Context(), caller(r), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

func (s *Server) handleCreateClaim(w http.ResponseWriter, r *http.Request) {
	var in allocation.ClaimInput
	if err := decode(r, &in); err != nil {
		writeError(w, s.logger, err)
		return
	}
	c, err := s.Alloc.CreateClaim(r.Context(), caller(r), in)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleGetClaim(w http.ResponseWriter, r *http.Request) {
	c, err := s.Alloc.GetClaim(r.Context(), caller(r), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type approveRequest struct {
	Response   string    `json:"response"`
	PickupTime time.Time `json:"pickup_time"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var in approveRequest
	if err := decodeOptional(r, &in); err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.claimResult(w)(s.Alloc.Approve(r.Context(), caller(r), mux.Vars(r)["id"], in.Response, in.PickupTime))
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var in rejectRequest
	if err := decodeOptional(r, &in); err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.claimResult(w)(s.Alloc.Reject(r.Context(), caller(r), mux.Vars(r)["id"], in.Reason))
}

func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	s.claimResult(w)(s.Alloc.MarkCollected(r.Context(), caller(r), mux.Vars(r)["id"]))
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var in allocation.CompletionDetails
	if err := decodeOptional(r, &in); err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.claimResult(w)(s.Alloc.Complete(r.Context(), caller(r), mux.Vars(r)["id"], in))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.claimResult(w)(s.Alloc.Cancel(r.Context(), caller(r), mux.Vars(r)["id"]))
}

func (s *Server) claimResult(w http.ResponseWriter) func(*models.ClaimRequest, error) {
	return func(c *models.ClaimRequest, err error) {
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

// decodeOptional accepts an empty body.
func decodeOptional(r *http.Request, v any) error {
	if r.ContentLength == 0 {
		return nil
	}
	return decode(r, v)
}

var upgrader = websocket.Upgrader{}

// handleWS attaches a claimant's live offer feed. Browsers cannot set headers
// on the upgrade request, so the token may come in the query string.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["claimant_id"]
	tok := r.URL.Query().Get("token")
	if raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		tok = strings.TrimSpace(raw)
	}
	claims, err := s.Auth.ValidateToken(tok)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthenticated", Message: err.Error()})
		return
	}
	if claims.Role != allocation.RoleClaimant || claims.UserID != id {
		writeError(w, s.logger, apperr.Unauthorized("token does not belong to claimant %s", id))
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	s.WSReg.Add(id, conn)
	// drain control frames until the client goes away
	go func() {
		defer func() {
			s.WSReg.Remove(id, conn)
			_ = conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
