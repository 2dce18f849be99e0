// Package api exposes the race controller over HTTP: the six state-changing
// entry points, read-only queries, and a WebSocket feed of bet events.
// All invariants live in the engine; handlers only decode, dispatch, and
// translate errors to status codes.
package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/paddock/race-engine/internal/access"
	"github.com/paddock/race-engine/internal/engine"
	"github.com/paddock/race-engine/internal/ledger"
	"github.com/paddock/race-engine/internal/metrics"
	"github.com/paddock/race-engine/internal/model"
	"github.com/paddock/race-engine/internal/store"
)

// Server wires the engine to HTTP handlers.
type Server struct {
	engine *engine.Engine
}

// NewServer creates the HTTP surface for one engine.
func NewServer(e *engine.Engine) *Server {
	return &Server{engine: e}
}

// Routes registers all API routes on a chi router.
func (s *Server) Routes(r chi.Router) {
	r.Post("/schemes", s.SetScheme)
	r.Get("/schemes", s.ListSchemes)
	r.Get("/schemes/{schemeID}", s.GetScheme)
	r.Get("/schemes/{schemeID}/rewards/{index}", s.GetSchemeReward)

	r.Post("/races", s.CreateRace)
	r.Get("/races", s.ListRaces)
	r.Get("/races/{raceID}", s.GetRace)
	r.Get("/races/{raceID}/rewards/{index}", s.GetRaceReward)
	r.Post("/races/{raceID}/bets", s.PlaceBet)
	r.Post("/races/{raceID}/start", s.StartRace)
	r.Post("/races/{raceID}/cancel", s.CancelRace)
	r.Post("/races/{raceID}/finish", s.FinishRace)
	r.Post("/races/{raceID}/revocations", s.RevokeBet)

	r.Get("/treasury", s.GetTreasury)
	r.Put("/treasury", s.SetTreasury)

	r.Post("/accounts/{address}/credit", s.CreditAccount)
	r.Get("/accounts/{address}/balance", s.GetBalance)
}

// --- Request types ---

// SetSchemeRequest is the JSON body for POST /schemes. Multipliers are
// fixed-point ×100; places are assigned from input order.
type SetSchemeRequest struct {
	Operator     model.Address     `json:"operator"`
	ID           uint64            `json:"id"`
	PlayersCount int               `json:"players_count"`
	Multipliers  []decimal.Decimal `json:"multipliers"`
}

// CreateRaceRequest is the JSON body for POST /races.
type CreateRaceRequest struct {
	Operator  model.Address   `json:"operator"`
	ID        uint64          `json:"id"`
	BetAmount decimal.Decimal `json:"bet_amount"`
	Duration  int64           `json:"duration"` // seconds
	SchemeID  uint64          `json:"scheme_id"`
}

// BetRequest is the JSON body for POST /races/{raceID}/bets. Signature is
// the hex-encoded operator authorization over (player, race, amount).
type BetRequest struct {
	Player    model.Address   `json:"player"`
	Amount    decimal.Decimal `json:"amount"`
	Signature string          `json:"signature"`
}

// StartRequest is the JSON body for POST /races/{raceID}/start.
type StartRequest struct {
	Operator  model.Address `json:"operator"`
	StartTime int64         `json:"start_time"` // unix seconds, operator clock
}

// CancelRequest is the JSON body for POST /races/{raceID}/cancel.
type CancelRequest struct {
	Operator model.Address `json:"operator"`
}

// FinishRequest is the JSON body for POST /races/{raceID}/finish. Winners
// are listed in place order and must cover the race's reward table.
type FinishRequest struct {
	Operator model.Address   `json:"operator"`
	EndTime  int64           `json:"end_time"` // unix seconds, operator clock
	Winners  []model.Address `json:"winners"`
}

// RevokeRequest is the JSON body for POST /races/{raceID}/revocations.
type RevokeRequest struct {
	Player    model.Address `json:"player"`
	Signature string        `json:"signature"`
}

// TreasuryRequest is the JSON body for PUT /treasury.
type TreasuryRequest struct {
	Operator model.Address `json:"operator"`
	Address  model.Address `json:"address"`
}

// CreditRequest is the JSON body for POST /accounts/{address}/credit.
type CreditRequest struct {
	Operator model.Address   `json:"operator"`
	Amount   decimal.Decimal `json:"amount"`
}

// --- Handlers ---

func (s *Server) SetScheme(w http.ResponseWriter, r *http.Request) {
	var req SetSchemeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.engine.SetScheme(r.Context(), req.Operator, req.ID, req.PlayersCount, req.Multipliers); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"id": req.ID})
}

func (s *Server) GetScheme(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "schemeID")
	if !ok {
		return
	}
	scheme, err := s.engine.GetScheme(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scheme)
}

func (s *Server) ListSchemes(w http.ResponseWriter, r *http.Request) {
	schemes, err := s.engine.ListSchemes(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if schemes == nil {
		schemes = []model.Scheme{}
	}
	writeJSON(w, http.StatusOK, schemes)
}

func (s *Server) GetSchemeReward(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "schemeID")
	if !ok {
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, "invalid reward index", http.StatusBadRequest)
		return
	}
	reward, err := s.engine.SchemeReward(r.Context(), id, index)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reward)
}

func (s *Server) CreateRace(w http.ResponseWriter, r *http.Request) {
	var req CreateRaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.engine.CreateRace(r.Context(), req.Operator, req.ID, req.BetAmount, req.Duration, req.SchemeID); err != nil {
		writeEngineError(w, err)
		return
	}
	metrics.RaceTransitions.WithLabelValues("created").Inc()
	writeJSON(w, http.StatusCreated, map[string]uint64{"id": req.ID})
}

func (s *Server) GetRace(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "raceID")
	if !ok {
		return
	}
	race, err := s.engine.GetRace(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, race)
}

func (s *Server) ListRaces(w http.ResponseWriter, r *http.Request) {
	races, err := s.engine.ListRaces(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if races == nil {
		races = []model.Race{}
	}
	writeJSON(w, http.StatusOK, races)
}

func (s *Server) GetRaceReward(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "raceID")
	if !ok {
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, "invalid reward index", http.StatusBadRequest)
		return
	}
	reward, err := s.engine.RaceReward(r.Context(), id, index)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reward)
}

func (s *Server) PlaceBet(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "raceID")
	if !ok {
		return
	}
	var req BetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	signature, err := decodeHex(req.Signature)
	if err != nil {
		writeError(w, "invalid signature encoding", http.StatusBadRequest)
		return
	}

	if err := s.engine.Bet(r.Context(), req.Player, id, req.Amount, signature); err != nil {
		metrics.BetsRejected.WithLabelValues(rejectReason(err)).Inc()
		writeEngineError(w, err)
		return
	}
	metrics.BetsTotal.Inc()
	writeJSON(w, http.StatusCreated, map[string]any{"race_id": id, "player": req.Player})
}

func (s *Server) StartRace(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "raceID")
	if !ok {
		return
	}
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.engine.Start(r.Context(), req.Operator, id, req.StartTime); err != nil {
		writeEngineError(w, err)
		return
	}
	metrics.RaceTransitions.WithLabelValues("started").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"race_id": id, "started": true})
}

func (s *Server) CancelRace(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "raceID")
	if !ok {
		return
	}
	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.engine.Cancel(r.Context(), req.Operator, id); err != nil {
		writeEngineError(w, err)
		return
	}
	metrics.RaceTransitions.WithLabelValues("cancelled").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"race_id": id, "cancelled": true})
}

func (s *Server) FinishRace(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "raceID")
	if !ok {
		return
	}
	var req FinishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	plan, err := s.engine.Finish(r.Context(), req.Operator, id, req.EndTime, req.Winners)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	metrics.RaceTransitions.WithLabelValues("finished").Inc()
	metrics.SettlementPaid.Add(plan.Total.InexactFloat64())
	metrics.SettlementCommission.Add(plan.Commission.InexactFloat64())

	writeJSON(w, http.StatusOK, map[string]any{
		"race_id":    id,
		"finished":   true,
		"pot":        plan.Pot,
		"paid":       plan.Total,
		"commission": plan.Commission,
	})
}

func (s *Server) RevokeBet(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "raceID")
	if !ok {
		return
	}
	var req RevokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	signature, err := decodeHex(req.Signature)
	if err != nil {
		writeError(w, "invalid signature encoding", http.StatusBadRequest)
		return
	}
	if err := s.engine.RevokeBet(r.Context(), req.Player, id, signature); err != nil {
		writeEngineError(w, err)
		return
	}
	metrics.Revocations.Inc()
	writeJSON(w, http.StatusOK, map[string]any{"race_id": id, "player": req.Player})
}

func (s *Server) GetTreasury(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]model.Address{"address": s.engine.Treasury()})
}

func (s *Server) SetTreasury(w http.ResponseWriter, r *http.Request) {
	var req TreasuryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.engine.SetTreasury(req.Operator, req.Address); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]model.Address{"address": req.Address})
}

func (s *Server) CreditAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := model.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, "invalid address", http.StatusBadRequest)
		return
	}
	var req CreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.engine.Credit(req.Operator, addr, req.Amount); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"balance": s.engine.Balance(addr).String()})
}

func (s *Server) GetBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := model.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, "invalid address", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"balance": s.engine.Balance(addr).String()})
}

// --- Helpers ---

func parseID(w http.ResponseWriter, r *http.Request, param string) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, param), 10, 64)
	if err != nil {
		writeError(w, "invalid "+param, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}

// writeEngineError maps engine/collaborator errors onto HTTP statuses:
// validation 400, signer 401, role 403, not-found 404, state conflicts
// 409, transfer failures 402, paused 503.
func writeEngineError(w http.ResponseWriter, err error) {
	writeError(w, err.Error(), statusFor(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrRaceNotFound),
		errors.Is(err, store.ErrSchemeNotFound),
		errors.Is(err, engine.ErrRewardNotFound):
		return http.StatusNotFound

	case errors.Is(err, engine.ErrUntrustedSigner):
		return http.StatusUnauthorized

	case errors.Is(err, access.ErrNotOperator):
		return http.StatusForbidden

	case errors.Is(err, access.ErrPaused):
		return http.StatusServiceUnavailable

	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusPaymentRequired

	case errors.Is(err, store.ErrRaceExists),
		errors.Is(err, engine.ErrRaceStarted),
		errors.Is(err, engine.ErrRaceNotStarted),
		errors.Is(err, engine.ErrRaceFinished),
		errors.Is(err, engine.ErrRaceCancelled),
		errors.Is(err, engine.ErrRaceNotCancelled),
		errors.Is(err, engine.ErrRaceFull),
		errors.Is(err, engine.ErrRaceNotFull),
		errors.Is(err, engine.ErrAlreadyBet),
		errors.Is(err, engine.ErrAlreadyRevoked):
		return http.StatusConflict

	default:
		return http.StatusBadRequest
	}
}

// rejectReason labels rejected bets for the metrics counter.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, engine.ErrUntrustedSigner):
		return "bad_signature"
	case errors.Is(err, engine.ErrRaceFull):
		return "race_full"
	case errors.Is(err, engine.ErrWrongBetAmount):
		return "wrong_amount"
	case errors.Is(err, engine.ErrAlreadyBet):
		return "duplicate"
	case errors.Is(err, engine.ErrRaceStarted), errors.Is(err, engine.ErrRaceCancelled):
		return "closed"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "insufficient_funds"
	default:
		return "other"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
