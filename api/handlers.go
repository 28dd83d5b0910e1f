/*
handlers.go - HTTP API handlers for the referral program

PURPOSE:
  Exposes the referral engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the engine.

ENDPOINTS (under /api/referrals):
  Public:
    GET    /validate/{code}?userType=  Validate a code for a new account
    GET    /current                    Enabled programs with descriptions

  Authenticated account:
    GET    /my-code                    Own code (generated on first call)
    GET    /my-referrals               Own referrals and stats
    GET    /my-credits                 Credit balance and ledger
    POST   /apply-credits              Spend credits on an appointment
    POST   /share                      Ready-to-send referral message

  Owner:
    GET    /config                     Current program configuration
    PUT    /config                     Replace program configuration
    GET    /history                    Configuration versions
    GET    /all                        All referrals, filterable
    PATCH  /{id}/status                Administrative status change
    POST   /completions                Count a completed appointment

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid input, or a code that failed validation (with errorCode)
  - 401: Missing or invalid token
  - 403: Role not allowed
  - 404: Account or referral not found
  - 500: Store failures and ledger invariant violations, always with the
         generic SERVER_ERROR code and no internal details

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Token verification
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/referral-engine/referral"
	"github.com/warp/referral-engine/store/sqlite"
	"go.uber.org/zap"
)

// codeServerError is the only code returned with a 500.
const codeServerError = "SERVER_ERROR"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *referral.Engine
	Store  *sqlite.Store
	Logger *zap.Logger

	// ShareBaseURL is the signup page linked from share messages.
	ShareBaseURL string

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler.
func NewHandler(engine *referral.Engine, store *sqlite.Store, logger *zap.Logger, shareBaseURL string) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Engine:       engine,
		Store:        store,
		Logger:       logger,
		ShareBaseURL: shareBaseURL,
	}
}

// =============================================================================
// PUBLIC HANDLERS
// =============================================================================

// ValidateCode checks a referral code for a prospective account.
func (h *Handler) ValidateCode(w http.ResponseWriter, r *http.Request) {
	userType, err := referral.ParseAccountType(r.URL.Query().Get("userType"))
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, "Invalid userType", "INVALID_USER_TYPE")
		return
	}

	result, err := h.Engine.Validate(r.Context(), chi.URLParam(r, "code"), userType)
	if err != nil {
		h.serverError(w, r, "validate referral code", err)
		return
	}

	status := http.StatusOK
	if !result.Valid {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, toValidationResponse(result))
}

// CurrentPrograms lists the enabled programs.
func (h *Handler) CurrentPrograms(w http.ResponseWriter, r *http.Request) {
	programs, err := h.Engine.CurrentPrograms(r.Context())
	if err != nil {
		h.serverError(w, r, "list programs", err)
		return
	}
	dtos := make([]ProgramDTO, len(programs))
	for i, p := range programs {
		dtos[i] = toProgramDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// MyCode returns the caller's referral code, generating it on first use.
func (h *Handler) MyCode(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())

	code, err := h.Engine.EnsureCode(r.Context(), claims.AccountID)
	if errors.Is(err, referral.ErrAccountNotFound) {
		writeError(w, http.StatusNotFound, "Account not found", nil)
		return
	}
	if err != nil {
		h.serverError(w, r, "ensure referral code", err)
		return
	}

	writeJSON(w, http.StatusOK, MyCodeResponse{Code: code, ShareURL: h.shareURL(code)})
}

// MyReferrals returns the referrals the caller made and their rollup.
func (h *Handler) MyReferrals(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())
	ctx := r.Context()

	stats, err := h.Engine.Stats(ctx, claims.AccountID)
	if err != nil {
		h.serverError(w, r, "load referral stats", err)
		return
	}
	if stats == nil {
		writeError(w, http.StatusNotFound, "Account not found", nil)
		return
	}

	referrals, err := h.Engine.ListReferrals(ctx, referral.ReferralFilter{ReferrerID: claims.AccountID})
	if err != nil {
		h.serverError(w, r, "list referrals", err)
		return
	}

	writeJSON(w, http.StatusOK, MyReferralsResponse{
		Stats:     toStatsDTO(stats),
		Referrals: toReferralDTOs(referrals),
	})
}

// MyCredits returns the caller's credit balance and ledger.
func (h *Handler) MyCredits(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())
	ctx := r.Context()

	account, err := h.Store.GetAccount(ctx, claims.AccountID)
	if err != nil {
		h.serverError(w, r, "load account", err)
		return
	}
	if account == nil {
		writeError(w, http.StatusNotFound, "Account not found", nil)
		return
	}

	entries, err := h.Engine.CreditHistory(ctx, claims.AccountID)
	if err != nil {
		h.serverError(w, r, "load credit history", err)
		return
	}
	dtos := make([]CreditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toCreditEntryDTO(e)
	}

	writeJSON(w, http.StatusOK, CreditsResponse{
		Balance:        account.ReferralCredits,
		BalanceDisplay: referral.FormatCents(account.ReferralCredits),
		Transactions:   dtos,
	})
}

// ApplyCredits spends the caller's credits on one of their appointments.
func (h *Handler) ApplyCredits(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())

	var req ApplyCreditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.AppointmentID <= 0 {
		writeError(w, http.StatusBadRequest, "appointmentId is required", nil)
		return
	}
	requested := int64(math.MaxInt64)
	if req.Amount != nil {
		requested = *req.Amount
	}

	result, err := h.Engine.SpendCredits(r.Context(), claims.AccountID, req.AppointmentID, requested)
	if err != nil {
		h.serverError(w, r, "spend credits", err)
		return
	}

	resp := ApplyCreditsResponse{
		Success:          result.Success,
		AmountApplied:    result.AmountApplied,
		RemainingCredits: result.RemainingCredits,
		NewPrice:         result.NewPrice,
		NewPriceDisplay:  referral.FormatCents(result.NewPrice),
		Error:            result.Error,
	}
	if !result.Success {
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Share builds a referral message for the caller.
func (h *Handler) Share(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())
	ctx := r.Context()

	req := ShareRequest{Channel: "link"}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}
	if req.Channel == "" {
		req.Channel = "link"
	}
	if req.Channel != "link" && req.Channel != "email" && req.Channel != "sms" {
		writeError(w, http.StatusBadRequest, "channel must be link, email or sms", nil)
		return
	}

	account, err := h.Store.GetAccount(ctx, claims.AccountID)
	if err != nil {
		h.serverError(w, r, "load account", err)
		return
	}
	if account == nil {
		writeError(w, http.StatusNotFound, "Account not found", nil)
		return
	}
	code, err := h.Engine.EnsureCode(ctx, account.ID)
	if err != nil {
		h.serverError(w, r, "ensure referral code", err)
		return
	}

	cfg, err := h.Store.CurrentProgramConfig(ctx)
	if err != nil {
		h.serverError(w, r, "load program config", err)
		return
	}
	// Most shares go to homeowners, so advertise that program's offer.
	var offer int64
	if program, ok := referral.ResolveProgram(account.AccountType, referral.Homeowner); ok && cfg != nil && cfg.Active {
		if s := cfg.Settings(program); s.Enabled && s.RewardType != referral.RewardDiscount {
			offer = s.ReferredReward
		}
	}

	link := h.shareURL(code)
	resp := ShareResponse{
		Code:     code,
		ShareURL: link,
		Channel:  req.Channel,
		Message:  shareMessage(account.FirstName, code, link, offer),
	}
	if req.Channel == "email" {
		resp.Subject = fmt.Sprintf("%s invited you to Warp", displayName(account.FirstName))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) shareURL(code string) string {
	base := h.ShareBaseURL
	if base == "" {
		return code
	}
	u, err := url.Parse(base)
	if err != nil {
		return base + "?ref=" + url.QueryEscape(code)
	}
	q := u.Query()
	q.Set("ref", code)
	u.RawQuery = q.Encode()
	return u.String()
}

func shareMessage(firstName, code, link string, offerCents int64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s invited you to Warp!", displayName(firstName))
	if offerCents > 0 {
		fmt.Fprintf(&b, " Get $%s off your first cleaning", referral.FormatCents(offerCents))
		fmt.Fprintf(&b, " with code %s.", code)
	} else {
		fmt.Fprintf(&b, " Sign up with code %s.", code)
	}
	fmt.Fprintf(&b, " %s", link)
	return b.String()
}

func displayName(firstName string) string {
	if strings.TrimSpace(firstName) == "" {
		return "A friend"
	}
	return firstName
}

// =============================================================================
// OWNER HANDLERS
// =============================================================================

// GetConfig returns the current program configuration.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.Store.CurrentProgramConfig(r.Context())
	if err != nil {
		h.serverError(w, r, "load program config", err)
		return
	}
	if cfg == nil {
		writeError(w, http.StatusNotFound, "No program configuration", nil)
		return
	}
	writeJSON(w, http.StatusOK, toConfigDTO(cfg))
}

// UpdateConfig stores a new program configuration version.
func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req UpdateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	cfg := fromUpdateConfigRequest(req)
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid program configuration", err)
		return
	}
	if err := h.Store.SaveProgramConfig(r.Context(), cfg); err != nil {
		h.serverError(w, r, "save program config", err)
		return
	}

	claims, _ := ClaimsFrom(r.Context())
	h.Logger.Info("program config updated",
		zap.Int64("config_id", cfg.ID),
		zap.Bool("active", cfg.Active),
		zap.Int64("updated_by", claims.AccountID))
	writeJSON(w, http.StatusOK, toConfigDTO(cfg))
}

// ConfigHistory lists configuration versions, newest first.
func (h *Handler) ConfigHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	configs, err := h.Store.ListProgramConfigs(r.Context(), limit)
	if err != nil {
		h.serverError(w, r, "list program configs", err)
		return
	}
	dtos := make([]ConfigDTO, len(configs))
	for i := range configs {
		dtos[i] = toConfigDTO(&configs[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListAllReferrals lists referrals across all accounts.
func (h *Handler) ListAllReferrals(w http.ResponseWriter, r *http.Request) {
	filter, err := parseReferralFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid filter", err)
		return
	}

	referrals, err := h.Engine.ListReferrals(r.Context(), filter)
	if errors.Is(err, referral.ErrInvalidStatus) {
		writeErrorCode(w, http.StatusBadRequest, "Invalid status filter", "INVALID_STATUS")
		return
	}
	if err != nil {
		h.serverError(w, r, "list referrals", err)
		return
	}
	writeJSON(w, http.StatusOK, ReferralListResponse{
		Referrals: toReferralDTOs(referrals),
		Count:     len(referrals),
	})
}

func parseReferralFilter(r *http.Request) (referral.ReferralFilter, error) {
	q := r.URL.Query()
	filter := referral.ReferralFilter{
		Status:      referral.Status(q.Get("status")),
		ProgramType: referral.ProgramType(q.Get("programType")),
	}
	if filter.ProgramType != "" && !filter.ProgramType.Valid() {
		return filter, fmt.Errorf("unknown programType %q", filter.ProgramType)
	}

	var err error
	if filter.Limit, err = queryInt(r, "limit"); err != nil {
		return filter, err
	}
	if filter.Offset, err = queryInt(r, "offset"); err != nil {
		return filter, err
	}
	if v := q.Get("referrerId"); v != "" {
		if filter.ReferrerID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return filter, fmt.Errorf("invalid referrerId: %w", err)
		}
	}
	for name, dst := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := parseDate(v)
		if err != nil {
			return filter, fmt.Errorf("invalid %s: %w", name, err)
		}
		*dst = &t
	}
	return filter, nil
}

// parseDate accepts RFC 3339 timestamps or plain dates.
func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}

// UpdateReferralStatus applies an administrative status change.
func (h *Handler) UpdateReferralStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	updated, err := h.Engine.UpdateStatus(r.Context(), chi.URLParam(r, "id"), referral.Status(req.Status))
	if errors.Is(err, referral.ErrReferralNotFound) {
		writeErrorCode(w, http.StatusNotFound, "Referral not found", "REFERRAL_NOT_FOUND")
		return
	}
	if err != nil {
		h.serverError(w, r, "update referral status", err)
		return
	}
	writeJSON(w, http.StatusOK, toReferralDTO(*updated))
}

// RecordCompletion counts a completed appointment toward the account's
// pending referral. Called by the appointment scheduler.
func (h *Handler) RecordCompletion(w http.ResponseWriter, r *http.Request) {
	var req CompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.AccountID <= 0 || req.AppointmentID <= 0 {
		writeError(w, http.StatusBadRequest, "accountId and appointmentId are required", nil)
		return
	}

	updated, err := h.Engine.ProcessCompletion(r.Context(), req.AppointmentID, req.AccountID)
	if err != nil {
		h.serverError(w, r, "process completion", err)
		return
	}
	resp := CompletionResponse{Counted: updated != nil}
	if updated != nil {
		dto := toReferralDTO(*updated)
		resp.Referral = &dto
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeErrorCode(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// serverError logs err and answers 500 without exposing it.
func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.Logger.Error(op+" failed",
		zap.String("path", r.URL.Path),
		zap.Bool("invariant", referral.IsInvariantError(err)),
		zap.Error(err))
	writeErrorCode(w, http.StatusInternalServerError, "An unexpected error occurred", codeServerError)
}

func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}
