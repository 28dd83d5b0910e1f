/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	referral data. Each scenario goes through the engine (validate, create,
	complete) so the data obeys every ledger invariant.

AVAILABLE SCENARIOS:

	starter:        Two referrers with codes, one pending referral
	payouts:        Referrals at every stage, credits ready to spend
	monthly-cap:    A homeowner who hit the client-to-client monthly limit

HOW SCENARIOS WORK:
 1. Reset database (clear all data, reinstall default config)
 2. Create accounts and appointments
 3. Sign referred accounts up with referrer codes
 4. Report completed appointments

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "payouts"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - cmd/server/main.go: -seed flag loads a scenario at startup
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/warp/referral-engine/referral"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "starter",
		Name:        "Starter",
		Description: "Homeowner John and cleaner Maria with codes, one pending client referral",
	},
	{
		ID:          "payouts",
		Name:        "Payouts",
		Description: "Referrals pending, rewarded and cancelled; John has $75 to spend",
	},
	{
		ID:          "monthly-cap",
		Name:        "Monthly Cap",
		Description: "John already referred 10 homeowners this month",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if !knownScenario(req.ScenarioID) {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	if err := h.LoadScenarioByID(r.Context(), req.ScenarioID); err != nil {
		h.serverError(w, r, "load scenario", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// LoadScenarioByID resets the database and loads a scenario.
func (h *Handler) LoadScenarioByID(ctx context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !knownScenario(id) {
		return fmt.Errorf("unknown scenario %q", id)
	}
	if err := h.Store.Reset(ctx); err != nil {
		return fmt.Errorf("reset database: %w", err)
	}
	h.currentScenario = ""

	var err error
	switch id {
	case "starter":
		err = h.loadStarterScenario(ctx)
	case "payouts":
		err = h.loadPayoutsScenario(ctx)
	case "monthly-cap":
		err = h.loadMonthlyCapScenario(ctx)
	}
	if err != nil {
		return err
	}
	h.currentScenario = id
	h.Logger.Sugar().Infow("scenario loaded", "scenario", id)
	return nil
}

func knownScenario(id string) bool {
	for _, s := range scenarios {
		if s.ID == id {
			return true
		}
	}
	return false
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// Account IDs are fixed so demo tokens stay stable across reloads.
const (
	demoOwnerID int64 = 1
	demoJohnID  int64 = 2
	demoMariaID int64 = 3
)

func (h *Handler) loadBaseAccounts(ctx context.Context) error {
	accounts := []referral.Account{
		{ID: demoOwnerID, FirstName: "Olivia", AccountType: referral.Homeowner},
		{ID: demoJohnID, FirstName: "John", AccountType: referral.Homeowner, ReferralCode: "JOHN1234"},
		{ID: demoMariaID, FirstName: "Maria", AccountType: referral.Cleaner, ReferralCode: "MARI0001"},
	}
	for i := range accounts {
		if err := h.Store.SaveAccount(ctx, &accounts[i]); err != nil {
			return fmt.Errorf("create %s: %w", accounts[i].FirstName, err)
		}
	}
	return nil
}

// signUp creates an account and attaches it to code the way registration does.
func (h *Handler) signUp(ctx context.Context, firstName string, accountType referral.AccountType, code string) (*referral.Account, *referral.Referral, error) {
	account := referral.Account{FirstName: firstName, AccountType: accountType}
	if err := h.Store.SaveAccount(ctx, &account); err != nil {
		return nil, nil, fmt.Errorf("create %s: %w", firstName, err)
	}

	result, err := h.Engine.Validate(ctx, code, accountType)
	if err != nil {
		return nil, nil, err
	}
	if !result.Valid {
		return &account, nil, nil
	}
	ref, err := h.Engine.CreateReferral(ctx, code, account, result.ProgramType, *result.Rewards)
	if err != nil {
		return nil, nil, fmt.Errorf("refer %s: %w", firstName, err)
	}
	return &account, ref, nil
}

// complete books and completes n appointments for an account.
func (h *Handler) complete(ctx context.Context, accountID int64, n int) error {
	for i := 0; i < n; i++ {
		appt := referral.Appointment{AccountID: accountID, PriceCents: 12000}
		if err := h.Store.SaveAppointment(ctx, &appt); err != nil {
			return err
		}
		if _, err := h.Engine.ProcessCompletion(ctx, appt.ID, accountID); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadStarterScenario(ctx context.Context) error {
	if err := h.loadBaseAccounts(ctx); err != nil {
		return err
	}
	jane, _, err := h.signUp(ctx, "Jane", referral.Homeowner, "JOHN1234")
	if err != nil {
		return err
	}
	// An upcoming appointment for Jane to spend her reward on later.
	return h.Store.SaveAppointment(ctx, &referral.Appointment{AccountID: jane.ID, PriceCents: 15000})
}

func (h *Handler) loadPayoutsScenario(ctx context.Context) error {
	if err := h.loadBaseAccounts(ctx); err != nil {
		return err
	}

	// Jane: client_to_client, one cleaning, rewarded ($25 each way).
	jane, _, err := h.signUp(ctx, "Jane", referral.Homeowner, "JOHN1234")
	if err != nil {
		return err
	}
	if err := h.complete(ctx, jane.ID, 1); err != nil {
		return err
	}

	// Carl: client_to_cleaner, three cleanings, rewarded ($50 to John).
	carl, _, err := h.signUp(ctx, "Carl", referral.Cleaner, "JOHN1234")
	if err != nil {
		return err
	}
	if err := h.complete(ctx, carl.ID, 3); err != nil {
		return err
	}

	// Dana: cleaner_to_cleaner, two of five cleanings done.
	dana, _, err := h.signUp(ctx, "Dana", referral.Cleaner, "MARI0001")
	if err != nil {
		return err
	}
	if err := h.complete(ctx, dana.ID, 2); err != nil {
		return err
	}

	// Eli: referred by John, then cancelled by the owner.
	_, eliRef, err := h.signUp(ctx, "Eli", referral.Homeowner, "JOHN1234")
	if err != nil {
		return err
	}
	if _, err := h.Engine.UpdateStatus(ctx, eliRef.ID, referral.StatusCancelled); err != nil {
		return err
	}

	// John's next booking, for spending the $75 he earned.
	return h.Store.SaveAppointment(ctx, &referral.Appointment{AccountID: demoJohnID, PriceCents: 14000})
}

func (h *Handler) loadMonthlyCapScenario(ctx context.Context) error {
	if err := h.loadBaseAccounts(ctx); err != nil {
		return err
	}
	cfg, err := h.Store.CurrentProgramConfig(ctx)
	if err != nil {
		return err
	}
	limit := cfg.Settings(referral.ClientToClient).MaxPerMonth
	for i := 0; i < limit; i++ {
		if _, _, err := h.signUp(ctx, fmt.Sprintf("Friend%d", i+1), referral.Homeowner, "JOHN1234"); err != nil {
			return err
		}
	}
	return nil
}
