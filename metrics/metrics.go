/*
Package metrics exports referral engine events to Prometheus.

COLLECTORS:
  referral_codes_generated_total{fallback}       Codes assigned
  referral_code_generation_attempts              Attempts per assignment
  referral_code_validations_total{result}        Validate outcomes ("valid" or error code)
  referral_referrals_created_total{program}      Referrals created
  referral_referrals_qualified_total{program}    Referrals that reached their threshold
  referral_rewards_credited_cents_total{side}    Credits paid out
  referral_credits_spent_cents_total             Credits redeemed against appointments

Recorder implements referral.Observer.
*/
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/warp/referral-engine/referral"
)

// Recorder holds the referral collectors.
type Recorder struct {
	codesGenerated  *prometheus.CounterVec
	codeAttempts    prometheus.Histogram
	validations     *prometheus.CounterVec
	created         *prometheus.CounterVec
	qualified       *prometheus.CounterVec
	rewardsCredited *prometheus.CounterVec
	creditsSpent    prometheus.Counter
}

var _ referral.Observer = (*Recorder)(nil)

// NewRecorder creates the collectors and registers them with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		codesGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "referral_codes_generated_total",
			Help: "Referral codes assigned to accounts",
		}, []string{"fallback"}),
		codeAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "referral_code_generation_attempts",
			Help:    "Candidate codes tried per assignment",
			Buckets: []float64{1, 2, 3, 5, 8, 11},
		}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "referral_code_validations_total",
			Help: "Referral code validations by outcome",
		}, []string{"result"}),
		created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "referral_referrals_created_total",
			Help: "Referrals created",
		}, []string{"program"}),
		qualified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "referral_referrals_qualified_total",
			Help: "Referrals that reached their cleaning threshold",
		}, []string{"program"}),
		rewardsCredited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "referral_rewards_credited_cents_total",
			Help: "Referral reward credits paid out, in cents",
		}, []string{"side"}),
		creditsSpent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "referral_credits_spent_cents_total",
			Help: "Referral credits applied to appointments, in cents",
		}),
	}
	reg.MustRegister(
		r.codesGenerated,
		r.codeAttempts,
		r.validations,
		r.created,
		r.qualified,
		r.rewardsCredited,
		r.creditsSpent,
	)
	return r
}

func (r *Recorder) CodeGenerated(attempts int, fallback bool) {
	r.codesGenerated.WithLabelValues(strconv.FormatBool(fallback)).Inc()
	r.codeAttempts.Observe(float64(attempts))
}

func (r *Recorder) CodeValidated(code referral.ErrorCode) {
	result := string(code)
	if result == "" {
		result = "valid"
	}
	r.validations.WithLabelValues(result).Inc()
}

func (r *Recorder) ReferralCreated(programType referral.ProgramType) {
	r.created.WithLabelValues(string(programType)).Inc()
}

func (r *Recorder) ReferralQualified(programType referral.ProgramType) {
	r.qualified.WithLabelValues(string(programType)).Inc()
}

func (r *Recorder) RewardCredited(side string, cents int64) {
	r.rewardsCredited.WithLabelValues(side).Add(float64(cents))
}

func (r *Recorder) CreditsSpent(cents int64) {
	r.creditsSpent.Add(float64(cents))
}
