package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Activations          *prometheus.CounterVec
	QuickLinkRedemptions *prometheus.CounterVec
	VerificationCodes    *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Activations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_activations_total",
			Help: "Activation attempts by outcome.",
		}, []string{"outcome"}),
		QuickLinkRedemptions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_quicklink_redemptions_total",
			Help: "Quick link redemptions by outcome.",
		}, []string{"outcome"}),
		VerificationCodes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_verification_codes_total",
			Help: "Verification code operations by result.",
		}, []string{"result"}),
	}
}
