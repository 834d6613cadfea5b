package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Reconciliations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_reconciliations_total",
		Help: "Account reconciliations by outcome (created, updated, merged, degraded)",
	}, []string{"outcome"})

	DuplicatesRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portal_duplicate_accounts_removed_total",
		Help: "Non-canonical user records deleted by merges",
	})

	SeatClaims = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_seat_claims_total",
		Help: "Seat claim attempts by result",
	}, []string{"result"})

	AchievementsUnlocked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_achievements_unlocked_total",
		Help: "Achievements unlocked by rarity",
	}, []string{"rarity"})

	LiveSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "portal_campaign_stream_subscribers",
		Help: "Open campaign live-update subscriptions",
	})

	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_messages_sent_total",
		Help: "Admin messages stored, by email delivery result",
	}, []string{"delivery"})
)
