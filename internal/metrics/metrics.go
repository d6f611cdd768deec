// Package metrics exposes the bot's prometheus counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SpamVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_spam_verdicts_total",
		Help: "Messages that crossed the spam pressure threshold, by reason.",
	}, []string{"reason"})

	MessagesChecked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warden_messages_checked_total",
		Help: "Messages run through the spam pressure tracker.",
	})

	MuteEscalations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warden_mute_escalations_total",
		Help: "Mutes recorded by the auto-mute escalator.",
	})

	InviteAttributions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_invite_attributions_total",
		Help: "Member joins attributed to an invite, by outcome.",
	}, []string{"outcome"})
)
