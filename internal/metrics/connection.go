// Copyright (C) 2025 localfirst
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionStates tracks state-machine transitions
	ConnectionStates = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "state_transitions_total",
			Help:      "Total number of connection state transitions",
		},
		[]string{"state"}, // connecting, synchronizing, negotiating, connected, disconnected, failure
	)

	// IdentityChecks tracks identity-challenge verifications
	IdentityChecks = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "identity_checks_total",
			Help:      "Total number of identity proof verifications",
		},
		[]string{"status"}, // success, failure
	)

	// SyncRounds tracks graph-sync exchanges
	SyncRounds = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "sync_rounds_total",
			Help:      "Total number of MISSING_LINKS exchanges sent",
		},
	)

	// SyncLinksSent tracks how many links sync rounds carried
	SyncLinksSent = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "sync_links_sent",
			Help:      "Number of links carried per MISSING_LINKS message",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1 to 2048
		},
	)
)

// ConnectionState records one state transition.
func ConnectionState(state string) {
	ConnectionStates.WithLabelValues(state).Inc()
}

// IdentityCheck records an identity proof verification result.
func IdentityCheck(success bool) {
	if success {
		IdentityChecks.WithLabelValues("success").Inc()
	} else {
		IdentityChecks.WithLabelValues("failure").Inc()
	}
}

// SyncRound records one MISSING_LINKS message and its link count.
func SyncRound(links int) {
	SyncRounds.Inc()
	SyncLinksSent.Observe(float64(links))
}
