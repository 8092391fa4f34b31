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
	// MessagesSent tracks outbound wire messages by type
	MessagesSent = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "sent_total",
			Help:      "Total number of wire messages sent",
		},
		[]string{"type"}, // HELLO, UPDATE, MISSING_LINKS, ...
	)

	// MessagesReceived tracks inbound wire messages by type
	MessagesReceived = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "received_total",
			Help:      "Total number of wire messages received",
		},
		[]string{"type"},
	)

	// ReplayAttacksDetected tracks detected challenge-nonce replays
	ReplayAttacksDetected = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "replay_attacks_detected_total",
			Help:      "Total number of replayed identity challenges detected",
		},
	)

	// BufferedMessages tracks messages held waiting for their connection
	BufferedMessages = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "buffered",
			Help:      "Messages buffered for connections that do not exist yet",
		},
	)
)

// MessageSent records one outbound wire message.
func MessageSent(msgType string) {
	MessagesSent.WithLabelValues(msgType).Inc()
}

// MessageReceived records one inbound wire message.
func MessageReceived(msgType string) {
	MessagesReceived.WithLabelValues(msgType).Inc()
}
