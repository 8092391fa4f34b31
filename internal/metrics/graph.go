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
	// LinksAppended tracks links appended to membership graphs by payload type
	LinksAppended = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "links_appended_total",
			Help:      "Total number of links appended to membership graphs",
		},
		[]string{"payload_type"},
	)

	// GraphMerges tracks merge operations
	GraphMerges = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "merges_total",
			Help:      "Total number of graph merge operations",
		},
	)

	// ReducerDrops tracks links the reducer refused to apply
	ReducerDrops = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reducer",
			Name:      "dropped_links_total",
			Help:      "Total number of links dropped during reduction",
		},
		[]string{"reason"}, // unauthorized, undecodable, invariant
	)

	// KeyRotations tracks keyset generation bumps by scope type
	KeyRotations = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keys",
			Name:      "rotations_total",
			Help:      "Total number of keyset rotations",
		},
		[]string{"scope"}, // TEAM, ROLE, MEMBER, DEVICE
	)
)

// LinkAppended records one appended link.
func LinkAppended(payloadType string) {
	LinksAppended.WithLabelValues(payloadType).Inc()
}

// ReducerDrop records one link dropped during reduction.
func ReducerDrop(reason string) {
	ReducerDrops.WithLabelValues(reason).Inc()
}

// KeyRotation records one keyset generation bump.
func KeyRotation(scopeType string) {
	KeyRotations.WithLabelValues(scopeType).Inc()
}
