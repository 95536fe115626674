// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics holds the prometheus collectors of the conversation
// engine.  A nil *Metrics is valid and records nothing.
package metrics

import (
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

const namespace = "cloda"

// Metrics groups the collectors.
type Metrics struct {
	queries       *prometheus.CounterVec
	queryDuration prometheus.Histogram
	storeCalls    *prometheus.CounterVec
	identities    *prometheus.CounterVec
	gaps          *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Conversation queries by final state.",
		}, []string{"state"}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Wall time of conversation queries.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		storeCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_calls_total",
			Help:      "Document store round trips by operation.",
		}, []string{"op"}),
		identities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identity_lookups_total",
			Help:      "Identity registry lookups by result.",
		}, []string{"result"}),
		gaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integrity_gaps_total",
			Help:      "Dangling references skipped while assembling conversations.",
		}, []string{"kind"}),
	}
	for _, c := range []prometheus.Collector{m.queries, m.queryDuration, m.storeCalls, m.identities, m.gaps} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "registering collector")
		}
	}
	return m, nil
}

// QueryDone records a finished query.
func (m *Metrics) QueryDone(state string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(state).Inc()
	m.queryDuration.Observe(elapsed.Seconds())
}

// StoreCall records one store round trip.
func (m *Metrics) StoreCall(op string) {
	if m == nil {
		return
	}
	m.storeCalls.WithLabelValues(op).Inc()
}

// IdentityLookup records a registry hit ("hit"), a fetched identity
// ("fetched") or a placeholder ("missing").
func (m *Metrics) IdentityLookup(result string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.identities.WithLabelValues(result).Add(float64(n))
}

// IntegrityGap records a skipped dangling reference.
func (m *Metrics) IntegrityGap(kind string) {
	if m == nil {
		return
	}
	m.gaps.WithLabelValues(kind).Inc()
}

// WriteText writes every metric gathered by g in the text exposition
// format.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return errors.Wrap(err, "gathering metrics")
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return errors.Wrap(err, "writing metrics")
		}
	}
	return nil
}
