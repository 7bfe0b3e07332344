// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package outbox

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type outboxMetrics struct {
	depth     prometheus.Gauge
	attempts  prometheus.Counter
	failures  prometheus.Counter
	completed prometheus.Counter
}

func (q *Queue) initMetrics(reg prometheus.Registerer) {
	labels := prometheus.Labels{"chain": strconv.Itoa(int(q.chainID))}
	factory := promauto.With(reg)
	q.metrics = &outboxMetrics{
		depth: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "vbank_outbox_depth",
			Help:        "number of pending outbox entries",
			ConstLabels: labels,
		}),
		attempts: factory.NewCounter(prometheus.CounterOpts{
			Name:        "vbank_outbox_attempts_total",
			Help:        "number of outbox execution attempts",
			ConstLabels: labels,
		}),
		failures: factory.NewCounter(prometheus.CounterOpts{
			Name:        "vbank_outbox_failures_total",
			Help:        "number of failed outbox execution attempts",
			ConstLabels: labels,
		}),
		completed: factory.NewCounter(prometheus.CounterOpts{
			Name:        "vbank_outbox_completed_total",
			Help:        "number of completed outbox entries",
			ConstLabels: labels,
		}),
	}
}
