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

package committee

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type registryMetrics struct {
	size    prometheus.Gauge
	nonSeed prometheus.Gauge
}

func (r *Registry) initMetrics(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	labels := prometheus.Labels{"chain": strconv.Itoa(int(r.chainID))}
	r.metrics = &registryMetrics{
		size: promautoFactory.NewGauge(prometheus.GaugeOpts{
			Name:        "vbank_committee_members",
			Help:        "current committee size",
			ConstLabels: labels,
		}),
		nonSeed: promautoFactory.NewGauge(prometheus.GaugeOpts{
			Name:        "vbank_committee_non_seed_members",
			Help:        "current non-seed committee members",
			ConstLabels: labels,
		}),
	}
}
