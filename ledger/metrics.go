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

package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type coordinatorMetrics struct {
	blocksApplied  *prometheus.CounterVec
	blocksReverted *prometheus.CounterVec
	blocksFailed   *prometheus.CounterVec
	compensations  *prometheus.CounterVec
	invalidTxs     *prometheus.CounterVec
	tipHeight      *prometheus.GaugeVec
	chainHalted    *prometheus.GaugeVec
	applyLatency   *prometheus.HistogramVec
}

func (m *coordinatorMetrics) init(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	m.blocksApplied = promautoFactory.NewCounterVec(prometheus.CounterOpts{
		Name: "vbank_ledger_blocks_applied_total",
		Help: "number of blocks applied",
	}, []string{"chain"})
	m.blocksReverted = promautoFactory.NewCounterVec(prometheus.CounterOpts{
		Name: "vbank_ledger_blocks_reverted_total",
		Help: "number of applied blocks rolled back",
	}, []string{"chain"})
	m.blocksFailed = promautoFactory.NewCounterVec(prometheus.CounterOpts{
		Name: "vbank_ledger_blocks_failed_total",
		Help: "number of blocks that failed to apply or revert",
	}, []string{"chain"})
	m.compensations = promautoFactory.NewCounterVec(prometheus.CounterOpts{
		Name: "vbank_ledger_compensations_total",
		Help: "number of compensation sequences run, by outcome",
	}, []string{"chain", "outcome"})
	m.invalidTxs = promautoFactory.NewCounterVec(prometheus.CounterOpts{
		Name: "vbank_ledger_invalid_txs_total",
		Help: "number of transactions rejected at validation, by code",
	}, []string{"chain", "code"})
	m.tipHeight = promautoFactory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vbank_ledger_tip_height",
		Help: "height of the last applied block",
	}, []string{"chain"})
	m.chainHalted = promautoFactory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vbank_ledger_chain_halted",
		Help: "whether the chain is halted after a failed compensation (0 or 1)",
	}, []string{"chain"})
	m.applyLatency = promautoFactory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vbank_ledger_block_apply_seconds",
			Help:    "time to validate and commit a block",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		[]string{"chain"},
	)
}
