// Copyright (c) 2026 John Earle
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

package llm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	callsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_calls_total",
		Help: "LLM call attempts by purpose and outcome.",
	}, []string{"purpose", "outcome"})

	inputTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_input_tokens_total",
		Help: "Input tokens consumed by successful LLM calls.",
	}, []string{"purpose"})

	outputTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_output_tokens_total",
		Help: "Output tokens produced by successful LLM calls.",
	}, []string{"purpose"})

	costTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_cost_usd_total",
		Help: "Estimated USD cost of successful LLM calls.",
	}, []string{"purpose"})
)
