// Copyright © 2024 SealMsg. All rights reserved.
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

// Package prommetrics holds the server's prometheus collectors.
package prommetrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	APIRequestCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "groupserver_api_requests_total",
		Help: "HTTP requests by path and response code.",
	}, []string{"path", "code"})

	RotationRequestCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "groupserver_key_rotation_requests_total",
		Help: "Key rotation requests published to groups.",
	})

	KeyUploadConflictCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "groupserver_key_upload_conflicts_total",
		Help: "Key uploads rejected by the version CAS.",
	})

	LimiterRejectCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "groupserver_limiter_rejects_total",
		Help: "Requests rejected by a rate limiter.",
	}, []string{"limiter"})
)

var registry = prometheus.NewRegistry()

func init() {
	registry.MustRegister(
		APIRequestCounter,
		RotationRequestCounter,
		KeyUploadConflictCounter,
		LimiterRejectCounter,
		collectors.NewGoCollector(),
	)
}

// Handler serves the metrics endpoint.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// RecordAPIRequest bumps the request counter for one served call.
func RecordAPIRequest(path string, code int) {
	APIRequestCounter.WithLabelValues(path, strconv.Itoa(code)).Inc()
}
