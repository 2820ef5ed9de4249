// Copyright (C) 2026 The Sentinel Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "worker",
		Name:      "commands_total",
		Help:      "Total number of commands handled",
	}, []string{"worker"})
	metricAcks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "worker",
		Name:      "acks_total",
		Help:      "Total number of acks emitted",
	}, []string{"worker"})
	metricEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "worker",
		Name:      "events_total",
		Help:      "Total number of filesystem events emitted",
	}, []string{"worker"})
	metricFatalErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "worker",
		Name:      "fatal_errors_total",
		Help:      "Total number of fatal worker body errors",
	}, []string{"worker"})
)
