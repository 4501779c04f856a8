// Copyright 2023 Buf Technologies, Inc.
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

// Package logging adapts Transport's events.Sink capability to structured
// logrus entries, so lifecycle events are observable as log lines in
// addition to (or instead of) in-process subscribers.
package logging

import (
	"github.com/sirupsen/logrus"

	"github.com/nodetransport/estransport/events"
)

// Sink returns an events.Sink that writes one structured logrus entry per
// Event. It can be composed with any other Sink via events.Multi.
func Sink(logger *logrus.Logger) events.Sink {
	return sink{logger: logger}
}

type sink struct {
	logger *logrus.Logger
}

func (s sink) Emit(e events.Event) {
	entry := s.logger.WithFields(logrus.Fields{
		"event":    e.Kind.String(),
		"endpoint": e.Endpoint,
	})
	switch e.Kind {
	case events.KindRequest:
		entry.WithField("attempt", e.Attempt).Debug("request")
	case events.KindResponse:
		entry.WithFields(logrus.Fields{
			"attempt":     e.Attempt,
			"status_code": e.StatusCode,
		}).Debug("response")
	case events.KindRetry:
		entry.WithError(e.Err).WithField("attempt", e.Attempt).Warn("retry")
	case events.KindDead:
		entry.WithError(e.Err).Warn("connection marked dead")
	case events.KindResurrect:
		entry.WithError(e.Err).Info("resurrection attempt")
	case events.KindSniff:
		entry.WithFields(logrus.Fields{
			"reason":     e.Reason,
			"node_count": e.NodeCount,
		}).Info("sniff")
	default:
		entry.Debug("event")
	}
}

var _ events.Sink = sink{}
