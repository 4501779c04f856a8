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

package logging

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodetransport/estransport/events"
)

func TestSinkEmitsOneEntryPerEvent(t *testing.T) {
	logger, hook := logrustest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	sink := Sink(logger)

	sink.Emit(events.Event{Kind: events.KindRequest, Endpoint: "node1", Attempt: 1})
	require.Len(t, hook.Entries, 1)
	entry := hook.LastEntry()
	assert.Equal(t, logrus.DebugLevel, entry.Level)
	assert.Equal(t, "request", entry.Data["event"])
	assert.Equal(t, "node1", entry.Data["endpoint"])
	assert.Equal(t, 1, entry.Data["attempt"])
}

func TestSinkLogsRetryAtWarnWithError(t *testing.T) {
	logger, hook := logrustest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	sink := Sink(logger)

	sink.Emit(events.Event{Kind: events.KindRetry, Endpoint: "node1", Attempt: 2, Err: errors.New("boom")})
	entry := hook.LastEntry()
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.EqualError(t, entry.Data["error"].(error), "boom")
}

func TestSinkLogsSniffWithNodeCount(t *testing.T) {
	logger, hook := logrustest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	sink := Sink(logger)

	sink.Emit(events.Event{Kind: events.KindSniff, Reason: "sniff-on-start", NodeCount: 3})
	entry := hook.LastEntry()
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, "sniff-on-start", entry.Data["reason"])
	assert.Equal(t, 3, entry.Data["node_count"])
}

func TestSinkComposesViaMulti(t *testing.T) {
	loggerA, hookA := logrustest.NewNullLogger()
	loggerB, hookB := logrustest.NewNullLogger()
	multi := events.Multi{Sink(loggerA), Sink(loggerB)}

	multi.Emit(events.Event{Kind: events.KindDead, Endpoint: "node1", Err: errors.New("down")})

	require.Len(t, hookA.Entries, 1)
	require.Len(t, hookB.Entries, 1)
}
