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

// Package audit records user-visible actions as structured log events and,
// when a sink is configured, as durable audit rows.
//
// Never pass email content, subjects, body text, recipient addresses,
// prompts, or completions as fields. Metadata only.
package audit

import (
	"context"
	"fmt"
	"log/slog"
)

// Sink receives audit events for durable storage. Implementations must not
// fail the caller: storage errors are their own problem to log.
type Sink interface {
	Record(ctx context.Context, action string, fields map[string]any)
}

// Logger emits action-keyed audit events.
type Logger struct {
	log  *slog.Logger
	sink Sink
}

// New creates an audit logger. sink may be nil for log-only auditing.
func New(sink Sink) *Logger {
	return &Logger{
		log:  slog.Default().With("channel", "audit"),
		sink: sink,
	}
}

// Info records an audit event. args are alternating key/value pairs, slog
// style.
func (l *Logger) Info(ctx context.Context, action string, args ...any) {
	l.log.InfoContext(ctx, action, append([]any{"action", action}, args...)...)
	if l.sink != nil {
		l.sink.Record(ctx, action, pairsToMap(args))
	}
}

// Error records a failure audit event.
func (l *Logger) Error(ctx context.Context, action string, args ...any) {
	l.log.ErrorContext(ctx, action, append([]any{"action", action}, args...)...)
	if l.sink != nil {
		l.sink.Record(ctx, action, pairsToMap(args))
	}
}

// pairsToMap converts slog-style alternating key/value args into a map for
// the sink. Non-string keys and trailing odd values are stringified or
// dropped the way slog would complain about them.
func pairsToMap(args []any) map[string]any {
	fields := make(map[string]any, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		fields[key] = args[i+1]
	}
	return fields
}
