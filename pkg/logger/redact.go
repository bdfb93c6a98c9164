// Copyright 2025 UMH Systems GmbH
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

package logger

import (
	"maps"
	"slices"

	"go.uber.org/zap/zapcore"
)

// redactingCore drops fields whose key is redacted and removes redacted keys
// from map[string]any field values, e.g. raw device payloads.
type redactingCore struct {
	zapcore.Core
	keys []string
}

// NewRedactingCore wraps core. Without keys core is returned unchanged.
func NewRedactingCore(core zapcore.Core, keys ...string) zapcore.Core {
	if len(keys) == 0 {
		return core
	}

	return &redactingCore{Core: core, keys: keys}
}

func (c *redactingCore) With(fields []zapcore.Field) zapcore.Core {
	return &redactingCore{Core: c.Core.With(c.redact(fields)), keys: c.keys}
}

func (c *redactingCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return ce.AddCore(entry, c)
	}

	return ce
}

func (c *redactingCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	return c.Core.Write(entry, c.redact(fields))
}

func (c *redactingCore) redact(fields []zapcore.Field) []zapcore.Field {
	out := make([]zapcore.Field, 0, len(fields))

	for _, f := range fields {
		if slices.Contains(c.keys, f.Key) {
			continue
		}

		if values, ok := f.Interface.(map[string]any); ok && c.containsKey(values) {
			values = maps.Clone(values)
			for _, k := range c.keys {
				delete(values, k)
			}

			f.Interface = values
		}

		out = append(out, f)
	}

	return out
}

func (c *redactingCore) containsKey(values map[string]any) bool {
	for _, k := range c.keys {
		if _, ok := values[k]; ok {
			return true
		}
	}

	return false
}
