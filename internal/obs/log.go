// Copyright 2026 The Hashcore Authors
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

package obs

import "go.uber.org/zap"

// NewNop returns a logger that discards everything, for callers that don't
// supply their own (matches the teacher's habit of defaulting to a no-op
// zap logger in tests rather than nil-checking at every call site).
func NewNop() *zap.Logger {
	return zap.NewNop()
}

// Operator returns a logger scoped to one operator instance, carrying the
// operator id the way group/spill_manager.go scopes its Infof calls to a
// single spill operation.
func Operator(base *zap.Logger, operatorID string) *zap.Logger {
	if base == nil {
		base = NewNop()
	}
	return base.With(zap.String("operator", operatorID))
}
