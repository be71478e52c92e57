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

package classifier

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Stage identifies which classification call produced an error.
type Stage string

const (
	StageTriage Stage = "triage"
	StageAssign Stage = "assign"
)

// ClassificationError means the model produced output that could not be
// parsed or validated, even after the relaxed fallback. It carries the
// raw response text for diagnosis. It is never retried within the call;
// the record stays pending and is naturally retried on the next pass.
type ClassificationError struct {
	Stage Stage
	Raw   string
	Err   error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classification %s stage: %v (raw: %s)", e.Stage, e.Err, truncate(e.Raw, 200))
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// parseModelJSON parses model output into v. Strict parse first; on
// failure one relaxed attempt strips markdown fences and any prose around
// the outermost JSON object. The strict error is returned when both fail,
// since it describes the response the model was asked for.
func parseModelJSON(raw string, v any) error {
	strictErr := json.Unmarshal([]byte(strings.TrimSpace(raw)), v)
	if strictErr == nil {
		return nil
	}

	relaxed, ok := extractObject(raw)
	if !ok {
		return fmt.Errorf("no JSON object found in response: %w", strictErr)
	}
	if err := json.Unmarshal([]byte(relaxed), v); err != nil {
		return strictErr
	}
	return nil
}

// extractObject trims markdown code fences and returns the outermost
// {...} substring of the response.
func extractObject(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

// AddressList is a set of addresses that tolerates the model's habit of
// answering with a bare string instead of an array. The sentinel "NONE"
// (any case) and empty strings collapse to an empty list.
type AddressList []string

func (a *AddressList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*a = normalizeAddresses(list)
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return fmt.Errorf("address list is neither array nor string: %s", truncate(string(data), 80))
	}
	*a = normalizeAddresses([]string{single})
	return nil
}

func normalizeAddresses(in []string) []string {
	out := []string{}
	for _, addr := range in {
		addr = strings.TrimSpace(addr)
		if addr == "" || IsNoneSentinel(addr) {
			continue
		}
		out = append(out, addr)
	}
	return out
}

// IsNoneSentinel reports whether the value is the model's "no recipient"
// marker.
func IsNoneSentinel(v string) bool {
	return strings.EqualFold(strings.TrimSpace(v), "NONE")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
