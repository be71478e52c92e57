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

package store

import (
	"strings"
	"testing"
)

// TestRecordKey pins the key layout other services read directly.
func TestRecordKey(t *testing.T) {
	if got := RecordKey("501"); got != "email:501" {
		t.Errorf("RecordKey(501) = %q, want email:501", got)
	}
}

// TestMarkerKeyOutsideRecordNamespace guards the status scan: the
// high-water mark must never match the record prefix pattern.
func TestMarkerKeyOutsideRecordNamespace(t *testing.T) {
	if strings.HasPrefix(markerKey, recordPrefix) {
		t.Fatalf("marker key %q collides with the record scan pattern %q*", markerKey, recordPrefix)
	}
}
