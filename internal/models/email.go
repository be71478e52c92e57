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

// Package models defines the data structures shared across the routing service.
package models

// Status is the lifecycle state of an email record. Transitions are
// monotonic: NOT_ROUTED is the only initial state, ROUTED and FAILED are
// terminal. A record never moves out of ROUTED.
type Status string

const (
	// StatusNotRouted is the initial state, set at ingestion.
	StatusNotRouted Status = "NOT_ROUTED"
	// StatusRouted means the message was forwarded and confirmed sent.
	StatusRouted Status = "ROUTED"
	// StatusFailed means routing was abandoned permanently (validation
	// failure or classification attempt cap). Left for operator review.
	StatusFailed Status = "FAILED"
)

// EmailRecord represents one ingested email persisted in the record store.
//
// This struct's JSON serialisation is the Redis value under the key
// "email:<email_id>". Field names and status values are a stable contract;
// the dashboard reads the same keys.
type EmailRecord struct {
	EmailID     string   `json:"email_id"`
	From        string   `json:"from"`
	Subject     string   `json:"subject"`
	Body        string   `json:"body"`
	Attachments []string `json:"attachments"`
	Status      Status   `json:"status"`

	// Attempts counts classification tries that ended in a
	// ClassificationError. Records exceeding the configured cap are
	// moved to FAILED instead of retrying forever.
	Attempts int `json:"attempts,omitempty"`
}

// StaffRecord is one row of the staff directory.
type StaffRecord struct {
	Dept            string
	Name            string
	Email           string
	EmailsForwarded int
	Seniority       string
	Work            string
}

// RoutingDecision is the combined output of both classification stages.
// It is transient: never persisted on its own, only folded into the
// outbound message and the record's status transition.
type RoutingDecision struct {
	Department string
	Urgency    string
	ForwardTo  string
	CC         []string
	BCC        []string
}

// Departments is the closed set of routing destinations. Any other value
// coming back from the classifier is a classification error.
var Departments = []string{"HR", "FINANCE", "SOFTWARE", "CYBERSECURITY"}

// Urgencies is the closed set of priority labels.
var Urgencies = []string{"HIGH", "MEDIUM", "LOW", "HIGHEST"}

// ValidDepartment reports whether dept is in the closed department set.
func ValidDepartment(dept string) bool {
	for _, d := range Departments {
		if d == dept {
			return true
		}
	}
	return false
}

// ValidUrgency reports whether urgency is in the closed urgency set.
func ValidUrgency(urgency string) bool {
	for _, u := range Urgencies {
		if u == urgency {
			return true
		}
	}
	return false
}
