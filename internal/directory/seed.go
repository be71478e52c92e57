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

package directory

import (
	"context"
	"fmt"

	"github.com/aliceintensorland/mailrouter/internal/models"
)

// sampleStaff is the demo roster used by cmd/seed.
var sampleStaff = []models.StaffRecord{
	{Dept: "FINANCE", Name: "Alice Johnson", Email: "alice.johnson@aliceintensorland.com", EmailsForwarded: 45, Seniority: "HIGHEST", Work: "Payroll Management"},
	{Dept: "FINANCE", Name: "Bob Smith", Email: "bob.smith@aliceintensorland.com", EmailsForwarded: 30, Seniority: "MEDIUM", Work: "Tax Compliance"},
	{Dept: "FINANCE", Name: "Charlie Brown", Email: "charlie.brown@aliceintensorland.com", EmailsForwarded: 15, Seniority: "LOW", Work: "Budget Analysis"},
	{Dept: "HR", Name: "Diana Prince", Email: "diana.prince@aliceintensorland.com", EmailsForwarded: 120, Seniority: "HIGHEST", Work: "Employee Relations"},
	{Dept: "HR", Name: "Eve Adams", Email: "eve.adams@aliceintensorland.com", EmailsForwarded: 75, Seniority: "MEDIUM", Work: "Recruitment"},
	{Dept: "HR", Name: "Frank White", Email: "frank.white@aliceintensorland.com", EmailsForwarded: 50, Seniority: "LOW", Work: "Training and Development"},
	{Dept: "SOFTWARE", Name: "Grace Hopper", Email: "grace.hopper@aliceintensorland.com", EmailsForwarded: 200, Seniority: "HIGHEST", Work: "Software Architecture"},
	{Dept: "SOFTWARE", Name: "Hank Green", Email: "hank.green@aliceintensorland.com", EmailsForwarded: 100, Seniority: "MEDIUM", Work: "Backend Development"},
	{Dept: "SOFTWARE", Name: "Ivy Lee", Email: "ivy.lee@aliceintensorland.com", EmailsForwarded: 60, Seniority: "LOW", Work: "Frontend Development"},
	{Dept: "CYBERSECURITY", Name: "Jack Ryan", Email: "jack.ryan@aliceintensorland.com", EmailsForwarded: 150, Seniority: "HIGHEST", Work: "Incident Response"},
	{Dept: "CYBERSECURITY", Name: "Karen Black", Email: "karen.black@aliceintensorland.com", EmailsForwarded: 90, Seniority: "MEDIUM", Work: "Vulnerability Assessment"},
	{Dept: "CYBERSECURITY", Name: "Leo King", Email: "leo.king@aliceintensorland.com", EmailsForwarded: 40, Seniority: "LOW", Work: "Access Control Management"},
}

// sampleFeedback is the demo correction history used by cmd/seed.
var sampleFeedback = []FeedbackEntry{
	{
		Email:            "alice.johnson@aliceintensorland.com",
		Subject:          "Salary discrepancy issue",
		ActualText:       "The amount credited to my account is lower than expected. Please review and resolve this issue urgently.",
		PreviousResponse: `{"URGENCY": "MEDIUM"}`,
		ExpectedResponse: `{"URGENCY": "HIGHEST"}`,
		PreviousCC:       "[]", PreviousBCC: "[]", ExpectedCC: "[]", ExpectedBCC: "[]",
	},
	{
		Email:            "bob.smith@aliceintensorland.com",
		Subject:          "Tax compliance feedback",
		ActualText:       "I have some suggestions regarding the recent tax compliance process. Please forward this to the finance team.",
		PreviousResponse: `{"DEPARTMENT": "HR"}`,
		ExpectedResponse: `{"DEPARTMENT": "FINANCE"}`,
		PreviousCC:       "[]", PreviousBCC: "[]", ExpectedCC: "[]", ExpectedBCC: "[]",
	},
	{
		Email:            "diana.prince@aliceintensorland.com",
		Subject:          "Recruitment improvement",
		ActualText:       "I believe the recruitment process can be improved by streamlining candidate evaluations. Please review my suggestions.",
		PreviousResponse: `{"FORWARD_TO": "eve.adams@aliceintensorland.com"}`,
		ExpectedResponse: `{"FORWARD_TO": "diana.prince@aliceintensorland.com"}`,
		PreviousCC:       `["eve.adams@aliceintensorland.com"]`, PreviousBCC: "[]",
		ExpectedCC:       `["diana.prince@aliceintensorland.com"]`, ExpectedBCC: "[]",
	},
	{
		Email:            "grace.hopper@aliceintensorland.com",
		Subject:          "Software architecture review",
		ActualText:       "I would like to request a review of the new software architecture design. Please prioritize this task.",
		PreviousResponse: `{"URGENCY": "HIGH"}`,
		ExpectedResponse: `{"URGENCY": "HIGHEST"}`,
		PreviousCC:       "[]", PreviousBCC: "[]", ExpectedCC: "[]", ExpectedBCC: "[]",
	},
	{
		Email:            "jack.ryan@aliceintensorland.com",
		Subject:          "Incident response feedback",
		ActualText:       "Here is my feedback on the recent incident response process. Please forward this to the cybersecurity team.",
		PreviousResponse: `{"DEPARTMENT": "CYBERSECURITY"}`,
		ExpectedResponse: `{"DEPARTMENT": "CYBERSECURITY"}`,
		PreviousCC:       "[]", PreviousBCC: "[]", ExpectedCC: "[]", ExpectedBCC: "[]",
	},
	{
		Email:            "ivy.lee@aliceintensorland.com",
		Subject:          "Frontend development issue",
		ActualText:       "There are some issues with the current frontend implementation. Please address these as soon as possible.",
		PreviousResponse: `{"URGENCY": "LOW"}`,
		ExpectedResponse: `{"URGENCY": "MEDIUM"}`,
		PreviousCC:       "[]", PreviousBCC: "[]", ExpectedCC: "[]", ExpectedBCC: "[]",
	},
}

// SeedStaff inserts the demo roster, leaving existing rows untouched.
func (s *Store) SeedStaff(ctx context.Context) (int, error) {
	inserted := 0
	for _, r := range sampleStaff {
		tag, err := s.pool.Exec(ctx, `
			INSERT INTO staff (dept, name, email, emails_forwarded_in_last_24_days, seniority_level, work)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (email) DO NOTHING
		`, r.Dept, r.Name, r.Email, r.EmailsForwarded, r.Seniority, r.Work)
		if err != nil {
			return inserted, fmt.Errorf("seed staff row %s: %w", r.Email, err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// SeedFeedback inserts the demo correction history.
func (s *Store) SeedFeedback(ctx context.Context) (int, error) {
	inserted := 0
	for _, e := range sampleFeedback {
		if err := s.AddFeedback(ctx, e); err != nil {
			return inserted, err
		}
		inserted++
	}
	return inserted, nil
}
