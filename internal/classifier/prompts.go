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
	"fmt"
	"strings"

	"github.com/aliceintensorland/mailrouter/internal/models"
)

// triagePrompt builds the Stage A prompt: body plus the feedback digest,
// asking for department and urgency in a fixed JSON shape.
func triagePrompt(rec models.EmailRecord, feedback string) string {
	var b strings.Builder

	b.WriteString("Analyze the following email and respond with the urgency and the department it should be forwarded to.\n\n")
	fmt.Fprintf(&b, "Email ID: %s\nSubject: %s\n\nEmail:\n%s\n\n", rec.EmailID, rec.Subject, rec.Body)

	if feedback != "" {
		b.WriteString("Past corrections to your classifications. Use them as guidance:\n")
		b.WriteString(feedback)
		b.WriteString("\n\n")
	}

	b.WriteString("Respond only in the following JSON format:\n")
	b.WriteString("{\n")
	fmt.Fprintf(&b, "    \"EMAIL_ID\": \"%s\",\n", rec.EmailID)
	fmt.Fprintf(&b, "    \"DEPARTMENT\": \"%s\",\n", strings.Join(models.Departments, " | "))
	fmt.Fprintf(&b, "    \"URGENCY\": \"%s\"\n", strings.Join(models.Urgencies, " | "))
	b.WriteString("}\n")
	b.WriteString("Ensure the response is valid JSON with no other text.")

	return b.String()
}

// assignPrompt builds the Stage B prompt: the triage outcome plus the
// candidate roster, asking for forward/cc/bcc addresses.
func assignPrompt(rec models.EmailRecord, triage TriageResult, candidates []models.StaffRecord, feedback string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "An email has been classified as department %s with urgency %s.\n\n", triage.Department, triage.Urgency)
	fmt.Fprintf(&b, "Subject: %s\n\nEmail:\n%s\n\n", rec.Subject, rec.Body)

	b.WriteString("Choose who should receive it from this staff list only:\n")
	for _, c := range candidates {
		fmt.Fprintf(&b, "- %s <%s> (seniority %s, %s, forwarded %d emails in the last 24 days)\n",
			c.Name, c.Email, c.Seniority, c.Work, c.EmailsForwarded)
	}
	b.WriteString("\n")

	if feedback != "" {
		b.WriteString("Past corrections to your routing decisions. Use them as guidance:\n")
		b.WriteString(feedback)
		b.WriteString("\n\n")
	}

	b.WriteString("Respond only in the following JSON format:\n")
	b.WriteString("{\n")
	b.WriteString("    \"FORWARD_TO\": \"one address from the list\",\n")
	b.WriteString("    \"CC\": [\"zero or more addresses from the list\"],\n")
	b.WriteString("    \"BCC\": [\"zero or more addresses from the list\"]\n")
	b.WriteString("}\n")
	b.WriteString("Use an empty list for CC or BCC when nobody should be copied. Ensure the response is valid JSON with no other text.")

	return b.String()
}
