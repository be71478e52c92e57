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

// Package classifier talks to an Ollama-compatible chat endpoint and turns
// model output into structured routing decisions.
//
// Two stages per email: Triage (department + urgency from the body) and
// Assign (forward/cc/bcc from the candidate roster). The endpoint streams
// newline-delimited JSON chunks; the client concatenates chunk contents in
// arrival order and parses the result as one JSON document, with a single
// relaxed-parse fallback for the usual model formatting noise.
package classifier

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aliceintensorland/mailrouter/internal/models"
)

// Config holds the chat endpoint settings.
type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client is an HTTP client for the classification endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

// NewClient creates a classification client. Timeout defaults to 30s;
// hitting it surfaces as a transport error (transient), never as a
// ClassificationError.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		model:      cfg.Model,
	}
}

// chatRequest is the /api/chat request body.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatChunk is one newline-delimited streaming response chunk.
type chatChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// TriageResult is the Stage A output schema.
type TriageResult struct {
	EmailID    string `json:"EMAIL_ID"`
	Department string `json:"DEPARTMENT"`
	Urgency    string `json:"URGENCY"`
}

// Assignment is the Stage B output schema.
type Assignment struct {
	ForwardTo string      `json:"FORWARD_TO"`
	CC        AddressList `json:"CC"`
	BCC       AddressList `json:"BCC"`
}

// chat sends one prompt and returns the concatenated response text.
// Chunks arrive in transport order and are appended as-is; a chunk that
// fails to decode is logged and skipped so one mangled line cannot sink
// an otherwise usable response.
func (c *Client) chat(ctx context.Context, prompt string) (string, error) {
	payload := chatRequest{
		Model:    c.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("chat endpoint returned HTTP %d: %s", resp.StatusCode, string(errBody))
	}

	var complete strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk chatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			slog.Warn("skipping undecodable chat chunk", "error", err)
			continue
		}
		complete.WriteString(chunk.Message.Content)
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read chat stream: %w", err)
	}

	return complete.String(), nil
}

// Triage runs Stage A: classify the email body into a department and an
// urgency label. Transport failures return plain errors (transient);
// malformed or out-of-schema output returns a *ClassificationError.
func (c *Client) Triage(ctx context.Context, rec models.EmailRecord, feedback string) (*TriageResult, error) {
	raw, err := c.chat(ctx, triagePrompt(rec, feedback))
	if err != nil {
		return nil, err
	}

	var result TriageResult
	if err := parseModelJSON(raw, &result); err != nil {
		return nil, &ClassificationError{Stage: StageTriage, Raw: raw, Err: err}
	}

	if result.EmailID == "" {
		result.EmailID = rec.EmailID
	}
	if !models.ValidDepartment(result.Department) {
		return nil, &ClassificationError{
			Stage: StageTriage,
			Raw:   raw,
			Err:   fmt.Errorf("department %q not in %v", result.Department, models.Departments),
		}
	}
	if !models.ValidUrgency(result.Urgency) {
		return nil, &ClassificationError{
			Stage: StageTriage,
			Raw:   raw,
			Err:   fmt.Errorf("urgency %q not in %v", result.Urgency, models.Urgencies),
		}
	}

	return &result, nil
}

// Assign runs Stage B: pick the forward/cc/bcc addresses from the
// candidate roster for the triaged department.
func (c *Client) Assign(ctx context.Context, rec models.EmailRecord, triage TriageResult, candidates []models.StaffRecord, feedback string) (*Assignment, error) {
	raw, err := c.chat(ctx, assignPrompt(rec, triage, candidates, feedback))
	if err != nil {
		return nil, err
	}

	var result Assignment
	if err := parseModelJSON(raw, &result); err != nil {
		return nil, &ClassificationError{Stage: StageAssign, Raw: raw, Err: err}
	}

	return &result, nil
}
