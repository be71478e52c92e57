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

package mailsource

import (
	"fmt"

	"github.com/emersion/go-sasl"
)

// xoauth2Client implements the SASL XOAUTH2 mechanism used by Gmail and
// Outlook for IMAP bearer-token authentication.
type xoauth2Client struct {
	username string
	token    string
}

func newXOAuth2Client(username, token string) sasl.Client {
	return &xoauth2Client{username: username, token: token}
}

func (c *xoauth2Client) Start() (string, []byte, error) {
	resp := []byte("user=" + c.username + "\x01auth=Bearer " + c.token + "\x01\x01")
	return "XOAUTH2", resp, nil
}

func (c *xoauth2Client) Next(challenge []byte) ([]byte, error) {
	// The server only challenges on auth failure, with a JSON error blob.
	return nil, fmt.Errorf("XOAUTH2 rejected: %s", challenge)
}
