// Copyright 2019 Google LLC
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

package couch

import (
	"log/slog"
	"net/http"

	"github.com/matta/cloda/internal/tracehttp"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi/transport"
)

// Auth describes how requests to the server are authenticated.
type Auth struct {
	// A bearer token sent with every request.  Empty for none.
	Token string

	// An API key sent as the "key" query parameter.  Empty for none.
	APIKey string
}

// NewHTTPClient returns a client that authenticates with auth.  When
// trace is set every request and response is logged to logger.
func NewHTTPClient(auth Auth, trace bool, logger *slog.Logger) *http.Client {
	base := http.DefaultTransport
	if trace {
		base = tracehttp.Wrap(base, logger)
	}
	if auth.APIKey != "" {
		base = &transport.APIKey{Key: auth.APIKey, Transport: base}
	}
	if auth.Token != "" {
		src := oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: auth.Token,
			TokenType:   "Bearer",
		})
		base = &oauth2.Transport{
			Source: oauth2.ReuseTokenSource(nil, src),
			Base:   base,
		}
	}
	return &http.Client{Transport: base}
}
