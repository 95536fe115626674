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

// Package couch implements the document store over a CouchDB style
// HTTP API.
//
// Every view lives in the design document "_design/cloda" of its
// database.  View keys travel as two element arrays [text, time];
// views keyed by text alone use time 0.
package couch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/matta/cloda/internal/docstore"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
)

// DesignDoc is the design document holding the views.
const DesignDoc = "cloda"

const maxAttempts = 5

// Client is a document store reached over HTTP.
type Client struct {
	base    *url.URL
	hc      *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ docstore.Store = (*Client)(nil)

// New returns a client for the server at rawURL.  Requests are
// limited to qps per second; zero means no limit.  A nil hc means
// http.DefaultClient and a nil logger slog.Default().
func New(rawURL string, hc *http.Client, qps float64, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing store url %q", rawURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("store url %q is not http or https", rawURL)
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if qps > 0 {
		limit = rate.Limit(qps)
	}
	burst := int(qps)
	if burst < 1 {
		burst = 1
	}
	return &Client{base: u, hc: hc, limiter: rate.NewLimiter(limit, burst), logger: logger}, nil
}

// endpoint returns the URL of the given path below the base URL.  Each
// element is one path segment, whatever characters it holds.
func (c *Client) endpoint(query url.Values, elem ...string) string {
	u := *c.base
	var p, raw strings.Builder
	p.WriteString(strings.TrimSuffix(u.Path, "/"))
	raw.WriteString(strings.TrimSuffix(u.EscapedPath(), "/"))
	for _, e := range elem {
		p.WriteString("/" + e)
		raw.WriteString("/" + escapeSegment(e))
	}
	u.Path = p.String()
	u.RawPath = raw.String()
	u.RawQuery = query.Encode()
	return u.String()
}

// escapeSegment escapes s for use as a single path segment.  Dot
// segments are escaped too so they cannot be resolved away.
func escapeSegment(s string) string {
	switch s {
	case ".":
		return "%2E"
	case "..":
		return "%2E%2E"
	}
	return url.PathEscape(s)
}

// do sends a request and decodes a JSON response into out, which may
// be nil.  Requests refused with 429 are retried.
func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return errors.Wrap(err, "encoding request")
		}
	}
	for attempt := 1; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		err := c.roundTrip(ctx, method, endpoint, payload, out)
		if err == nil {
			return nil
		}
		if cause, ok := errors.Cause(err).(*googleapi.Error); ok {
			if cause.Code == http.StatusTooManyRequests && attempt < maxAttempts {
				c.logger.Debug("store throttled, retrying", "method", method, "url", endpoint, "attempt", attempt)
				continue // retry
			}
			if cause.Code == http.StatusNotFound {
				err = errors.Wrapf(docstore.ErrNotFound, "%s %s", method, endpoint)
			}
		}
		return err
	}
}

func (c *Client) roundTrip(ctx context.Context, method, endpoint string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, endpoint)
	}
	defer resp.Body.Close()
	if err := googleapi.CheckResponse(resp); err != nil {
		return errors.Wrapf(err, "%s %s", method, endpoint)
	}
	if out == nil {
		_, err = io.Copy(io.Discard, resp.Body)
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decoding response of %s %s", method, endpoint)
	}
	return nil
}
