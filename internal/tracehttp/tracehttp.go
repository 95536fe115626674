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

package tracehttp

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
)

// traceTransport is an http.RoundTripper that logs the request and
// response while delegating the real work to another
// http.RoundTripper.
type traceTransport struct {
	delegate http.RoundTripper
	logger   *slog.Logger
}

// RoundTrip logs a dump of the request and response while delegating
// the round trip to the delegate.
func (t *traceTransport) RoundTrip(req *http.Request) (resp *http.Response, err error) {
	dump, dumpErr := httputil.DumpRequestOut(req, true)
	if dumpErr == nil {
		t.logger.Debug("http request", "dump", string(dump))
	}
	resp, err = t.delegate.RoundTrip(req)
	if err != nil {
		t.logger.Debug("http error", "url", req.URL.String(), "err", err)
		return resp, err
	}
	dump, dumpErr = httputil.DumpResponse(resp, true)
	if dumpErr == nil {
		t.logger.Debug("http response", "dump", string(dump))
	}
	return resp, err
}

// Wrap returns a RoundTripper that logs every exchange made through d
// at debug level.  A nil logger means slog.Default().
func Wrap(d http.RoundTripper, logger *slog.Logger) http.RoundTripper {
	if logger == nil {
		logger = slog.Default()
	}
	return &traceTransport{delegate: d, logger: logger}
}
