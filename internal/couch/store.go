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
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/matta/cloda/internal/docstore"

	"github.com/pkg/errors"
	"google.golang.org/api/googleapi"
)

// wireKey is the JSON form of a docstore.Key.
type wireKey [2]any

func encodeKey(k docstore.Key) wireKey {
	return wireKey{k.Text, k.Time}
}

func decodeKey(raw json.RawMessage) (docstore.Key, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		// _all_docs rows are keyed by the bare document id.
		var id string
		if err2 := json.Unmarshal(raw, &id); err2 != nil {
			return docstore.Key{}, errors.Wrapf(err, "row key %s", raw)
		}
		return docstore.Key{Text: id}, nil
	}
	var k docstore.Key
	if len(parts) > 0 {
		if err := json.Unmarshal(parts[0], &k.Text); err != nil {
			return k, errors.Wrapf(err, "row key %s", raw)
		}
	}
	if len(parts) > 1 {
		if err := json.Unmarshal(parts[1], &k.Time); err != nil {
			return k, errors.Wrapf(err, "row key %s", raw)
		}
	}
	return k, nil
}

// ViewRow is one row of a view or _all_docs response.
type ViewRow struct {
	ID    string          `json:"id,omitempty"`
	Key   json.RawMessage `json:"key"`
	Value json.RawMessage `json:"value,omitempty"`
	Doc   json.RawMessage `json:"doc,omitempty"`
	Error string          `json:"error,omitempty"`
}

// ViewResponse is the body of a view or _all_docs response.
type ViewResponse struct {
	Rows []ViewRow `json:"rows"`
}

func (resp *ViewResponse) rows() ([]docstore.Row, error) {
	out := make([]docstore.Row, 0, len(resp.Rows))
	for _, r := range resp.Rows {
		if r.Error != "" {
			continue
		}
		k, err := decodeKey(r.Key)
		if err != nil {
			return nil, err
		}
		row := docstore.Row{ID: r.ID, Key: k, Value: r.Value}
		if len(r.Doc) > 0 && string(r.Doc) != "null" {
			row.Doc = r.Doc
		}
		out = append(out, row)
	}
	return out, nil
}

func (c *Client) viewEndpoint(view string, query url.Values) (string, error) {
	db, ok := docstore.ViewDatabase(view)
	if !ok {
		return "", errors.Wrapf(docstore.ErrUnknownView, "%q", view)
	}
	return c.endpoint(query, db, "_design", DesignDoc, "_view", view), nil
}

// FetchByKeys implements docstore.KeyFetcher.  Keys match on their
// text component; the time component is always 0.
func (c *Client) FetchByKeys(ctx context.Context, view string, keys []docstore.Key) ([]docstore.Row, error) {
	endpoint, err := c.viewEndpoint(view, url.Values{"include_docs": {"true"}})
	if err != nil {
		return nil, err
	}
	body := struct {
		Keys []wireKey `json:"keys"`
	}{Keys: make([]wireKey, len(keys))}
	for i, k := range keys {
		body.Keys[i] = encodeKey(docstore.Key{Text: k.Text})
	}
	var resp ViewResponse
	if err := c.do(ctx, http.MethodPost, endpoint, body, &resp); err != nil {
		return nil, errors.Wrapf(err, "fetching %d keys from %s", len(keys), view)
	}
	return resp.rows()
}

// QueryView implements docstore.ViewQuerier.
func (c *Client) QueryView(ctx context.Context, view string, r docstore.Range) ([]docstore.Row, error) {
	start, err := json.Marshal(encodeKey(r.Start))
	if err != nil {
		return nil, err
	}
	end, err := json.Marshal(encodeKey(r.End))
	if err != nil {
		return nil, err
	}
	endpoint, err := c.viewEndpoint(view, url.Values{
		"startkey": {string(start)},
		"endkey":   {string(end)},
	})
	if err != nil {
		return nil, err
	}
	var resp ViewResponse
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, errors.Wrapf(err, "querying %s", view)
	}
	rows, err := resp.rows()
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Doc = nil
	}
	return rows, nil
}

// FetchDocs implements docstore.DocFetcher.  Missing documents are
// left out.
func (c *Client) FetchDocs(ctx context.Context, db string, ids []string) ([]docstore.Row, error) {
	endpoint := c.endpoint(url.Values{"include_docs": {"true"}}, db, "_all_docs")
	body := struct {
		Keys []string `json:"keys"`
	}{Keys: ids}
	var resp ViewResponse
	if err := c.do(ctx, http.MethodPost, endpoint, body, &resp); err != nil {
		return nil, errors.Wrapf(err, "fetching %d documents from %s", len(ids), db)
	}
	rows, err := resp.rows()
	if err != nil {
		return nil, err
	}
	out := rows[:0]
	for _, row := range rows {
		if row.Doc != nil {
			out = append(out, row)
		}
	}
	return out, nil
}

// PutDoc implements docstore.DocPutter.  A document that already
// exists is overwritten at its current revision.
func (c *Client) PutDoc(ctx context.Context, db, id string, doc any) error {
	endpoint := c.endpoint(nil, db, id)
	fields, err := asObject(doc)
	if err != nil {
		return errors.Wrapf(err, "encoding %s/%s", db, id)
	}
	err = c.do(ctx, http.MethodPut, endpoint, fields, nil)
	if cause, ok := errors.Cause(err).(*googleapi.Error); ok && cause.Code == http.StatusConflict {
		var current struct {
			Rev string `json:"_rev"`
		}
		if err := c.do(ctx, http.MethodGet, endpoint, nil, &current); err != nil {
			return errors.Wrapf(err, "reading revision of %s/%s", db, id)
		}
		fields["_rev"], _ = json.Marshal(current.Rev)
		c.logger.Debug("overwriting document", "db", db, "id", id, "rev", current.Rev)
		err = c.do(ctx, http.MethodPut, endpoint, fields, nil)
	}
	if err != nil {
		return errors.Wrapf(err, "writing %s/%s", db, id)
	}
	return nil
}

func asObject(doc any) (map[string]json.RawMessage, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}
