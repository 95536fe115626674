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

// Package docstore defines the contract between the conversation
// engine and the document store holding messages, contacts and
// identities.
package docstore

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

// Databases.
const (
	Messages   = "messages"
	Contacts   = "contacts"
	Identities = "identities"
)

// Views.  Each view is computed over the documents of one database.
const (
	// ByInvolves maps [contact id, timestamp] to a conversation id
	// for every contact involved in a message.
	ByInvolves = "by_involves"

	// ByConversation maps [conversation id] to each message in the
	// conversation.
	ByConversation = "by_conversation"

	// Megaview maps [identity key] to the identity document.
	Megaview = "megaview"

	// ByContact maps [contact id] to each identity id attached to
	// the contact.
	ByContact = "by_contact"
)

// ViewDatabase returns the database a view is computed over.
func ViewDatabase(view string) (string, bool) {
	switch view {
	case ByInvolves, ByConversation:
		return Messages, true
	case Megaview, ByContact:
		return Identities, true
	}
	return "", false
}

var (
	// ErrNotFound reports a document that does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrUnknownView reports a query against an undefined view.
	ErrUnknownView = errors.New("unknown view")
)

// Key is a compound view key: a text component followed by an
// optional time component.  Keys order by Text, then Time.
type Key struct {
	Text string
	Time int64
}

// Less reports whether k sorts before o.
func (k Key) Less(o Key) bool {
	if k.Text != o.Text {
		return k.Text < o.Text
	}
	return k.Time < o.Time
}

// Range selects the view rows with Start <= key <= End.
type Range struct {
	Start Key
	End   Key
}

// Contains reports whether k lies within r.
func (r Range) Contains(k Key) bool {
	return !k.Less(r.Start) && !r.End.Less(k)
}

// Row is one result row of a view query or document fetch.
type Row struct {
	// The ID of the document that emitted the row.
	ID    string
	Key   Key
	Value json.RawMessage

	// The full document.  Nil when the document does not exist.
	Doc json.RawMessage
}

// Text decodes a string valued row.
func (r Row) Text() (string, error) {
	var s string
	if err := json.Unmarshal(r.Value, &s); err != nil {
		return "", errors.Wrapf(err, "row %q value", r.ID)
	}
	return s, nil
}

// DecodeDoc decodes the row's document into v.
func (r Row) DecodeDoc(v any) error {
	if r.Doc == nil {
		return errors.Wrapf(ErrNotFound, "row %q", r.ID)
	}
	if err := json.Unmarshal(r.Doc, v); err != nil {
		return errors.Wrapf(err, "decoding document %q", r.ID)
	}
	return nil
}

// KeyFetcher fetches the rows of a view matching a set of exact keys,
// with documents included.  This is the batched "megaview" style
// lookup.
type KeyFetcher interface {
	FetchByKeys(ctx context.Context, view string, keys []Key) ([]Row, error)
}

// ViewQuerier fetches the rows of a view within a key range.
type ViewQuerier interface {
	QueryView(ctx context.Context, view string, r Range) ([]Row, error)
}

// DocFetcher fetches documents of a database by id.  Missing
// documents yield no row.
type DocFetcher interface {
	FetchDocs(ctx context.Context, db string, ids []string) ([]Row, error)
}

// DocPutter creates or replaces a document.
type DocPutter interface {
	PutDoc(ctx context.Context, db, id string, doc any) error
}

// Store provides all possible actions available on the document
// store.
type Store interface {
	KeyFetcher
	ViewQuerier
	DocFetcher
	DocPutter
}
