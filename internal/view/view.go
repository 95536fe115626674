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

// Package view presents stored messages together with their resolved
// contacts.
package view

import (
	"context"
	"mime"
	"strings"

	"github.com/matta/cloda/internal/contact"
	"github.com/matta/cloda/internal/docstore"
	"github.com/matta/cloda/internal/message"

	"github.com/pkg/errors"
)

// SnippetLength is the number of characters in a body snippet.
const SnippetLength = 128

// Message wraps a stored message.  The wrapped record is never changed
// except through AddTag, and only the wrapped record is ever saved.
type Message struct {
	raw   *message.Message
	store docstore.DocPutter

	From     *contact.Contact
	To       []*contact.Contact
	Cc       []*contact.Contact
	Involves []*contact.Contact
}

// Wrap returns a view of raw.  Contact ids are resolved with lookup;
// ids it does not know are left out of the lists and leave From nil.
// The view keeps raw, so the caller must not modify it afterwards.
func Wrap(raw *message.Message, store docstore.DocPutter, lookup func(id string) *contact.Contact) *Message {
	m := &Message{raw: raw, store: store}
	if raw.FromContactID != "" {
		m.From = lookup(raw.FromContactID)
	}
	m.To = resolve(raw.ToContactIDs, lookup)
	m.Cc = resolve(raw.CcContactIDs, lookup)
	m.Involves = resolve(raw.InvolvesContactIDs, lookup)
	return m
}

func resolve(ids []string, lookup func(string) *contact.Contact) []*contact.Contact {
	var out []*contact.Contact
	for _, id := range ids {
		if c := lookup(id); c != nil {
			out = append(out, c)
		}
	}
	return out
}

// Raw returns a copy of the stored record.
func (m *Message) Raw() *message.Message { return m.raw.Clone() }

func (m *Message) ID() string             { return m.raw.ID }
func (m *Message) ConversationID() string { return m.raw.ConversationID }
func (m *Message) Subject() string        { return m.raw.Subject }
func (m *Message) Timestamp() int64       { return m.raw.Timestamp }
func (m *Message) HasTag(name string) bool {
	return m.raw.HasTag(name)
}

// Tags returns a copy of the message tags.
func (m *Message) Tags() []string {
	return append([]string(nil), m.raw.Tags...)
}

// MessageID, ReferenceIDs and Time make a Message threadable.

func (m *Message) MessageID() string      { return m.raw.HeaderMessageID }
func (m *Message) ReferenceIDs() []string { return m.raw.References }
func (m *Message) Time() int64            { return m.raw.Timestamp }

// BodyText returns the text/plain parts of the body, depth first.
func (m *Message) BodyText() string {
	var sb strings.Builder
	appendText(&sb, m.raw.BodyPart)
	return sb.String()
}

func appendText(sb *strings.Builder, p *message.BodyPart) {
	if p == nil {
		return
	}
	if len(p.Parts) > 0 {
		for _, sub := range p.Parts {
			appendText(sb, sub)
		}
		return
	}
	if isPlainText(p.ContentType) {
		sb.WriteString(p.Data)
	}
}

func isPlainText(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "text/plain"
}

// BodySnippet returns the first SnippetLength characters of BodyText.
func (m *Message) BodySnippet() string {
	text := m.BodyText()
	n := 0
	for i := range text {
		if n == SnippetLength {
			return text[:i]
		}
		n++
	}
	return text
}

// AddTag tags the message and saves it.  Adding a tag the message
// already has does nothing.  If the save fails the tag is removed
// again.
func (m *Message) AddTag(ctx context.Context, name string) error {
	if m.raw.HasTag(name) {
		return nil
	}
	m.raw.Tags = append(m.raw.Tags, name)
	if err := m.Save(ctx); err != nil {
		m.raw.Tags = m.raw.Tags[:len(m.raw.Tags)-1]
		return errors.Wrapf(err, "tagging message %s", m.raw.ID)
	}
	return nil
}

// Save writes the stored record back.  Resolved contacts are not part
// of it.
func (m *Message) Save(ctx context.Context) error {
	if m.store == nil {
		return errors.Errorf("message %s has no store", m.raw.ID)
	}
	if err := m.store.PutDoc(ctx, docstore.Messages, m.raw.ID, m.raw.Clone()); err != nil {
		return errors.Wrapf(err, "saving message %s", m.raw.ID)
	}
	return nil
}
