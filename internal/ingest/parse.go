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

package ingest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"net/mail"
	"strings"
	"time"

	"github.com/matta/cloda/internal/message"

	"github.com/google/uuid"
	"github.com/jhillyerd/enmime"
	"github.com/pkg/errors"
)

// IdentityType is the identity type of email addresses.
const IdentityType = "email"

// Parsed holds the documents derived from one RFC 822 message.
type Parsed struct {
	Message    *message.Message
	Contacts   []*message.ContactDoc
	Identities []*message.IdentityDoc

	// Set when neither the Date header nor any Received header holds a
	// date.  The message timestamp is then 0.
	Undated bool
}

// ContactID returns the contact id of an email address.  The same
// address always maps to the same id.
func ContactID(addr string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailto:"+strings.ToLower(addr))).String()
}

// Parse converts a raw RFC 822 message into documents.
func Parse(raw []byte) (*Parsed, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(err, "parsing message")
	}

	m := &message.Message{
		HeaderMessageID: normalizeMessageID(env.GetHeader("Message-ID")),
		Subject:         env.GetHeader("Subject"),
		References:      parseReferences(env.GetHeader("References")),
		Envelope:        &message.Envelope{},
	}
	if len(m.References) == 0 {
		m.References = parseReferences(env.GetHeader("In-Reply-To"))
	}
	p := &Parsed{Message: m}
	m.Timestamp, p.Undated = messageTime(env)

	rawHash := sha256.Sum256(raw)
	m.ID = m.HeaderMessageID
	if m.ID == "" {
		m.ID = hex.EncodeToString(rawHash[:])
	}
	m.ConversationID = threadKey(m, m.ID)
	m.BodyPart = bodyPart(env.Root)

	seen := make(map[string]bool)
	involve := func(cid string) {
		for _, have := range m.InvolvesContactIDs {
			if have == cid {
				return
			}
		}
		m.InvolvesContactIDs = append(m.InvolvesContactIDs, cid)
	}
	addrs := func(header string) (cids []string, ids []message.IdentityID) {
		list, err := env.AddressList(header)
		if err != nil {
			return nil, nil
		}
		for _, a := range list {
			addr := strings.ToLower(strings.TrimSpace(a.Address))
			if addr == "" {
				continue
			}
			cid := ContactID(addr)
			id := message.IdentityID{Type: IdentityType, Value: addr}
			if !seen[addr] {
				seen[addr] = true
				p.Contacts = append(p.Contacts, &message.ContactDoc{ID: cid, Name: a.Name})
				p.Identities = append(p.Identities, &message.IdentityDoc{ID: id, Name: a.Name, Contacts: []string{cid}})
			}
			involve(cid)
			cids = append(cids, cid)
			ids = append(ids, id)
		}
		return cids, ids
	}

	from, fromIDs := addrs("From")
	if len(from) > 0 {
		m.FromContactID = from[0]
		m.Envelope.From = fromIDs[0]
	}
	m.ToContactIDs, m.Envelope.To = addrs("To")
	m.CcContactIDs, m.Envelope.Cc = addrs("Cc")
	_, m.Envelope.Bcc = addrs("Bcc")
	return p, nil
}

// bodyPart copies the MIME tree of p.  Only text leaves keep their
// content.
func bodyPart(p *enmime.Part) *message.BodyPart {
	if p == nil {
		return nil
	}
	if p.FirstChild == nil {
		bp := &message.BodyPart{ContentType: p.ContentType}
		if p.ContentType == "" || strings.HasPrefix(strings.ToLower(p.ContentType), "text/") {
			if bp.ContentType == "" {
				bp.ContentType = "text/plain"
			}
			bp.Data = string(p.Content)
		}
		return bp
	}
	bp := &message.BodyPart{}
	for c := p.FirstChild; c != nil; c = c.NextSibling {
		bp.Parts = append(bp.Parts, bodyPart(c))
	}
	return bp
}

func normalizeMessageID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.Trim(id, "<>")
	return id
}

// parseReferences splits a References or In-Reply-To header into
// message ids.  Ids may be separated by white space or written back to
// back, as in "<a@x><b@x>".
func parseReferences(refs string) []string {
	var result []string
	for _, field := range strings.Fields(refs) {
		for _, ref := range strings.SplitAfter(field, ">") {
			if ref = normalizeMessageID(ref); ref != "" {
				result = append(result, ref)
			}
		}
	}
	return result
}

// dateFormats lists date layouts seen in mail that net/mail rejects.
var dateFormats = []string{
	"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",
	"2 Jan 2006 15:04:05 MST",
	time.RFC850,
	time.ANSIC,
	time.UnixDate,
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
}

// parseDate parses a header date, trying net/mail first and then the
// layouts in dateFormats.
func parseDate(s string) (time.Time, bool) {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return time.Time{}, false
	}
	base := s
	if i := strings.LastIndex(s, "("); i > 0 {
		base = strings.TrimSpace(s[:i])
	}
	for _, candidate := range []string{s, base} {
		if t, err := mail.ParseDate(candidate); err == nil {
			return t, true
		}
		for _, layout := range dateFormats {
			if t, err := time.Parse(layout, candidate); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// messageTime returns the Unix time of the Date header.  Without a
// usable one it falls back to the newest Received header, which ends
// in "; date".  undated reports that neither worked.
func messageTime(env *enmime.Envelope) (ts int64, undated bool) {
	if t, ok := parseDate(env.GetHeader("Date")); ok {
		return t.Unix(), false
	}
	for _, received := range env.GetHeaderValues("Received") {
		i := strings.LastIndex(received, ";")
		if i < 0 {
			continue
		}
		if t, ok := parseDate(received[i+1:]); ok {
			return t.Unix(), false
		}
	}
	return 0, true
}

// threadKey returns the conversation id of m: the root of its
// references, else its own id.
func threadKey(m *message.Message, fallback string) string {
	if len(m.References) > 0 {
		return m.References[0]
	}
	if m.HeaderMessageID != "" {
		return m.HeaderMessageID
	}
	return fallback
}
