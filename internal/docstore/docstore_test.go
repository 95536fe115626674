package docstore

import (
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
)

func TestRangeContains(t *testing.T) {
	r := Range{Start: Key{"alice", 0}, End: Key{"alice", 4000000000}}
	cases := []struct {
		k    Key
		want bool
	}{
		{Key{"alice", 0}, true},
		{Key{"alice", 1234}, true},
		{Key{"alice", 4000000000}, true},
		{Key{"alice", 4000000001}, false},
		{Key{"alicf", 0}, false},
		{Key{"alic", 99}, false},
		{Key{"bob", 5}, false},
	}
	for _, tc := range cases {
		if got := r.Contains(tc.k); got != tc.want {
			t.Errorf("%v.Contains(%v) = %v, want %v", r, tc.k, got, tc.want)
		}
	}
}

func TestViewDatabase(t *testing.T) {
	cases := []struct {
		view string
		db   string
		ok   bool
	}{
		{ByInvolves, Messages, true},
		{ByConversation, Messages, true},
		{Megaview, Identities, true},
		{ByContact, Identities, true},
		{"nope", "", false},
	}
	for _, tc := range cases {
		db, ok := ViewDatabase(tc.view)
		if db != tc.db || ok != tc.ok {
			t.Errorf("ViewDatabase(%q) = %q, %v, want %q, %v", tc.view, db, ok, tc.db, tc.ok)
		}
	}
}

func TestRowDecodeMissingDoc(t *testing.T) {
	var v map[string]any
	err := Row{ID: "x"}.DecodeDoc(&v)
	if errors.Cause(err) != ErrNotFound {
		t.Errorf("DecodeDoc on missing doc = %v, want cause %v", err, ErrNotFound)
	}
}

func TestRowText(t *testing.T) {
	r := Row{ID: "m1", Value: json.RawMessage(`"c1"`)}
	got, err := r.Text()
	if err != nil || got != "c1" {
		t.Errorf("Text() = %q, %v, want %q, nil", got, err, "c1")
	}
	if _, err := (Row{ID: "m1", Value: json.RawMessage(`7`)}).Text(); err == nil {
		t.Errorf("Text() on a number succeeded, want error")
	}
}
