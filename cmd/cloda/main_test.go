package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matta/cloda/internal/persist"
)

const root = `From: Alice <alice@example.com>
To: Bob <bob@example.com>
Subject: lunch?
Date: Mon, 02 Jan 2006 15:04:05 -0000
Message-ID: <root@example.com>

Shall we?
`

const reply = `From: Bob <bob@example.com>
To: Alice <alice@example.com>
Cc: carol@example.com
Subject: Re: lunch?
Date: Mon, 02 Jan 2006 16:04:05 -0000
Message-ID: <reply@example.com>
References: <root@example.com>

Sure.
`

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	if err := execute(context.Background(), io.Discard); err != nil {
		t.Fatalf("cloda %s: %v", strings.Join(args, " "), err)
	}
	return out.String()
}

func TestCommands(t *testing.T) {
	home := t.TempDir()
	t.Setenv("CLODA_HOME", home)
	mail := filepath.Join(t.TempDir(), "cur")
	if err := os.MkdirAll(mail, 0o700); err != nil {
		t.Fatal(err)
	}
	for name, body := range map[string]string{"1": root, "2": reply} {
		if err := os.WriteFile(filepath.Join(mail, name), []byte(strings.ReplaceAll(body, "\n", "\r\n")), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	if got := run(t, "import", mail); !strings.Contains(got, "store holds 2 messages") {
		t.Errorf("import output = %q, want 2 stored messages", got)
	}

	got := run(t, "query", "email:alice@example.com", "email:carol@example.com")
	for _, want := range []string{"root@example.com", "[2/2]", "Re: lunch?", "2006-01-02 16:04"} {
		if !strings.Contains(got, want) {
			t.Errorf("query output = %q, want it to contain %q", got, want)
		}
	}

	got = run(t, "show", "root@example.com")
	if !strings.Contains(got, "  2006-01-02 15:04  Alice  Shall we?") || !strings.Contains(got, "    2006-01-02 16:04  Bob  Sure.") {
		t.Errorf("show output = %q, want the reply indented under the root", got)
	}

	run(t, "tag", "root@example.com", "reply@example.com", "seen")
	if got := run(t, "query", "email:carol@example.com"); !strings.Contains(got, "[1/2]") {
		t.Errorf("query after tag = %q, want one unread message", got)
	}

	got = run(t, "identity", "email:bob@example.com", "email:nobody@example.com")
	if !strings.Contains(got, "Bob") || !strings.Contains(got, "email,nobody@example.com\tunknown") {
		t.Errorf("identity output = %q", got)
	}
}

func TestFailedCommandStillShutsDown(t *testing.T) {
	t.Setenv("CLODA_HOME", t.TempDir())
	t.Cleanup(func() { dumpMetrics = false })

	var stderr bytes.Buffer
	rootCmd.SetOut(io.Discard)
	rootCmd.SetArgs([]string{"--metrics", "tag", "c1", "m1", "seen"})
	if err := execute(context.Background(), &stderr); err == nil {
		t.Fatalf("tag of a missing message succeeded, want error")
	}
	if !strings.Contains(stderr.String(), "cloda_queries_total") {
		t.Errorf("metrics output = %q, want query counters", stderr.String())
	}

	db, ok := a.store.(*persist.DB)
	if !ok {
		t.Fatalf("store is %T, want *persist.DB", a.store)
	}
	if _, err := db.Profile(context.Background()); err == nil {
		t.Errorf("Profile() on the store after shutdown succeeded, want closed database error")
	}
}
