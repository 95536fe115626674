package notmuch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// fakeNotmuch writes a shell script standing in for notmuch.  It
// records its arguments in a file next to it.
func fakeNotmuch(t *testing.T, search string) (binary, argsFile string) {
	t.Helper()
	dir := t.TempDir()
	binary = filepath.Join(dir, "notmuch")
	argsFile = filepath.Join(dir, "args")
	script := `#!/bin/sh
echo "$@" >> ` + argsFile + `
case "$1" in
config) echo /var/mail/db ;;
search) printf '` + search + `' ;;
*) echo "unknown command $1" >&2; exit 2 ;;
esac
`
	if err := os.WriteFile(binary, []byte(script), 0o700); err != nil {
		t.Fatal(err)
	}
	return binary, argsFile
}

func TestFiles(t *testing.T) {
	binary, argsFile := fakeNotmuch(t, `/var/mail/db/cur/1\0cur/2\0`)
	ctx := context.Background()
	s, err := New(ctx, binary)
	if err != nil {
		t.Fatalf("New(%q) = %v", binary, err)
	}
	if got, want := s.Path(), "/var/mail/db"; got != want {
		t.Errorf("Path() = %q, want %q", got, want)
	}

	got, err := s.Files(ctx, "from:alice")
	if err != nil {
		t.Fatalf("Files() = %v", err)
	}
	want := []string{"/var/mail/db/cur/1", "/var/mail/db/cur/2"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Files() mismatch (-want +got):\n%s", diff)
	}

	args, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(args)), "\n")
	if len(lines) != 2 || lines[1] != "search --output=files --format=text0 from:alice" {
		t.Errorf("notmuch invoked with %q", lines)
	}
}

func TestNewFailure(t *testing.T) {
	_, err := New(context.Background(), filepath.Join(t.TempDir(), "absent"))
	if err == nil {
		t.Errorf("New(absent) succeeded, want error")
	}
}

func TestSplitFiles(t *testing.T) {
	cases := []struct {
		out  string
		want []string
	}{
		{"", nil},
		{"a\x00", []string{"/r/a"}},
		{"/abs\x00rel\x00\x00", []string{"/abs", "/r/rel"}},
	}
	for _, tc := range cases {
		got := splitFiles("/r", []byte(tc.out))
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("splitFiles(%q) mismatch (-want +got):\n%s", tc.out, diff)
		}
	}
}
