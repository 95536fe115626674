// Package homedir locates the user's home directory.
package homedir

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Get returns $HOME, falling back to the home directory of the current
// user.
func Get() (string, error) {
	h := os.Getenv("HOME")
	if h != "" {
		return h, nil
	}

	usr, err := user.Current()
	if err != nil {
		return "", errors.Wrap(err, "no home directory")
	}
	return usr.HomeDir, nil
}

// Expand replaces a leading "~" or "~/" in path with the home
// directory.  Other paths are returned unchanged.
func Expand(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := Get()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, path[1:]), nil
}
