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

// Package notmuch finds message files through the notmuch command.
package notmuch

import (
	"bytes"
	"context"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// DefaultBinary is the notmuch command looked up in $PATH.
const DefaultBinary = "notmuch"

type Service struct {
	binary string

	// Root of the notmuch database.  Equivalent to `notmuch config
	// get database.path`.
	path string
}

// New returns a service running binary, or DefaultBinary if binary is
// empty.
func New(ctx context.Context, binary string) (*Service, error) {
	if binary == "" {
		binary = DefaultBinary
	}
	s := &Service{binary: binary}
	out, err := s.run(ctx, "config", "get", "database.path")
	if err != nil {
		return nil, err
	}
	s.path = strings.TrimSpace(string(out))
	if s.path == "" {
		return nil, errors.New("notmuch has no database.path")
	}
	return s, nil
}

// Path returns the root of the notmuch database.
func (s *Service) Path() string {
	return s.path
}

func (s *Service) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, s.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s: %s", s.binary, strings.Join(args, " "),
			strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// Files returns the files of the messages matching query.  Relative
// names are taken to be below the database root.
func (s *Service) Files(ctx context.Context, query string) ([]string, error) {
	out, err := s.run(ctx, "search", "--output=files", "--format=text0", query)
	if err != nil {
		return nil, err
	}
	return splitFiles(s.path, out), nil
}

// splitFiles splits NUL separated file names.
func splitFiles(root string, out []byte) []string {
	var files []string
	for _, f := range bytes.Split(out, []byte{0}) {
		name := strings.TrimSpace(string(f))
		if name == "" {
			continue
		}
		if !filepath.IsAbs(name) {
			name = filepath.Join(root, name)
		}
		files = append(files, name)
	}
	return files
}
