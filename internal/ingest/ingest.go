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

// Package ingest imports RFC 822 message files into the document
// store.
package ingest

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/matta/cloda/internal/docstore"
	"github.com/matta/cloda/internal/message"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Importer writes parsed messages and their contacts and identities
// to a store.
type Importer struct {
	store docstore.DocPutter

	Logger *slog.Logger

	// Number of files parsed concurrently.
	Workers int

	// Contacts and identities already written, by document id, with
	// the name they were written with.
	written map[string]string
}

// NewImporter returns an importer writing to store.
func NewImporter(store docstore.DocPutter) *Importer {
	return &Importer{
		store:   store,
		Logger:  slog.Default(),
		Workers: 4,
		written: make(map[string]string),
	}
}

// listFiles sends every regular file below the given paths.  Hidden
// files and directories are skipped.
func listFiles(ctx context.Context, paths []string, files chan<- string) error {
	defer close(files)

	for _, root := range paths {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if path != root && strings.HasPrefix(d.Name(), ".") {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case files <- path:
				return nil
			}
		})
		if err != nil {
			return errors.Wrapf(err, "listing %s", root)
		}
	}
	return nil
}

func (im *Importer) parseFiles(ctx context.Context, files <-chan string, parsed chan<- *Parsed) error {
	for path := range files {
		raw, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrapf(err, "reading %s", path)
		}
		p, err := Parse(raw)
		if err != nil {
			// A malformed file does not stop the import.
			im.Logger.Warn("skipping unparseable message", "path", path, "err", err)
			continue
		}
		if p.Undated {
			im.Logger.Warn("message has no usable date", "path", path, "id", p.Message.ID)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case parsed <- p:
		}
	}
	return nil
}

// Import reads every file below paths and stores what it finds.  It
// returns the number of documents written per database.
func (im *Importer) Import(ctx context.Context, paths []string) (*message.Profile, error) {
	workers := im.Workers
	if workers < 1 {
		workers = 1
	}

	grp, ctx := errgroup.WithContext(ctx)
	files := make(chan string, 100)
	parsed := make(chan *Parsed, 100)
	grp.Go(func() error {
		return listFiles(ctx, paths, files)
	})

	var parsers errgroup.Group
	for i := 0; i < workers; i++ {
		parsers.Go(func() error {
			return im.parseFiles(ctx, files, parsed)
		})
	}
	grp.Go(func() error {
		defer close(parsed)
		return parsers.Wait()
	})

	profile := &message.Profile{}
	grp.Go(func() error {
		for p := range parsed {
			if err := im.write(ctx, p, profile); err != nil {
				return err
			}
		}
		return nil
	})

	if err := grp.Wait(); err != nil {
		return nil, errors.Wrap(err, "import failed")
	}
	im.Logger.Info("import complete", "messages", profile.Messages, "contacts", profile.Contacts, "identities", profile.Identities)
	return profile, nil
}

// write stores p.  A contact or identity is written again only when it
// gains a name it lacked.
func (im *Importer) write(ctx context.Context, p *Parsed, profile *message.Profile) error {
	for _, c := range p.Contacts {
		if im.fresh(docstore.Contacts+"/"+c.ID, c.Name) {
			if err := im.store.PutDoc(ctx, docstore.Contacts, c.ID, c); err != nil {
				return errors.Wrapf(err, "storing contact %s", c.ID)
			}
			profile.Contacts++
		}
	}
	for _, idty := range p.Identities {
		id := docstore.IdentityDocID(idty.ID)
		if im.fresh(docstore.Identities+"/"+id, idty.Name) {
			if err := im.store.PutDoc(ctx, docstore.Identities, id, idty); err != nil {
				return errors.Wrapf(err, "storing identity %s", idty.ID)
			}
			profile.Identities++
		}
	}
	if err := im.store.PutDoc(ctx, docstore.Messages, p.Message.ID, p.Message); err != nil {
		return errors.Wrapf(err, "storing message %s", p.Message.ID)
	}
	im.Logger.Debug("stored message", "id", p.Message.ID, "conversation", p.Message.ConversationID)
	profile.Messages++
	return nil
}

// fresh reports whether the document key must be written, and records
// it as written.
func (im *Importer) fresh(key, name string) bool {
	have, ok := im.written[key]
	if ok && (have != "" || name == "") {
		return false
	}
	im.written[key] = name
	return true
}
