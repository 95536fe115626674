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

// Package persist keeps documents and their view rows in SQLite.
package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/matta/cloda/internal/docstore"
	"github.com/matta/cloda/internal/message"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

var (
	createTableSql = []string{
		// The docs table holds every stored document as JSON.
		//
		// Field: db
		//
		//   The database the document belongs to: "messages",
		//   "contacts" or "identities".
		//
		// Field: id
		//
		//   The document id, unique within db.  Identities are
		//   stored under "identity:<type>,<value>".
		//
		// Field: body
		//
		//   The JSON encoded document, exactly as written.
		`
CREATE TABLE IF NOT EXISTS docs (
db TEXT NOT NULL,
id TEXT NOT NULL,
body TEXT NOT NULL,
PRIMARY KEY (db, id)
);`,
		// The view_rows table holds the materialized view rows of
		// every document.  Rows are recomputed whenever their
		// document is written.
		//
		// Field: view
		//
		//   The view name, for example "by_involves".
		//
		// Fields: k_text, k_time
		//
		//   The compound key.  Rows sort by k_text, then k_time.
		//
		// Field: value
		//
		//   The JSON encoded row value.
		//
		// Fields: db, doc_id
		//
		//   As in docs.db and docs.id for the emitting document.
		`
CREATE TABLE IF NOT EXISTS view_rows (
view TEXT NOT NULL,
k_text TEXT NOT NULL,
k_time INTEGER NOT NULL,
value TEXT NOT NULL,
db TEXT NOT NULL,
doc_id TEXT NOT NULL,
FOREIGN KEY (db, doc_id) REFERENCES docs (db, id)
);`,
		`
CREATE INDEX IF NOT EXISTS view_rows_key
ON view_rows (view, k_text, k_time);`,
		`
CREATE INDEX IF NOT EXISTS view_rows_doc
ON view_rows (db, doc_id);`,
	}
)

// DB is a SQLite backed document store.
type DB struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ docstore.Store = (*DB)(nil)

// Tx groups document writes.
type Tx struct {
	tx *sql.Tx
}

func dsnFromPath(path string, addValues url.Values) (string, error) {
	var u *url.URL
	if !strings.HasPrefix(path, "file:") {
		u = &url.URL{Scheme: "file", Path: path}
	} else {
		var err error
		u, err = url.Parse(path)
		if err != nil {
			return "", err
		}
	}
	values := u.Query()
	for k, v := range addValues {
		for _, item := range v {
			values.Add(k, item)
		}
	}
	u.RawQuery = values.Encode()
	return u.String(), nil
}

// Open opens or creates the database at path.  A nil logger means
// slog.Default().
func Open(ctx context.Context, path string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// The _busy_timeout is a SQLite extension that controls how
	// long SQLite will poll before giving up.  The default of 5
	// seconds is too short in practice, especially in slower
	// debug builds; go with 5 minutes.
	var busyTimeout = int(5*time.Minute) / int(time.Millisecond)

	dsn, err := dsnFromPath(path, url.Values{
		"_busy_timeout": {fmt.Sprintf("%d", busyTimeout)},
		"_foreign_keys": {"on"}})
	if err != nil {
		return nil, errors.Wrapf(err,
			"Open(%q) failed: could not form a DB DSN from "+
				"the given path",
			path)
	}
	logger.Debug("opening database", "dsn", dsn)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrapf(err,
			"Open(%q) failed: could not open database at %q",
			path, dsn)
	}

	if err = initSchema(ctx, db, logger); err != nil {
		db.Close()
		return nil, errors.Wrapf(err,
			"Open(%q) failed: could not initialize the "+
				"database schema", path)
	}

	return &DB{db: db, logger: logger}, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) Begin(ctx context.Context) (*Tx, error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin transaction failed")
	}
	return &Tx{tx}, nil
}

func (tx *Tx) Commit() error {
	return tx.tx.Commit()
}

func (tx *Tx) Rollback() error {
	return tx.tx.Rollback()
}

func initSchema(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	for _, sql := range createTableSql {
		logger.Debug("SQL Exec", "sql", sql)
		if _, err := db.ExecContext(ctx, sql); err != nil {
			return errors.Wrapf(err, "while executing %q", sql)
		}
	}

	return nil
}

// PutDoc stores doc and replaces its view rows.
func (tx *Tx) PutDoc(ctx context.Context, db, id string, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrapf(err, "encoding %s/%s", db, id)
	}
	emitted, err := docstore.Emit(db, body)
	if err != nil {
		return errors.Wrapf(err, "views of %s/%s", db, id)
	}

	sql := `DELETE FROM view_rows WHERE db = $1 AND doc_id = $2`
	if _, err = tx.tx.ExecContext(ctx, sql, db, id); err != nil {
		return errors.Wrap(err, "db delete failed for view rows")
	}

	sql = `INSERT INTO docs (db, id, body) values ($1, $2, $3)
		ON CONFLICT (db, id)
		DO UPDATE SET body = $3`
	if _, err = tx.tx.ExecContext(ctx, sql, db, id, string(body)); err != nil {
		return errors.Wrap(err, "db upsert failed for docs")
	}

	sql = `INSERT INTO view_rows (view, k_text, k_time, value, db, doc_id)
		values ($1, $2, $3, $4, $5, $6)`
	insert, err := tx.tx.PrepareContext(ctx, sql)
	if err != nil {
		return errors.Wrap(err, "db prepare statement failed for view rows")
	}
	defer insert.Close()

	for _, e := range emitted {
		if _, err = insert.ExecContext(ctx, e.View, e.Key.Text, e.Key.Time, string(e.Value), db, id); err != nil {
			return errors.Wrap(err, "db insert failed for view rows")
		}
	}
	return nil
}

// PutDoc implements docstore.DocPutter with a transaction of its own.
func (db *DB) PutDoc(ctx context.Context, dbName, id string, doc any) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	if err := tx.PutDoc(ctx, dbName, id, doc); err != nil {
		tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "commit failed")
}

// FetchByKeys implements docstore.KeyFetcher.  Keys match on their
// text component.
func (db *DB) FetchByKeys(ctx context.Context, view string, keys []docstore.Key) ([]docstore.Row, error) {
	if _, ok := docstore.ViewDatabase(view); !ok {
		return nil, errors.Wrapf(docstore.ErrUnknownView, "%q", view)
	}
	const q = `
SELECT v.k_text, v.k_time, v.value, v.doc_id, d.body
FROM view_rows v JOIN docs d ON d.db = v.db AND d.id = v.doc_id
WHERE v.view = $1 AND v.k_text = $2
ORDER BY v.k_time, v.doc_id
`
	stmt, err := db.db.PrepareContext(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "db prepare statement failed in FetchByKeys")
	}
	defer stmt.Close()

	var out []docstore.Row
	for _, k := range keys {
		rows, err := stmt.QueryContext(ctx, view, k.Text)
		if err != nil {
			return nil, errors.Wrapf(err, "db query failed in FetchByKeys for %q", k.Text)
		}
		out, err = scanRows(rows, out, true)
		if err != nil {
			return nil, errors.Wrap(err, "FetchByKeys")
		}
	}
	return out, nil
}

// QueryView implements docstore.ViewQuerier.
func (db *DB) QueryView(ctx context.Context, view string, r docstore.Range) ([]docstore.Row, error) {
	if _, ok := docstore.ViewDatabase(view); !ok {
		return nil, errors.Wrapf(docstore.ErrUnknownView, "%q", view)
	}
	const q = `
SELECT k_text, k_time, value, doc_id, NULL
FROM view_rows
WHERE view = $1
AND (k_text, k_time) >= ($2, $3)
AND (k_text, k_time) <= ($4, $5)
ORDER BY k_text, k_time, doc_id
`
	rows, err := db.db.QueryContext(ctx, q, view, r.Start.Text, r.Start.Time, r.End.Text, r.End.Time)
	if err != nil {
		return nil, errors.Wrap(err, "db query failed in QueryView")
	}
	out, err := scanRows(rows, nil, false)
	if err != nil {
		return nil, errors.Wrap(err, "QueryView")
	}
	return out, nil
}

func scanRows(rows *sql.Rows, out []docstore.Row, withDoc bool) ([]docstore.Row, error) {
	defer rows.Close()
	for rows.Next() {
		var row docstore.Row
		var value string
		var body sql.NullString
		if err := rows.Scan(&row.Key.Text, &row.Key.Time, &value, &row.ID, &body); err != nil {
			return nil, errors.Wrap(err, "db scan failed")
		}
		row.Value = json.RawMessage(value)
		if withDoc && body.Valid {
			row.Doc = json.RawMessage(body.String)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// FetchDocs implements docstore.DocFetcher.  Missing documents are
// left out.
func (db *DB) FetchDocs(ctx context.Context, dbName string, ids []string) ([]docstore.Row, error) {
	const q = `SELECT body FROM docs WHERE db = $1 AND id = $2`
	stmt, err := db.db.PrepareContext(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "db prepare statement failed in FetchDocs")
	}
	defer stmt.Close()

	var out []docstore.Row
	for _, id := range ids {
		var body string
		err := stmt.QueryRowContext(ctx, dbName, id).Scan(&body)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "db scan failed in FetchDocs for %s/%s", dbName, id)
		}
		out = append(out, docstore.Row{ID: id, Key: docstore.Key{Text: id}, Doc: json.RawMessage(body)})
	}
	return out, nil
}

// Profile counts the stored documents.
func (db *DB) Profile(ctx context.Context) (*message.Profile, error) {
	const q = `SELECT db, COUNT(*) FROM docs GROUP BY db`
	rows, err := db.db.QueryContext(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "db query failed in Profile")
	}
	defer rows.Close()

	p := &message.Profile{}
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, errors.Wrap(err, "db scan failed in Profile")
		}
		switch name {
		case docstore.Messages:
			p.Messages = n
		case docstore.Contacts:
			p.Contacts = n
		case docstore.Identities:
			p.Identities = n
		}
	}
	return p, rows.Err()
}
