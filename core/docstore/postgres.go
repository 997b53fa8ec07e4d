package docstore

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/google/uuid"

	"github.com/caredose/caredose/core/csql"
)

// Postgres is the document store on a schema-scoped postgres database.
// One row per written node, subtrees are assembled on read.
type Postgres struct {
	db *csql.DB
}

// NewPostgres creates the document store on the given database. The backing
// table gets created if it does not exist yet.
func NewPostgres(db *csql.DB) *Postgres {
	_, err := db.Exec(`CREATE table IF NOT EXISTS ` + db.Schema + `."_document_"
(path varchar NOT NULL,
value json NOT NULL,
timestamp timestamp NOT NULL,
PRIMARY KEY(path)
);`)
	if err != nil {
		panic(err)
	}
	return &Postgres{db: db}
}

// Get returns the assembled document at path, or nil if there is no document
// at or below path.
func (p *Postgres) Get(ctx context.Context, path string) (json.RawMessage, error) {
	path, err := NormalizePath(path)
	if err != nil {
		return nil, err
	}

	rows, err := p.db.QueryContext(ctx,
		`SELECT path, value FROM `+p.db.Schema+`."_document_"
WHERE path = $1 OR left(path, char_length($2)) = $2;`,
		path, path+"/")
	if err != nil {
		return nil, fmt.Errorf("cannot read document '%s': %w", path, err)
	}
	defer rows.Close()

	var nodes []node
	for rows.Next() {
		var rowPath string
		var raw json.RawMessage
		if err := rows.Scan(&rowPath, &raw); err != nil {
			return nil, fmt.Errorf("cannot read document '%s': %w", path, err)
		}
		relative := ""
		if len(rowPath) > len(path) {
			relative = rowPath[len(path)+1:]
		}
		nodes = append(nodes, node{path: relative, raw: raw})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cannot read document '%s': %w", path, err)
	}
	return assemble(nodes)
}

// Set replaces the entire subtree at path with the given document.
func (p *Postgres) Set(ctx context.Context, path string, doc interface{}) error {
	path, err := NormalizePath(path)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cannot write document '%s': %w", path, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM `+p.db.Schema+`."_document_"
WHERE path = $1 OR left(path, char_length($2)) = $2;`,
		path, path+"/")
	if err != nil {
		return fmt.Errorf("cannot write document '%s': %w", path, err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO `+p.db.Schema+`."_document_"(path,value,timestamp)
VALUES($1,$2,now());`,
		path, string(raw))
	if err != nil {
		return fmt.Errorf("cannot write document '%s': %w", path, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cannot write document '%s': %w", path, err)
	}
	return nil
}

// Update merges the given keys into the document at path, creating the
// document if necessary. Child nodes below path are not touched.
func (p *Postgres) Update(ctx context.Context, path string, partial map[string]json.RawMessage) error {
	path, err := NormalizePath(path)
	if err != nil {
		return err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cannot update document '%s': %w", path, err)
	}
	defer tx.Rollback()

	var raw json.RawMessage
	err = tx.QueryRowContext(ctx,
		`SELECT value FROM `+p.db.Schema+`."_document_" WHERE path = $1 FOR UPDATE;`,
		path).Scan(&raw)
	if err != nil && err != csql.ErrNoRows {
		return fmt.Errorf("cannot update document '%s': %w", path, err)
	}

	merged, err := mergePartial(raw, partial)
	if err != nil {
		return fmt.Errorf("cannot update document '%s': %s", path, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO `+p.db.Schema+`."_document_"(path,value,timestamp)
VALUES($1,$2,now())
ON CONFLICT (path) DO UPDATE SET value=$2,timestamp=now();`,
		path, string(merged))
	if err != nil {
		return fmt.Errorf("cannot update document '%s': %w", path, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cannot update document '%s': %w", path, err)
	}
	return nil
}

// Delete removes the document at path and everything below it.
func (p *Postgres) Delete(ctx context.Context, path string) error {
	path, err := NormalizePath(path)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`DELETE FROM `+p.db.Schema+`."_document_"
WHERE path = $1 OR left(path, char_length($2)) = $2;`,
		path, path+"/")
	if err != nil {
		return fmt.Errorf("cannot delete document '%s': %w", path, err)
	}
	return nil
}

// Push generates a new child key for path. The key is not written; it only
// gets persisted with the subsequent Set.
func (p *Postgres) Push(ctx context.Context, path string) (string, error) {
	if _, err := NormalizePath(path); err != nil {
		return "", err
	}
	return uuid.New().String(), nil
}
