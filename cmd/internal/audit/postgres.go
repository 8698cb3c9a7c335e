package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is the subset of *pgxpool.Pool the sink needs.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresSink appends events to <schema>.audit_log.
//
// The sink does not own the pool; the caller closes it.
type PostgresSink struct {
	db     Execer
	schema string
}

// PostgresOption configures PostgresSink.
type PostgresOption func(*PostgresSink) error

// WithSchema sets the schema holding audit_log (default "cowork").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresSink) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("audit: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("audit: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresSink constructs a sink over db.
func NewPostgresSink(db Execer, opts ...PostgresOption) (*PostgresSink, error) {
	s := &PostgresSink{db: db, schema: "cowork"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.db == nil {
		return nil, errors.New("audit: nil pool")
	}
	return s, nil
}

// Migrate creates the schema and table if missing.
func (s *PostgresSink) Migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %s;

CREATE TABLE IF NOT EXISTS %s (
  id             BIGSERIAL PRIMARY KEY,
  action         TEXT NOT NULL,
  created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
  conn_id        TEXT,
  role           TEXT,
  subject        TEXT,
  device_name    TEXT,
  device_id      TEXT,
  remote_addr    TEXT,
  user_agent     TEXT,
  auth_method    TEXT,
  credential_fp  TEXT,
  scopes         TEXT[] NOT NULL DEFAULT '{}',
  reason         TEXT,
  meta           JSONB
);

CREATE INDEX IF NOT EXISTS audit_log_conn_id_idx ON %s (conn_id);
`, pgx.Identifier{s.schema}.Sanitize(), s.table(), s.table())

	if _, err := s.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("audit: migrate: %w", err)
	}
	return nil
}

// Record inserts e.
func (s *PostgresSink) Record(ctx context.Context, e Event) error {
	action := strings.TrimSpace(e.Action)
	if action == "" {
		return errors.New("audit: empty action")
	}

	at := e.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	var meta *string
	if len(e.Meta) > 0 {
		if b, err := json.Marshal(e.Meta); err == nil {
			m := string(b)
			meta = &m
		}
	}

	scopes := e.Scopes
	if scopes == nil {
		scopes = []string{}
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO `+s.table()+` (
			action, created_at, conn_id, role, subject, device_name, device_id,
			remote_addr, user_agent, auth_method, credential_fp, scopes, reason, meta
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14::jsonb)
	`,
		action, at,
		trimOrNil(e.ConnID), trimOrNil(e.Role), trimOrNil(e.Subject),
		trimOrNil(e.DeviceName), trimOrNil(e.DeviceID),
		trimOrNil(e.RemoteAddress), trimOrNil(e.UserAgent),
		trimOrNil(e.AuthMethod), trimOrNil(e.CredentialFP),
		scopes, trimOrNil(e.Reason), meta,
	)
	if err != nil {
		return fmt.Errorf("audit: insert %s: %w", action, err)
	}
	return nil
}

func (s *PostgresSink) table() string {
	return pgIdent(s.schema, "audit_log")
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
