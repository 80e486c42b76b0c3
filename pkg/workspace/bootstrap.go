package workspace

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// bootstrapInitPath is picked up by the postgres image entrypoint on first start
const bootstrapInitPath = "/docker-entrypoint-initdb.d/00-pgworkspace-bootstrap.sql"

// BootstrapSQL returns an idempotent script that creates the anonymous
// role and the exposed schema and lets the role use it. Run it before any
// application script so the gateway has something to expose.
func BootstrapSQL(anonRole, schema string) string {
	role := pgx.Identifier{anonRole}.Sanitize()
	sch := pgx.Identifier{schema}.Sanitize()

	var b strings.Builder
	b.WriteString("DO $pgws$\nBEGIN\n")
	fmt.Fprintf(&b, "  IF NOT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = %s) THEN\n", quoteLiteral(anonRole))
	fmt.Fprintf(&b, "    CREATE ROLE %s NOLOGIN;\n", role)
	b.WriteString("  END IF;\nEND\n$pgws$;\n")
	fmt.Fprintf(&b, "CREATE SCHEMA IF NOT EXISTS %s;\n", sch)
	fmt.Fprintf(&b, "GRANT USAGE ON SCHEMA %s TO %s;\n", sch, role)
	return b.String()
}

// BootstrapSQL returns the bootstrap script for this workspace's role and schema
func (w *Workspace) BootstrapSQL() string {
	return BootstrapSQL(w.AnonRole, w.Schema)
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func validateIdentifier(kind, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: %s must not be empty", ErrInvalidConfig, kind)
	}
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %s contains a NUL byte", ErrInvalidConfig, kind)
	}
	if len(name) > 63 {
		return fmt.Errorf("%w: %s %q exceeds 63 bytes", ErrInvalidConfig, kind, name)
	}
	return nil
}
