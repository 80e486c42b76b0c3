package fakert

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/patina/pgworkspace/pkg/runtime"
)

// Database is the catalog behind a fake postgres service. It tracks
// tables, schemas and roles and nothing else.
type Database struct {
	mu      sync.Mutex
	tables  map[string]int
	schemas map[string]bool
	roles   map[string]bool
}

func newDatabase() *Database {
	return &Database{
		tables:  make(map[string]int),
		schemas: map[string]bool{"public": true},
		roles:   map[string]bool{"postgres": true},
	}
}

// HasTable reports whether name exists
func (d *Database) HasTable(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.tables[name]
	return ok
}

// Rows returns the number of rows inserted into name
func (d *Database) Rows(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tables[name]
}

// HasSchema reports whether name exists
func (d *Database) HasSchema(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.schemas[name]
}

// HasRole reports whether name exists
func (d *Database) HasRole(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.roles[name]
}

// Tables returns the table names, sorted
func (d *Database) Tables() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.tables))
	for t := range d.tables {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

var (
	createTableRe  = regexp.MustCompile(`(?is)^CREATE\s+TABLE\s+(IF\s+NOT\s+EXISTS\s+)?([\w."]+)`)
	dropTableRe    = regexp.MustCompile(`(?is)^DROP\s+TABLE\s+(IF\s+EXISTS\s+)?([\w."]+)`)
	insertRe       = regexp.MustCompile(`(?is)^INSERT\s+INTO\s+([\w."]+)`)
	selectFromRe   = regexp.MustCompile(`(?is)^SELECT\s+.*?\s+FROM\s+([\w."]+)`)
	createSchemaRe = regexp.MustCompile(`(?is)^CREATE\s+SCHEMA\s+(IF\s+NOT\s+EXISTS\s+)?([\w"]+)`)
	createRoleRe   = regexp.MustCompile(`(?is)CREATE\s+ROLE\s+([\w"]+)`)
	dollarTagRe    = regexp.MustCompile(`^\$[A-Za-z_]*\$`)
)

// exec runs a script the way psql -f does: statement by statement, printing
// command tags to stdout and errors to stderr.
func (d *Database) exec(file, script string, onErrorStop bool) *runtime.ExecOutput {
	d.mu.Lock()
	defer d.mu.Unlock()

	var stdout, stderr strings.Builder
	for _, stmt := range splitStatements(script) {
		tag, err := d.apply(stmt.text)
		if err != nil {
			fmt.Fprintf(&stderr, "psql:%s:%d: ERROR:  %s\n", file, stmt.line, err)
			if onErrorStop {
				return &runtime.ExecOutput{ExitCode: 3, Stdout: stdout.String(), Stderr: stderr.String()}
			}
			continue
		}
		stdout.WriteString(tag)
		stdout.WriteString("\n")
	}
	return &runtime.ExecOutput{Stdout: stdout.String(), Stderr: stderr.String()}
}

func (d *Database) apply(stmt string) (string, error) {
	if m := createTableRe.FindStringSubmatch(stmt); m != nil {
		name := relName(m[2])
		if _, ok := d.tables[name]; ok {
			if m[1] != "" {
				return "CREATE TABLE", nil
			}
			return "", fmt.Errorf("relation %q already exists", name)
		}
		d.tables[name] = 0
		return "CREATE TABLE", nil
	}

	if m := dropTableRe.FindStringSubmatch(stmt); m != nil {
		name := relName(m[2])
		if _, ok := d.tables[name]; !ok {
			if m[1] != "" {
				return "DROP TABLE", nil
			}
			return "", fmt.Errorf("table %q does not exist", name)
		}
		delete(d.tables, name)
		return "DROP TABLE", nil
	}

	if m := insertRe.FindStringSubmatch(stmt); m != nil {
		name := relName(m[1])
		if _, ok := d.tables[name]; !ok {
			return "", fmt.Errorf("relation %q does not exist", name)
		}
		d.tables[name]++
		return "INSERT 0 1", nil
	}

	if m := selectFromRe.FindStringSubmatch(stmt); m != nil {
		name := relName(m[1])
		if isCatalog(name) {
			return "(0 rows)", nil
		}
		rows, ok := d.tables[name]
		if !ok {
			return "", fmt.Errorf("relation %q does not exist", name)
		}
		return fmt.Sprintf("(%d rows)", rows), nil
	}

	if m := createSchemaRe.FindStringSubmatch(stmt); m != nil {
		d.schemas[strings.Trim(m[2], `"`)] = true
		return "CREATE SCHEMA", nil
	}

	// DO blocks and bare CREATE ROLE both register the role
	if m := createRoleRe.FindStringSubmatch(stmt); m != nil {
		d.roles[strings.Trim(m[1], `"`)] = true
	}

	upper := strings.ToUpper(stmt)
	switch {
	case strings.HasPrefix(upper, "SELECT"):
		return " ?column? \n----------\n        1\n(1 row)", nil
	case strings.HasPrefix(upper, "CREATE ROLE"):
		return "CREATE ROLE", nil
	case strings.HasPrefix(upper, "DO"):
		return "DO", nil
	case strings.HasPrefix(upper, "GRANT"):
		return "GRANT", nil
	}
	return strings.Fields(upper)[0], nil
}

// relName drops quoting and a public. prefix
func relName(raw string) string {
	name := strings.ReplaceAll(raw, `"`, "")
	return strings.TrimPrefix(name, "public.")
}

func isCatalog(name string) bool {
	return strings.HasPrefix(name, "pg_") || strings.HasPrefix(name, "information_schema.")
}

type statement struct {
	text string
	line int
}

// splitStatements splits on semicolons outside quotes and dollar-quoted
// bodies
func splitStatements(script string) []statement {
	var (
		out       []statement
		cur       strings.Builder
		line      = 1
		startLine = 1
		inQuote   bool
		dollarTag string
	)

	flush := func() {
		text := strings.TrimSpace(cur.String())
		if text != "" && !isComment(text) {
			out = append(out, statement{text: text, line: startLine})
		}
		cur.Reset()
		startLine = line
	}

	for i := 0; i < len(script); i++ {
		ch := script[i]
		switch {
		case dollarTag != "":
			if strings.HasPrefix(script[i:], dollarTag) {
				cur.WriteString(dollarTag)
				i += len(dollarTag) - 1
				dollarTag = ""
				continue
			}
		case inQuote:
			if ch == '\'' {
				inQuote = false
			}
		case ch == '\'':
			inQuote = true
		case ch == '$':
			if tag := dollarTagRe.FindString(script[i:]); tag != "" {
				dollarTag = tag
				cur.WriteString(tag)
				i += len(tag) - 1
				continue
			}
		case ch == ';':
			flush()
			continue
		}
		if ch == '\n' {
			line++
			if strings.TrimSpace(cur.String()) == "" {
				startLine = line
			}
		}
		cur.WriteByte(ch)
	}
	flush()
	return out
}

func isComment(text string) bool {
	for _, l := range strings.Split(text, "\n") {
		l = strings.TrimSpace(l)
		if l != "" && !strings.HasPrefix(l, "--") {
			return false
		}
	}
	return true
}
