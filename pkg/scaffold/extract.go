package scaffold

import (
	"regexp"
	"strings"
)

// HTMLDomain lets functions declare text/html as their return type, which
// the gateway then serves with that content type.
const HTMLDomain = `CREATE DOMAIN "text/html" AS TEXT;`

var sqlTagRe = regexp.MustCompile(`(?s)<sql>(.*?)</sql>`)

// ExtractSQL returns the body of the first <sql>...</sql> block verbatim.
// ok is false when the reply has no such block.
func ExtractSQL(reply string) (sql string, ok bool) {
	m := sqlTagRe.FindStringSubmatch(reply)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Render prefixes sql with the text/html domain and a blank line
func Render(sql string) string {
	var b strings.Builder
	b.WriteString(HTMLDomain)
	b.WriteString("\n\n")
	b.WriteString(sql)
	b.WriteString("\n")
	return b.String()
}
