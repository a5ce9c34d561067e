package store

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

const maxStatementLine = 16 << 20

// EachStatement streams r and calls fn once per SQL statement. A statement
// ends at a line whose trailing ';' lies outside any quoted literal.
func EachStatement(r io.Reader, fn func(stmt string) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxStatementLine)

	var b strings.Builder
	quotes := 0
	for sc.Scan() {
		line := sc.Text()
		if b.Len() == 0 && strings.TrimSpace(line) == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
		quotes += strings.Count(line, "'")

		if quotes%2 == 0 && strings.HasSuffix(strings.TrimSpace(line), ";") {
			if err := fn(b.String()); err != nil {
				return err
			}
			b.Reset()
			quotes = 0
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read statements: %w", err)
	}
	if rest := strings.TrimSpace(b.String()); rest != "" {
		return fn(rest)
	}
	return nil
}

// isSessionControl reports BEGIN/COMMIT and PRAGMA lines an artifact may
// carry, which cannot run inside the import transaction.
func isSessionControl(stmt string) bool {
	s := strings.ToUpper(strings.TrimSuffix(strings.TrimSpace(stmt), ";"))
	if strings.HasPrefix(s, "PRAGMA ") {
		return true
	}
	switch s {
	case "BEGIN", "BEGIN TRANSACTION", "COMMIT", "END", "END TRANSACTION":
		return true
	}
	return false
}
