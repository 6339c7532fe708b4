package storage

import (
	"fmt"
	"strings"
	"time"
)

// FormatSQLForLog inlines positional ? parameters into query. The result is
// for log lines only and must never be executed.
func FormatSQLForLog(query string, args ...any) string {
	query = strings.Join(strings.Fields(query), " ")
	if query == "" || len(args) == 0 {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + len(args)*8)
	next := 0
	for _, ch := range query {
		if ch == '?' && next < len(args) {
			b.WriteString(FormatSQLArg(args[next]))
			next++
			continue
		}
		b.WriteRune(ch)
	}
	if next < len(args) {
		extra := make([]string, 0, len(args)-next)
		for _, arg := range args[next:] {
			extra = append(extra, FormatSQLArg(arg))
		}
		b.WriteString(" /* extra args: " + strings.Join(extra, ", ") + " */")
	}
	return b.String()
}

// FormatSQLArg renders a single bound value the way SQLite would print it.
func FormatSQLArg(arg any) string {
	switch v := arg.(type) {
	case nil:
		return "NULL"
	case *int:
		if v == nil {
			return "NULL"
		}
		return fmt.Sprintf("%d", *v)
	case string:
		return quoteSQL(v)
	case []byte:
		return quoteSQL(string(v))
	case time.Time:
		return quoteSQL(v.Format(time.RFC3339))
	case bool:
		if v {
			return "1"
		}
		return "0"
	case fmt.Stringer:
		return quoteSQL(v.String())
	default:
		return fmt.Sprintf("%v", arg)
	}
}

func quoteSQL(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
