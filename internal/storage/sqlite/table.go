package sqlite

import (
	"fmt"
	"strings"

	"github.com/roach88/docstore/internal/querysql"
	"github.com/roach88/docstore/internal/schema"
)

func newCompiler(table, primaryPath string) *querysql.SQLCompiler {
	return querysql.NewSQLCompiler(table, primaryPath)
}

// createTableStatements returns the DDL of a collection's document table.
func createTableStatements(table string, sch *schema.Schema) ([]string, error) {
	t := querysql.QuoteIdent(table)
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id      TEXT PRIMARY KEY,
			rev     TEXT NOT NULL,
			deleted INTEGER NOT NULL,
			lwt     REAL NOT NULL,
			data    TEXT NOT NULL
		)`, t),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (lwt, id)", querysql.QuoteIdent(table+"__changes"), t),
	}

	compiler := newCompiler(table, sch.PrimaryPath())
	for i, index := range sch.Indexes {
		exprs, err := compiler.IndexExprs(index)
		if err != nil {
			return nil, fmt.Errorf("index %v: %w", []string(index), err)
		}
		name := querysql.QuoteIdent(fmt.Sprintf("%s__idx%d", table, i))
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", name, t, strings.Join(exprs, ", ")))
	}
	return stmts, nil
}
