// Package querysql compiles prepared document queries to parameterized
// SQLite statements over a document table.
//
// The document table keeps the columns every query needs natively (id, rev,
// deleted, lwt) and the full document as JSON in data. Any other field is
// read with json_extract.
package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/docstore/internal/document"
	"github.com/roach88/docstore/internal/query"
)

// SQLCompiler compiles prepared queries for one document table.
//
// All queries exclude tombstones and end their ORDER BY with
// "id COLLATE BINARY" so results are deterministic. Values are always bound
// as parameters, never interpolated.
type SQLCompiler struct {
	table       string
	primaryPath string
}

// NewSQLCompiler creates a compiler for table, whose id column stores
// primaryPath.
func NewSQLCompiler(table, primaryPath string) *SQLCompiler {
	return &SQLCompiler{table: table, primaryPath: primaryPath}
}

// CompileQuery returns the statement selecting the data column of every
// document matching q, in order, with skip and limit applied.
func (c *SQLCompiler) CompileQuery(q query.Prepared) (string, []any, error) {
	where, params, err := c.compileWhere(q.Selector)
	if err != nil {
		return "", nil, err
	}
	orderBy, err := c.compileOrderBy(q.Sort)
	if err != nil {
		return "", nil, err
	}

	limit := q.Limit
	if limit == 0 {
		limit = -1
	}
	params = append(params, limit, q.Skip)

	sql := fmt.Sprintf("SELECT data FROM %s WHERE %s ORDER BY %s LIMIT ? OFFSET ?",
		QuoteIdent(c.table), where, orderBy)
	return sql, params, nil
}

// CompileCount returns the statement counting every document matching the
// selector of q. Sort, skip and limit are ignored.
func (c *SQLCompiler) CompileCount(q query.Prepared) (string, []any, error) {
	where, params, err := c.compileWhere(q.Selector)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", QuoteIdent(c.table), where), params, nil
}

// Expr returns the SQL expression reading field.
func (c *SQLCompiler) Expr(field string) (string, error) {
	switch field {
	case c.primaryPath:
		return "id", nil
	case document.FieldDeleted:
		return "deleted", nil
	case document.FieldRev:
		return "rev", nil
	case document.PathLWT:
		return "lwt", nil
	}
	return jsonExtract(field)
}

// IndexExprs returns the expressions of a CREATE INDEX over index.
func (c *SQLCompiler) IndexExprs(index []string) ([]string, error) {
	out := make([]string, len(index))
	for i, field := range index {
		expr, err := c.Expr(field)
		if err != nil {
			return nil, err
		}
		out[i] = expr
	}
	return out, nil
}

func (c *SQLCompiler) compileWhere(selector query.Predicate) (string, []any, error) {
	if selector == nil {
		return "deleted = 0", nil, nil
	}
	sql, params, err := c.compilePredicate(selector)
	if err != nil {
		return "", nil, fmt.Errorf("compile selector: %w", err)
	}
	return "deleted = 0 AND " + sql, params, nil
}

func (c *SQLCompiler) compileOrderBy(sort []query.SortField) (string, error) {
	parts := make([]string, 0, len(sort)+1)
	for _, s := range sort {
		expr, err := c.Expr(s.Field)
		if err != nil {
			return "", err
		}
		dir := "ASC"
		if s.Desc {
			dir = "DESC"
		}
		parts = append(parts, expr+" "+dir)
	}
	parts = append(parts, "id COLLATE BINARY ASC")
	return strings.Join(parts, ", "), nil
}

func (c *SQLCompiler) compilePredicate(p query.Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case query.Equals:
		return c.compileEquals(pred)
	case *query.Equals:
		return c.compileEquals(*pred)
	case query.Compare:
		return c.compileCompare(pred)
	case *query.Compare:
		return c.compileCompare(*pred)
	case query.In:
		return c.compileIn(pred)
	case *query.In:
		return c.compileIn(*pred)
	case query.And:
		return c.compileAnd(pred)
	case *query.And:
		return c.compileAnd(*pred)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func (c *SQLCompiler) compileEquals(eq query.Equals) (string, []any, error) {
	expr, err := c.Expr(eq.Field)
	if err != nil {
		return "", nil, err
	}
	if eq.Value == nil {
		return expr + " IS NULL", nil, nil
	}
	param, err := toParam(eq.Value)
	if err != nil {
		return "", nil, fmt.Errorf("field %q: %w", eq.Field, err)
	}
	return expr + " = ?", []any{param}, nil
}

var sqlOps = map[query.Op]string{
	query.OpGt:  ">",
	query.OpGte: ">=",
	query.OpLt:  "<",
	query.OpLte: "<=",
	query.OpNe:  "!=",
}

func (c *SQLCompiler) compileCompare(cmp query.Compare) (string, []any, error) {
	op, ok := sqlOps[cmp.Op]
	if !ok {
		return "", nil, fmt.Errorf("unsupported operator %q", cmp.Op)
	}
	expr, err := c.Expr(cmp.Field)
	if err != nil {
		return "", nil, err
	}
	param, err := toParam(cmp.Value)
	if err != nil {
		return "", nil, fmt.Errorf("field %q: %w", cmp.Field, err)
	}
	return fmt.Sprintf("%s %s ?", expr, op), []any{param}, nil
}

func (c *SQLCompiler) compileIn(in query.In) (string, []any, error) {
	if len(in.Values) == 0 {
		return "0 = 1", nil, nil
	}
	expr, err := c.Expr(in.Field)
	if err != nil {
		return "", nil, err
	}
	params := make([]any, len(in.Values))
	for i, v := range in.Values {
		if params[i], err = toParam(v); err != nil {
			return "", nil, fmt.Errorf("field %q: %w", in.Field, err)
		}
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(params)), ", ")
	return fmt.Sprintf("%s IN (%s)", expr, placeholders), params, nil
}

func (c *SQLCompiler) compileAnd(and query.And) (string, []any, error) {
	if len(and.Predicates) == 0 {
		return "1 = 1", nil, nil
	}
	parts := make([]string, 0, len(and.Predicates))
	var params []any
	for _, p := range and.Predicates {
		sql, ps, err := c.compilePredicate(p)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, "("+sql+")")
		params = append(params, ps...)
	}
	return strings.Join(parts, " AND "), params, nil
}

// jsonExtract builds json_extract(data, '$."a"."b"') for a dotted path.
func jsonExtract(field string) (string, error) {
	if field == "" {
		return "", fmt.Errorf("empty field path")
	}
	segments := strings.Split(field, ".")
	var b strings.Builder
	b.WriteString("json_extract(data, '$")
	for _, s := range segments {
		if s == "" || strings.ContainsAny(s, "\"'\\") {
			return "", fmt.Errorf("invalid field path %q", field)
		}
		b.WriteString(`."`)
		b.WriteString(s)
		b.WriteString(`"`)
	}
	b.WriteString("')")
	return b.String(), nil
}

// toParam converts a JSON value to a SQLite parameter. Booleans become 0/1,
// matching what json_extract returns for JSON true/false.
func toParam(v any) (any, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case bool:
		if val {
			return 1, nil
		}
		return 0, nil
	}
	if f, ok := document.ToFloat(v); ok {
		return f, nil
	}
	return nil, fmt.Errorf("unsupported value type for SQL parameter: %T", v)
}

// QuoteIdent quotes a SQLite identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
