package postgres

import (
	"fmt"
	"strings"

	"github.com/userdesk/userdesk/internal/domain"
)

const userColumns = "id, name, email, secret_hash, role, active, created_at, updated_at"

// sortColumns whitelists the ORDER BY targets a client may request.
var sortColumns = map[domain.SortField]string{
	domain.SortByName:      "name",
	domain.SortByEmail:     "email",
	domain.SortByRole:      "role",
	domain.SortByCreatedAt: "created_at",
	domain.SortByUpdatedAt: "updated_at",
}

// filterClause renders a filter as a parameterized WHERE fragment. An
// empty filter yields an empty fragment (match all).
func filterClause(f domain.Filter) (string, []any) {
	var conds []string
	var args []any
	if search := strings.TrimSpace(f.Search); search != "" {
		args = append(args, "%"+escapeLike(search)+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf("(name ILIKE $%d OR email ILIKE $%d)", n, n))
	}
	if f.Role != "" {
		args = append(args, f.Role)
		conds = append(conds, fmt.Sprintf("role = $%d", len(args)))
	}
	if f.Active != nil {
		args = append(args, *f.Active)
		conds = append(conds, fmt.Sprintf("active = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// orderClause maps a sort spec onto a whitelisted column. Unknown fields
// fall back to creation time.
func orderClause(s domain.Sort) string {
	column, ok := sortColumns[s.Field]
	if !ok {
		column = "created_at"
	}
	direction := "ASC"
	if s.Desc {
		direction = "DESC"
	}
	return fmt.Sprintf(" ORDER BY %s %s", column, direction)
}

// listQuery assembles the full SELECT for one listing page.
func listQuery(q domain.ListQuery) (string, []any) {
	where, args := filterClause(q.Filter)
	sql := "SELECT " + userColumns + " FROM users" + where + orderClause(q.Sort)
	args = append(args, q.Limit)
	sql += fmt.Sprintf(" LIMIT $%d", len(args))
	args = append(args, q.Offset())
	sql += fmt.Sprintf(" OFFSET $%d", len(args))
	return sql, args
}

// countQuery assembles the COUNT matching the same filter.
func countQuery(f domain.Filter) (string, []any) {
	where, args := filterClause(f)
	return "SELECT COUNT(*) FROM users" + where, args
}

// escapeLike neutralizes LIKE wildcards in user-supplied search text.
func escapeLike(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(s)
}
