package storage

import (
	"errors"
	"fmt"
	"strings"
)

// ErrStateConflict is returned when a row is not in the state a write expects,
// such as reviewing an upload that was already reviewed
var ErrStateConflict = errors.New("row is not in the expected state")

// whereBuilder accumulates AND-ed conditions with positional arguments.
// Conditions use ? for each argument; they are renumbered to $n.
type whereBuilder struct {
	conds []string
	args  []interface{}
}

func (w *whereBuilder) add(cond string, args ...interface{}) {
	for _, arg := range args {
		w.args = append(w.args, arg)
		cond = strings.Replace(cond, "?", fmt.Sprintf("$%d", len(w.args)), 1)
	}
	w.conds = append(w.conds, cond)
}

// next reserves the placeholder for an argument appended after the conditions
func (w *whereBuilder) next(arg interface{}) string {
	w.args = append(w.args, arg)
	return fmt.Sprintf("$%d", len(w.args))
}

func (w *whereBuilder) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(w.conds, " AND ")
}

// likePattern escapes LIKE metacharacters and wraps the term in wildcards
func likePattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(term) + "%"
}
