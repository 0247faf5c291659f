package validator

import (
	"sort"
	"strconv"
	"strings"

	"duck-gateway/internal/duckdbsql"
)

// Row-limit enforcement edits the statement text in place rather than
// re-rendering the tree, so the executed SQL is the caller's SQL plus, at
// most, one changed or added LIMIT count.

type edit struct {
	start, end int
	text       string
}

// applyRowLimit caps the outermost query at maxRows. It returns the
// rewritten statement (without any trailing semicolon) and the effective
// limit, or a rejection.
func applyRowLimit(sql string, sel *duckdbsql.SelectStmt, maxRows int) (string, int, *Rejection) {
	core := sel.Body.Left
	capText := strconv.Itoa(maxRows)
	var edits []edit
	effective := maxRows

	switch {
	case core.Limit != nil && core.Fetch != nil:
		return "", 0, &Rejection{Code: CodeRowLimit, Reason: "LIMIT and FETCH cannot be combined"}

	case core.Fetch != nil:
		switch {
		case core.Fetch.WithTies:
			return "", 0, &Rejection{Code: CodeRowLimit, Reason: "FETCH WITH TIES not permitted"}
		case core.Fetch.Percent:
			return "", 0, &Rejection{Code: CodeRowLimit, Reason: "percentage row limit not permitted"}
		case core.Fetch.Count == nil:
			effective = 1
		default:
			n, ok := literalCount(core.Fetch.Count)
			if !ok {
				return "", 0, &Rejection{Code: CodeRowLimit, Reason: "row limit must be a literal integer"}
			}
			effective = clamp(n, maxRows)
			if n > int64(maxRows) {
				edits = append(edits, edit{core.Fetch.CountSpan.Start, core.Fetch.CountSpan.End, capText})
			}
		}

	case core.Limit != nil:
		if core.LimitPercent {
			return "", 0, &Rejection{Code: CodeRowLimit, Reason: "percentage row limit not permitted"}
		}
		n, ok := literalCount(core.Limit)
		if !ok {
			return "", 0, &Rejection{Code: CodeRowLimit, Reason: "row limit must be a literal integer"}
		}
		effective = clamp(n, maxRows)
		if n > int64(maxRows) {
			edits = append(edits, edit{core.LimitSpan.Start, core.LimitSpan.End, capText})
		}

	case core.OffsetPos >= 0:
		edits = append(edits, edit{core.OffsetPos, core.OffsetPos, "LIMIT " + capText + " "})

	default:
		edits = append(edits, edit{sel.Span.End, sel.Span.End, " LIMIT " + capText})
	}

	return applyEdits(sql, sel.Span, edits), effective, nil
}

// literalCount accepts a plain non-negative integer literal.
func literalCount(e duckdbsql.Expr) (int64, bool) {
	lit, ok := e.(*duckdbsql.Literal)
	if !ok || lit.Type != duckdbsql.LiteralNumber {
		return 0, false
	}
	digits := strings.ReplaceAll(lit.Value, "_", "")
	if digits == "" || strings.TrimLeft(digits, "0123456789") != "" {
		return 0, false
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func clamp(n int64, maxRows int) int {
	if n > int64(maxRows) {
		return maxRows
	}
	return int(n)
}

// applyEdits returns sql[span] with the edits applied. Edit offsets are
// absolute positions in sql.
func applyEdits(sql string, span duckdbsql.Span, edits []edit) string {
	sort.Slice(edits, func(i, j int) bool { return edits[i].start < edits[j].start })
	var b strings.Builder
	pos := span.Start
	for _, e := range edits {
		b.WriteString(sql[pos:e.start])
		b.WriteString(e.text)
		pos = e.end
	}
	b.WriteString(sql[pos:span.End])
	return b.String()
}
