package memdriver

import "strings"

// scanParenGroups returns the contents of each top-level "(...)" group in
// s, respecting single-quoted strings. A doubled '' inside a literal is
// just two toggles back to back with nothing paren-like between them, so a
// plain per-quote-character toggle handles escaping correctly without
// special-casing it.
func scanParenGroups(s string) []string {
	var groups []string
	depth := 0
	inQuote := false
	var cur strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			if depth > 0 {
				cur.WriteByte(c)
			}
		case c == '(' && !inQuote:
			depth++
			if depth > 1 {
				cur.WriteByte(c)
			}
		case c == ')' && !inQuote:
			depth--
			if depth == 0 {
				groups = append(groups, cur.String())
				cur.Reset()
			} else {
				cur.WriteByte(c)
			}
		default:
			if depth > 0 {
				cur.WriteByte(c)
			}
		}
	}
	return groups
}

// splitTopLevelCommas splits s on commas that are not inside a quoted
// string literal.
func splitTopLevelCommas(s string) []string {
	var parts []string
	inQuote := false
	var cur strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\'' {
			inQuote = !inQuote
			cur.WriteByte(c)
			continue
		}
		if c == ',' && !inQuote {
			parts = append(parts, strings.TrimSpace(cur.String()))
			cur.Reset()
			continue
		}
		cur.WriteByte(c)
	}
	if cur.Len() > 0 || len(parts) > 0 {
		parts = append(parts, strings.TrimSpace(cur.String()))
	}
	return parts
}

// unquoteIdentifier strips the double quotes quoteIdentifier wraps names
// in.
func unquoteIdentifier(s string) string {
	return strings.Trim(s, `"`)
}

// splitTopLevelOr splits a WHERE clause on " OR " boundaries that sit
// outside both parens and quoted literals, so applier.ClearOutsideRange's
// "(pk) < (x) OR (pk) > (y)" shape and a plain AND-only clause (with no top
// level OR at all) both parse correctly.
func splitTopLevelOr(s string) []string {
	var parts []string
	depth := 0
	inQuote := false
	start := 0
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
		case c == '(' && !inQuote:
			depth++
		case c == ')' && !inQuote:
			depth--
		case depth == 0 && !inQuote && strings.HasPrefix(s[i:], " OR "):
			parts = append(parts, strings.TrimSpace(s[start:i]))
			i += len(" OR ")
			start = i
			continue
		}
		i++
	}
	parts = append(parts, strings.TrimSpace(s[start:]))
	return parts
}

// splitTopLevelAnd splits a WHERE clause on " AND " boundaries that sit
// outside both parens and quoted literals, so applier.ClearRange's
// "(pk) > (x) AND (pk) <= (y)" shape and a plain single-predicate clause
// both parse correctly.
func splitTopLevelAnd(s string) []string {
	var parts []string
	depth := 0
	inQuote := false
	start := 0
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
		case c == '(' && !inQuote:
			depth++
		case c == ')' && !inQuote:
			depth--
		case depth == 0 && !inQuote && strings.HasPrefix(s[i:], " AND "):
			parts = append(parts, strings.TrimSpace(s[start:i]))
			i += len(" AND ")
			start = i
			continue
		}
		i++
	}
	parts = append(parts, strings.TrimSpace(s[start:]))
	return parts
}
