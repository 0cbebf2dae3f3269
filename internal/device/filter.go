package device

import (
	"sort"
	"strings"
	"time"
)

// Filter is a conjunctive predicate over persisted records. The zero value
// matches everything. All set clauses are AND-ed together.
type Filter struct {
	// Transport restricts matches to one transport. Nil means all.
	Transport *Transport

	// Text is a case-insensitive substring matched against name, identity
	// and address (OR across the three fields). Empty means no text clause.
	Text string

	// SeenAfter is an inclusive lower bound on LastSeen. Nil means unset.
	SeenAfter *time.Time

	// SeenBefore is an inclusive upper bound on LastSeen. Nil means unset.
	SeenBefore *time.Time
}

// Match reports whether a record satisfies every set clause. This is the
// reference semantics; the SQLite repository compiles the same predicate
// to a WHERE clause.
func (f Filter) Match(r *Record) bool {
	if f.Transport != nil && r.Transport != *f.Transport {
		return false
	}
	if f.Text != "" && !f.matchText(r) {
		return false
	}
	if f.SeenAfter != nil && r.LastSeen.Before(*f.SeenAfter) {
		return false
	}
	if f.SeenBefore != nil && r.LastSeen.After(*f.SeenBefore) {
		return false
	}
	return true
}

// matchText checks the free-text clause: substring across name, identity
// and address, case-insensitive over ASCII only. SQLite's LIKE folds only
// ASCII letters, so the in-memory predicate must fold the same way.
func (f Filter) matchText(r *Record) bool {
	needle := asciiLower(f.Text)
	if strings.Contains(asciiLower(r.Identity), needle) {
		return true
	}
	if r.Name != nil && strings.Contains(asciiLower(*r.Name), needle) {
		return true
	}
	if r.Address != nil && strings.Contains(asciiLower(*r.Address), needle) {
		return true
	}
	return false
}

// asciiLower lowercases ASCII letters only, leaving all other bytes
// untouched. This mirrors SQLite's default LIKE and LOWER() behaviour.
func asciiLower(s string) string {
	var b []byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if 'A' <= c && c <= 'Z' {
			if b == nil {
				b = []byte(s)
			}
			b[i] = c + 'a' - 'A'
		}
	}
	if b == nil {
		return s
	}
	return string(b)
}

// whereClause compiles the filter to a SQL WHERE fragment with ? args.
// Returns an empty string when the filter has no clauses.
func (f Filter) whereClause() (string, []any) {
	var clauses []string
	var args []any

	if f.Transport != nil {
		clauses = append(clauses, "transport = ?")
		args = append(args, int(*f.Transport))
	}
	if f.Text != "" {
		// ESCAPE matters: user text may contain LIKE metacharacters.
		pattern := "%" + escapeLike(f.Text) + "%"
		clauses = append(clauses,
			"(identity LIKE ? ESCAPE '\\' OR name LIKE ? ESCAPE '\\' OR address LIKE ? ESCAPE '\\')")
		args = append(args, pattern, pattern, pattern)
	}
	if f.SeenAfter != nil {
		// timeLayout is fixed-width, so string comparison in SQL is
		// chronological comparison.
		clauses = append(clauses, "last_seen >= ?")
		args = append(args, f.SeenAfter.UTC().Format(timeLayout))
	}
	if f.SeenBefore != nil {
		clauses = append(clauses, "last_seen <= ?")
		args = append(args, f.SeenBefore.UTC().Format(timeLayout))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// escapeLike escapes LIKE metacharacters in user-supplied text.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

// SortOrder selects the ordering of fetched records.
type SortOrder int

// Sort orders.
const (
	// SortLastSeenDesc orders most recently seen first. This is the
	// default for history views.
	SortLastSeenDesc SortOrder = iota

	// SortNameAsc orders by display name, case-insensitive, identities
	// without a name last.
	SortNameAsc
)

// orderClause returns the matching ORDER BY fragment.
func (o SortOrder) orderClause() string {
	switch o {
	case SortNameAsc:
		return " ORDER BY name IS NULL, LOWER(name), identity"
	default:
		return " ORDER BY last_seen DESC, identity"
	}
}

// sortRecords orders records in place, mirroring orderClause for the
// in-memory repository.
func sortRecords(records []Record, order SortOrder) {
	switch order {
	case SortNameAsc:
		sort.SliceStable(records, func(i, j int) bool {
			ni, nj := records[i].Name, records[j].Name
			switch {
			case ni == nil && nj == nil:
				return records[i].Identity < records[j].Identity
			case ni == nil:
				return false
			case nj == nil:
				return true
			}
			li, lj := asciiLower(*ni), asciiLower(*nj)
			if li != lj {
				return li < lj
			}
			return records[i].Identity < records[j].Identity
		})
	default:
		sort.SliceStable(records, func(i, j int) bool {
			if !records[i].LastSeen.Equal(records[j].LastSeen) {
				return records[i].LastSeen.After(records[j].LastSeen)
			}
			return records[i].Identity < records[j].Identity
		})
	}
}
