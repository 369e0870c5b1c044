package route

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"
)

// LoadBalancedScheme marks a target address that names a backend pool
// instead of a concrete host.
const LoadBalancedScheme = "lb"

var ErrNotFound = errors.New("no route matches path")

// Rewrite replaces the forwarded path using a regular expression. The
// replacement may reference named groups, e.g. "/actuator/${segment}".
type Rewrite struct {
	pattern     *regexp.Regexp
	replacement string
}

// NewRewrite compiles a rewrite rule.
func NewRewrite(pattern, replacement string) (*Rewrite, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile rewrite %q: %w", pattern, err)
	}
	return &Rewrite{pattern: re, replacement: replacement}, nil
}

// Apply returns the rewritten path. Paths the pattern does not match are
// returned unchanged.
func (rw *Rewrite) Apply(p string) string {
	if rw == nil || !rw.pattern.MatchString(p) {
		return p
	}
	out := rw.pattern.ReplaceAllString(p, rw.replacement)
	if out == "" {
		return "/"
	}
	return out
}

func (rw *Rewrite) String() string {
	if rw == nil {
		return ""
	}
	return rw.pattern.String() + " -> " + rw.replacement
}

// Entry maps a path pattern to a logical backend. Entries are immutable.
type Entry struct {
	ID      string
	Pattern string
	Backend string
	Target  *url.URL
	Rewrite *Rewrite

	prefix  string
	subtree bool
}

// ForwardPath returns the path sent upstream for an inbound path.
func (e Entry) ForwardPath(p string) string {
	return e.Rewrite.Apply(p)
}

// LoadBalanced reports whether the target names a backend pool.
func (e Entry) LoadBalanced() bool {
	return e.Target != nil && e.Target.Scheme == LoadBalancedScheme
}

func (e Entry) matches(p string) bool {
	if e.subtree {
		if e.prefix == "" {
			return true
		}
		return p == e.prefix || strings.HasPrefix(p, e.prefix+"/")
	}

	if strings.ContainsAny(e.Pattern, "*?[") {
		ok, err := path.Match(e.Pattern, p)
		return err == nil && ok
	}

	return p == e.Pattern
}

// specificity ranks entries: longer literal prefixes first, exact patterns
// before subtree patterns of the same prefix.
func (e Entry) specificity() (int, bool) {
	return len(e.prefix), !e.subtree
}

// NewEntry validates and builds an entry.
func NewEntry(id, pattern, backend string, target *url.URL, rewrite *Rewrite) (Entry, error) {
	if !strings.HasPrefix(pattern, "/") {
		return Entry{}, fmt.Errorf("route %s: pattern %q must start with /", id, pattern)
	}
	if backend == "" {
		return Entry{}, fmt.Errorf("route %s: backend name is required", id)
	}
	if target == nil {
		return Entry{}, fmt.Errorf("route %s: target address is required", id)
	}

	e := Entry{
		ID:      id,
		Pattern: pattern,
		Backend: backend,
		Target:  target,
		Rewrite: rewrite,
	}

	switch {
	case pattern == "/**":
		e.subtree = true
	case strings.HasSuffix(pattern, "/**"):
		e.subtree = true
		e.prefix = strings.TrimSuffix(pattern, "/**")
	default:
		e.prefix = literalPrefix(pattern)
	}

	if strings.Contains(strings.TrimSuffix(pattern, "/**"), "**") {
		return Entry{}, fmt.Errorf("route %s: ** is only allowed as the final segment of %q", id, pattern)
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return Entry{}, fmt.Errorf("route %s: pattern %q: %w", id, pattern, err)
	}

	return e, nil
}

func literalPrefix(pattern string) string {
	if i := strings.IndexAny(pattern, "*?["); i >= 0 {
		return pattern[:i]
	}
	return pattern
}

// Table resolves request paths to route entries.
type Table struct {
	entries []Entry
}

// NewTable orders entries by specificity. Entries with equal specificity
// keep their configured order.
func NewTable(entries []Entry) *Table {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)

	sort.SliceStable(sorted, func(i, j int) bool {
		li, ei := sorted[i].specificity()
		lj, ej := sorted[j].specificity()
		if li != lj {
			return li > lj
		}
		return ei && !ej
	})

	return &Table{entries: sorted}
}

// Resolve returns the most specific entry matching p.
func (t *Table) Resolve(p string) (Entry, error) {
	if p == "" {
		p = "/"
	}
	for _, e := range t.entries {
		if e.matches(p) {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, p)
}

// Entries returns the entries in match order.
func (t *Table) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Backends returns the distinct backend names referenced by the table.
func (t *Table) Backends() []string {
	seen := make(map[string]struct{})
	var names []string
	for _, e := range t.entries {
		if _, ok := seen[e.Backend]; ok {
			continue
		}
		seen[e.Backend] = struct{}{}
		names = append(names, e.Backend)
	}
	sort.Strings(names)
	return names
}
