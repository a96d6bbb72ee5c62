package namematch

import (
	"strings"
	"unicode"
	"unicode/utf16"
)

const (
	dosStar = '<'
	dosQM   = '>'
	dosDot  = '"'
)

// Matcher is the name matching collaborator consumed by
// enumeration sessions.
type Matcher interface {
	// Match reports whether name matches the pattern.
	Match(name, pattern string) bool

	// Compare the two names in the order the file system
	// presents directory entries, returning negative, zero
	// or positive like strings.Compare.
	Compare(a, b string) int
}

type builtin struct{}

func (builtin) Match(name, pattern string) bool {
	return Match(name, pattern)
}

func (builtin) Compare(a, b string) int {
	return Compare(a, b)
}

// Default is the pure go implementation of Matcher.
var Default Matcher = builtin{}

// ContainsWildcards reports whether the name contains any
// of the wildcard characters.
func ContainsWildcards(name string) bool {
	return strings.ContainsAny(name, `*?<>"`)
}

func upcase(s string) []rune {
	result := []rune(s)
	for i, r := range result {
		result[i] = unicode.ToUpper(r)
	}
	return result
}

// Compare compares the upcased UTF-16 code units of both
// names ordinally, which is how PrjFileNameCompare sorts.
func Compare(a, b string) int {
	x := utf16.Encode(upcase(a))
	y := utf16.Encode(upcase(b))
	for i := 0; i < len(x) && i < len(y); i++ {
		if x[i] != y[i] {
			if x[i] < y[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(x) < len(y):
		return -1
	case len(x) > len(y):
		return 1
	}
	return 0
}

// Match reports whether the name matches the pattern.
//
// An empty pattern matches everything, a pattern without
// wildcards is a case-insensitive equality test.
func Match(name, pattern string) bool {
	if pattern == "" {
		return true
	}
	m := &matcher{
		name:    upcase(name),
		pattern: upcase(pattern),
	}
	m.lastDot = -1
	for i, r := range m.name {
		if r == '.' {
			m.lastDot = i
		}
	}
	m.memo = make([]int8, (len(m.pattern)+1)*(len(m.name)+1))
	return m.match(0, 0)
}

type matcher struct {
	name    []rune
	pattern []rune
	lastDot int

	// memo records 0 for unknown, 1 for matched and -1
	// for mismatched on each (pattern, name) position.
	memo []int8
}

func (m *matcher) match(p, n int) bool {
	index := p*(len(m.name)+1) + n
	if m.memo[index] != 0 {
		return m.memo[index] > 0
	}
	result := m.evaluate(p, n)
	m.memo[index] = -1
	if result {
		m.memo[index] = 1
	}
	return result
}

func (m *matcher) evaluate(p, n int) bool {
	if p == len(m.pattern) {
		return n == len(m.name)
	}
	more := n < len(m.name)
	switch m.pattern[p] {
	case '*':
		return m.match(p+1, n) || (more && m.match(p, n+1))
	case '?':
		return more && m.match(p+1, n+1)
	case dosStar:
		// Consumes anything but the final dot of the name.
		limit := len(m.name)
		if m.lastDot >= n {
			limit = m.lastDot
		}
		for k := n; k <= limit; k++ {
			if m.match(p+1, k) {
				return true
			}
		}
		return false
	case dosQM:
		if more && m.name[n] != '.' {
			return m.match(p+1, n+1)
		}
		return m.match(p+1, n)
	case dosDot:
		if more && m.name[n] == '.' {
			return m.match(p+1, n+1)
		}
		return !more && m.match(p+1, n)
	default:
		return more && m.name[n] == m.pattern[p] &&
			m.match(p+1, n+1)
	}
}
