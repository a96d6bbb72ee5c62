package namematch

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatch(t *testing.T) {
	assert := assert.New(t)
	for _, testCase := range []struct {
		name, pattern string
		match         bool
	}{
		{"a.txt", "", true},
		{"a.txt", "*", true},
		{"", "*", true},
		{"a.txt", "a*", true},
		{"ab.txt", "a*", true},
		{"b.txt", "a*", false},
		{"A.TXT", "a.txt", true},
		{"a.txt", "A.Txt", true},
		{"a.txt", "a.tx", false},
		{"a.txt", "?.txt", true},
		{"ab.txt", "?.txt", false},
		{"readme", "*.*", false},
		{"readme", "<\"*", true},
		{"a.b.c", "<.c", true},
		{"a.b.c", "<.b", false},
		{"abc.txt", "<.txt", true},
		{"abc.txt", ">>>.txt", true},
		{"ab.txt", ">>>.txt", true},
		{"abcd.txt", ">>>.txt", false},
		{"abc", "abc\"", true},
		{"abc.", "abc\"", true},
		{"abcd", "abc\"", false},
		{"straße", "STRASSE", false},
		{"über", "ÜBER", true},
		{"x.go", "*.go", true},
		{"x.go.bak", "*.go", false},
	} {
		assert.Equal(testCase.match,
			Match(testCase.name, testCase.pattern),
			"%q ~ %q", testCase.name, testCase.pattern)
	}
}

func TestCompare(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(0, Compare("abc", "ABC"))
	assert.Equal(-1, Compare("a", "b"))
	assert.Equal(1, Compare("B", "a"))
	assert.Equal(-1, Compare("ab", "abc"))
	assert.Equal(1, Compare("abc", "ab"))

	// '_' sits between upper and lower case letters in
	// ordinal order, upcasing places it after letters.
	assert.Equal(1, Compare("_", "a"))

	names := []string{"b.txt", "A.txt", "_x", "ab.txt", "a.txt"}
	sort.SliceStable(names, func(i, j int) bool {
		return Default.Compare(names[i], names[j]) < 0
	})
	assert.Equal([]string{"A.txt", "a.txt", "ab.txt", "b.txt", "_x"}, names)
}

func TestContainsWildcards(t *testing.T) {
	assert := assert.New(t)
	assert.False(ContainsWildcards("plain.txt"))
	for _, pattern := range []string{"*", "a?", "<.c", "a>", `a"`} {
		assert.True(ContainsWildcards(pattern), pattern)
	}
}
