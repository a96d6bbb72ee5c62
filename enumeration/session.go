package enumeration

import (
	"time"

	"github.com/aegistudio/go-projfs/namematch"
)

// Entry is a directory entry presented to the enumeration.
type Entry struct {
	Name        string
	Size        int64
	IsDirectory bool

	// FileAttributes and the timestamps are optional, the
	// zero values stand for "let the file system decide".
	FileAttributes uint32
	CreationTime   time.Time
	LastAccessTime time.Time
	LastWriteTime  time.Time
	ChangeTime     time.Time
}

// HasBasicInfo tells whether any of the optional fields
// are specified.
func (e Entry) HasBasicInfo() bool {
	return e.FileAttributes != 0 ||
		!e.CreationTime.IsZero() ||
		!e.LastAccessTime.IsZero() ||
		!e.LastWriteTime.IsZero() ||
		!e.ChangeTime.IsZero()
}

// Session is the cursor over a snapshot of entries.
type Session struct {
	entries []Entry
	matcher namematch.Matcher
	cursor  int
	valid   bool

	// filter is meaningful only when filterSaved is set,
	// and never changes afterwards.
	filter      string
	filterSaved bool
}

// New creates a session over a copy of the entries, in the
// order they are given, and positions at the first entry.
//
// The matcher defaults to namematch.Default when nil.
func New(entries []Entry, matcher namematch.Matcher) *Session {
	if matcher == nil {
		matcher = namematch.Default
	}
	s := &Session{
		entries: append([]Entry(nil), entries...),
		matcher: matcher,
	}
	s.cursor = -1
	s.MoveNext()
	return s
}

func (s *Session) matches(name string) bool {
	if !s.filterSaved || s.filter == "" || s.filter == "*" {
		return true
	}
	return s.matcher.Match(name, s.filter)
}

// skipHidden advances from the cursor to the first entry
// matching the filter, inclusively.
func (s *Session) skipHidden() {
	for s.cursor < len(s.entries) &&
		!s.matches(s.entries[s.cursor].Name) {
		s.cursor++
	}
	s.valid = s.cursor < len(s.entries)
}

// MoveNext advances to the next entry matching the saved
// filter, returning whether there's a current entry.
func (s *Session) MoveNext() bool {
	if s.cursor < len(s.entries) {
		s.cursor++
	}
	s.skipHidden()
	return s.valid
}

// IsCurrentValid tells whether Current can be called.
func (s *Session) IsCurrentValid() bool {
	return s.valid
}

// Current returns the entry under the cursor. It panics
// when the enumeration has been exhausted.
func (s *Session) Current() Entry {
	if !s.valid {
		panic("enumeration: Current called without a valid entry")
	}
	return s.entries[s.cursor]
}

// Restart discards the position and starts over from the
// first entry of the snapshot, saving the filter if none
// has been saved yet.
func (s *Session) Restart(filter string) {
	s.cursor = 0
	s.TrySaveFilter(filter)
	s.skipHidden()
}

// TrySaveFilter saves the filter if it is the first one
// supplied for this session, and skips the current entry
// if the filter excludes it. A later filter is ignored.
func (s *Session) TrySaveFilter(filter string) bool {
	if s.filterSaved {
		return false
	}
	s.filter = filter
	s.filterSaved = true
	if filter != "" && s.valid {
		s.skipHidden()
	}
	return true
}

// Filter returns the saved filter, and whether it has been
// saved at all.
func (s *Session) Filter() (string, bool) {
	return s.filter, s.filterSaved
}

// Len returns the count of entries in the snapshot,
// regardless of the filter.
func (s *Session) Len() int {
	return len(s.entries)
}
