// Package enumeration implements the per-enumeration state
// of a directory listing conversation.
//
// ProjFS lists a directory through a Start, one or more Get
// and an End callback sharing an enumeration id. A Session
// snapshots the entries at Start, and across the Get calls
// remembers the search expression the first Get supplied
// and the position where the last result buffer filled up.
//
// The file system serializes the calls of one enumeration
// id, so a Session is not safe for concurrent use and does
// not need to be.
package enumeration
