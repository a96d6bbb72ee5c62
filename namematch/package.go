// Package namematch implements the file name comparison and
// wildcard matching rules that ProjFS applies to directory
// enumeration, so that a provider can filter and sort
// entries exactly as the file system would.
//
// Matching is case-insensitive and understands the five
// wildcards of FsRtlIsNameInExpression: '*' and '?', plus
// the DOS compatible '<' (DOS_STAR), '>' (DOS_QM) and '"'
// (DOS_DOT) that the I/O manager translates "*.*" style
// patterns into.
//
// On windows, the root package also provides a Matcher
// backed by PrjFileNameMatch and PrjFileNameCompare.
package namematch
