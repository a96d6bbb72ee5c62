// Package filetime provides support for converting a
// golang's timestamp into a file timestamp and back.
//
// The filetime counts 100-nanosecond intervals since
// 1601-01-01 UTC and must fit in with a uint64 number, so
// that we can store uint64 instead of concrete values.
// A zero filetime stands for "not specified", which is
// what ProjFS expects for timestamps the provider does
// not know about.
package filetime
