// Package projfstest provides an in-memory projfs.Driver
// for testing providers without the projected file system.
//
// The driver records what the provider writes, and offers
// the helpers to call the provider back the way the file
// system would.
package projfstest
