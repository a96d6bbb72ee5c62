// Package projfs is the provider side engine for the
// Windows Projected File System (ProjFS).
//
// A provider presents a hierarchy of virtual files under a
// virtualization root, and the file system calls back into
// the provider for directory listings, placeholder metadata
// and file contents on demand. This package owns the
// instance registry, dispatches the callbacks to the
// provider's behaviours, keeps the state of directory
// enumerations, and enforces the protocol of completing
// the commands that were answered with Pending.
//
// The native binding to ProjectedFSLib.dll is invoked in a
// DLLProc+NonCGO manner and only available on windows. The
// rest of the package is portable and driven through the
// Driver interface, so that it can be exercised anywhere.
package projfs
