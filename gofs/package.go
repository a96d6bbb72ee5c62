// Package gofs aims at providing a simple but working
// projection provider backed by a Golang file system.
//
// The provider projects the hierarchy of an afero.Fs under
// the virtualization root: directories are listed on
// enumeration, placeholders are written with the metadata
// of the files, and contents are hydrated in chunks upon
// GetFileData, either synchronously or by a bounded pool
// of workers completing the commands later.
//
// Names are looked up case insensitively, so that the
// provider works the same whether the underlying file
// system is a Windows directory, or an in-memory one.
package gofs
