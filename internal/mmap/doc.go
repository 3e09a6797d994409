// Package mmap maps files into memory.
//
// The index uses it to read embedding buffers without copying them onto the
// heap. [ModeCopyOnWrite] mappings are private: rows can be normalized in
// place while the file on disk stays untouched.
//
// On platforms without mmap support the file is read into memory instead,
// which keeps the API identical.
package mmap
