// Package fs is the file system seam of the index.
//
// Every write that must survive a crash goes through a [FileSystem]:
// [WriteFileAtomic] for documents replaced in place (manifests, ID
// sidecars) and [WriteSynced] for files staged before publication. [Lock]
// serializes writers of one variant across processes.
//
// [FaultyFS] wraps a FileSystem and fails chosen operations on chosen
// paths, which is how tests interrupt a build between staging and
// publication.
package fs
