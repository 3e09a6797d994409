// Package s3 mirrors index files to an Amazon S3 bucket.
//
//	store, err := s3.New(ctx, "indexes", s3.WithRegion("eu-central-1"))
//	ix, err := vecshard.Open(root, cfg, vecshard.WithMirror(store))
//
// Files below the part size go up in one PutObject, larger segments as
// multipart uploads through the upload manager. Uploads carry a CRC32C
// checksum unless Options.Checksum is cleared.
package s3
