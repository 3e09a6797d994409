// Package minio mirrors index files to MinIO or another S3-compatible
// server through the MinIO client.
//
//	client, err := miniogo.New("localhost:9000", &miniogo.Options{
//	    Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
//	    Secure: true,
//	})
//	store := minio.NewStore(client, "indexes", "prod/")
//	ix, err := vecshard.Open(root, cfg, vecshard.WithMirror(store))
//
// The vecshard CLI builds the same store from VECSHARD_MIRROR_KIND=minio.
// Manifests and ID sidecars are uploaded as application/json, segment
// files as application/octet-stream.
package minio
