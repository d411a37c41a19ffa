// Package minio provides a blobstore.Store backed by the MinIO client.
//
// It works with MinIO and any other S3-compatible storage, so checkpoints
// and cached features of a run can live in a shared bucket:
//
//	store, err := minio.Open(minio.Options{
//	    Endpoint:  "localhost:9000",
//	    Bucket:    "tipadapter",
//	    Prefix:    "runs/vqa",
//	    AccessKey: "minioadmin",
//	    SecretKey: "minioadmin",
//	})
package minio
