// Package s3 provides an S3 implementation of the blobstore.BlobStore interface.
//
// # Usage
//
//	cfg, err := config.LoadDefaultConfig(ctx)
//	if err != nil { ... }
//
//	client := awss3.NewFromConfig(cfg) // github.com/aws/aws-sdk-go-v2/service/s3
//	store := s3.NewStore(client, "my-bucket", "datasets/buildings")
//
//	as, err := geoset.OpenStore(ctx, store)
//
// # Features
//
//   - Range reads for efficient partial fetches
//   - Multipart uploads for large snapshots
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
//   - Optional DynamoDB-backed commit store for safe concurrent writers
package s3
