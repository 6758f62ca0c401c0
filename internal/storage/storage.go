// Package storage abstracts the object store rowsets are shipped to and
// fetched from. Implementations cover S3-compatible services and the local
// filesystem.
package storage

import (
	"context"

	serrors "github.com/stratadb/strata/internal/errors"
)

// ObjectStorage is the object store surface the shipping layer needs.
type ObjectStorage interface {
	// Upload copies a local file to objectPath.
	Upload(ctx context.Context, localPath, objectPath string) error

	// Download copies objectPath to a local file, creating parent
	// directories as needed.
	Download(ctx context.Context, objectPath, localPath string) error

	// Delete removes an object. Deleting a missing object is not an
	// error.
	Delete(ctx context.Context, objectPath string) error

	// Exists reports whether an object is present.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns all object paths under the prefix.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// IsNotFound reports whether err marks a missing object.
func IsNotFound(err error) bool {
	return serrors.GetCode(err) == serrors.CodeObjectNotFound
}

func notFound(objectPath string) error {
	return serrors.New(serrors.ErrCategoryStorage, serrors.CodeObjectNotFound,
		"object not found: "+objectPath)
}
