// Package datastore defines the data-store collaborator the entrypoint
// fetches inputs from and stores outputs to. References are opaque
// strings; the local implementation maps them onto files under a root
// directory with a sqlite index.
package datastore

import (
	"context"
	"fmt"
)

// Store is the collaborator interface. Put is overwrite-idempotent:
// storing the same reference twice yields the same final stored
// reference, so retrying a whole invocation is always safe.
type Store interface {
	// Fetch materializes the referenced object and returns a local path.
	Fetch(ctx context.Context, ref string) (string, error)
	// Put stores the file or directory at localPath under ref and
	// returns the resolved reference.
	Put(ctx context.Context, localPath, ref string) (string, error)
	Close() error
}

// NotFoundError is returned by Fetch for unknown references.
type NotFoundError struct {
	Ref string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("reference %q not found in data store", e.Ref)
}
