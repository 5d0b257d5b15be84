// Package storage is the object store gateway.  Every registration owns two
// trees in the bucket:
//
//	temp/<folder>/{excel,payment_proofs,photos,receipts}/...
//	permanent/<folder>/{excel,payment_proofs,photos,receipts}/...
//
// <folder> is the registration's own folder key (registrations.folder).
//
// Files land under temp/ while the registration is in flight and are moved
// to permanent/ by the confirmation pipeline.  Every operation surfaces its
// error to the caller; nothing is swallowed here.
package storage

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"

	"github.com/iliyamo/camp-registration/internal/model"
)

// ErrObjectNotFound is returned when a key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// Gateway is the set of object store operations the services rely on.
type Gateway interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) error
	Download(ctx context.Context, key string) ([]byte, error)
	// Move copies from to to and then removes from.
	Move(ctx context.Context, from, to string) error
	Exists(ctx context.Context, key string) (bool, error)
	// List returns the full keys of every object under prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	// Remove deletes the given keys in one batch.  Missing keys are ignored.
	Remove(ctx context.Context, keys []string) error
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Namespace is the top-level tree of a key.
type Namespace string

const (
	Temp      Namespace = "temp"
	Permanent Namespace = "permanent"
)

// Folder returns "<ns>/<slug>/<kind>/" with a trailing slash so it can be
// used directly as a listing prefix.
func Folder(ns Namespace, slug string, kind model.AssetKind) string {
	return string(ns) + "/" + slug + "/" + string(kind) + "/"
}

// Key returns the object key of name inside a folder.
func Key(ns Namespace, slug string, kind model.AssetKind, name string) string {
	return Folder(ns, slug, kind) + name
}

// BaseName strips any directory part and rejects names that would escape
// the folder.  It returns "" for unusable input.
func BaseName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	b := path.Base(strings.TrimSpace(name))
	if b == "." || b == "/" || b == ".." {
		return ""
	}
	return b
}

// PermanentKey maps a temp key to the same location in the permanent
// tree.  ok is false when key is not under temp/.
func PermanentKey(key string) (string, bool) {
	const prefix = string(Temp) + "/"
	if !strings.HasPrefix(key, prefix) {
		return "", false
	}
	return string(Permanent) + "/" + strings.TrimPrefix(key, prefix), true
}
