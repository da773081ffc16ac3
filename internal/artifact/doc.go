// Package artifact defines the versioned artifact model and the Store
// contract shared by the embedded badger-backed store, the HTTP store
// server, and the HTTP client.
//
// An artifact is an immutable (name, version) pair. Versions are assigned
// monotonically per name by the store, never by callers. Mutable tags such
// as "latest" and "production-ready" point at exactly one version per name
// and move atomically. Reads must always reference an artifact through a
// version or a tag; bare names are rejected before they can reach a store.
package artifact
