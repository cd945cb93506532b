// Package directory persists the group directory: a mapping from group name
// to an ordered list of member IDs, stored as one JSON object on disk.
//
// FileStore owns the on-disk format. Service is the single owner used at
// runtime; it serializes read-modify-write cycles so concurrent commands never
// lose updates.
package directory
