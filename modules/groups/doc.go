// Package groups expands @group mentions into member mentions and serves the
// /group-create, /group-list, /group-show, and /group-delete commands that
// maintain the group directory.
package groups
