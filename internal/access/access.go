// Package access decides which users may see a library item.
//
// An item carries an owner (possibly empty) and a set of readers. A reader
// entry of "everybody" or "*" grants every authenticated user access. Items
// with neither an owner nor readers are visible to everyone: they predate the
// access columns and are treated as public.
package access

import "slices"

// Wildcards are the reader entries that grant access to all users.
var Wildcards = []string{"everybody", "*"}

// IsWildcard reports whether reader is a wildcard entry.
func IsWildcard(reader string) bool {
	return slices.Contains(Wildcards, reader)
}

// CanRead reports whether user may see an item with the given owner and readers.
func CanRead(owner string, readers []string, user string) bool {
	effective := make([]string, 0, len(readers)+1)
	for _, r := range readers {
		if r != "" {
			effective = append(effective, r)
		}
	}
	if slices.ContainsFunc(effective, IsWildcard) {
		effective = append(effective, user)
	}

	if owner == "" && len(effective) == 0 {
		return true
	}
	if user == "" {
		return false
	}
	return user == owner || slices.Contains(effective, user)
}

// CanModify reports whether user may delete an item or change its readers.
// Only the owner may, except on unowned items.
func CanModify(owner, user string) bool {
	return owner == "" || owner == user
}

// Filter returns the items user may read. acl extracts owner and readers.
func Filter[T any](items []T, user string, acl func(T) (string, []string)) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		owner, readers := acl(it)
		if CanRead(owner, readers, user) {
			out = append(out, it)
		}
	}
	return out
}
