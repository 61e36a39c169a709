// Package record defines how the document tree is flattened into stored
// entries.
//
// A document location is addressed by a human path such as /items/0/name.
// Stored keys use a slash-terminated form (/items/[0/name/) where array
// positions are encoded so byte order equals numeric order. Only leaves are
// stored; containers exist implicitly through shared key prefixes, and empty
// containers are kept as marker leaves.
//
// Invariant: no stored key is a strict prefix of another stored key.
package record

// Entry is one stored (key, leaf) pair.
type Entry struct {
	// Key is the slash-terminated DB key.
	Key string

	// Value is the leaf stored at Key.
	Value Leaf

	// Idx names the property index this entry participates in, if any.
	Idx string
}
