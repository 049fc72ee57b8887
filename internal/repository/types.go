// Package repository resolves external references — git sources, archives,
// and local paths — into materialized trees in the content-addressable
// store, verifying an http_archive's declared integrity before anything it
// produces can enter a build.
package repository

import "time"

// Kind identifies how a Source is obtained.
type Kind string

const (
	KindHTTPArchive Kind = "http_archive"
	KindGit         Kind = "git"
	KindLocal       Kind = "local"
)

// Integrity pins the expected content hash of a fetched source. An
// http_archive Source must declare one, and the downloaded bytes are checked
// against it. A git Source is accepted with or without one, and it is not
// checked against the cloned tree. KindLocal has none, which is explicitly
// weaker and labeled development-only.
type Integrity struct {
	Algorithm string // always "sha256" today
	Hex       string
}

// Source describes one external dependency as declared in workspace
// configuration.
type Source struct {
	Name      string
	Kind      Kind
	URL       string // http_archive: download URL; git: clone URL
	Commit    string // git: exact SHA, required unless Tag is set
	Tag       string // git: a tag, cloned as given and not resolved to a commit
	Path      string // local: filesystem path
	StripPrefix string // optional path prefix stripped after extraction
	Integrity Integrity
}

// LocalRoot is the result of resolving a Source: a stable local path to its
// materialized tree, plus the bookkeeping recorded about how it got there.
type LocalRoot struct {
	Name       string
	Root       string
	RootDigest string // digest.Digest.Hex() of the tree manifest
	ResolvedAt time.Time
	FromCache  bool
}

// Reference is a parsed external or internal target reference.
//
//	@name              -> external root
//	@name//path:target -> target within an external tree
//	//path:target      -> internal target
type Reference struct {
	External bool
	Name     string // empty if internal
	Path     string
	Target   string
}
