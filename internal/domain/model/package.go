package model

// TreeEntry is one blob in a repository tree listing.
type TreeEntry struct {
	Path    string
	BlobSHA string
}

// Package is a Nickel package rooted at the directory holding its manifest.
// Root is "." for a package at the repository top level. Packages are derived
// per run from the tree at the head commit and never persisted.
type Package struct {
	Root         string
	ManifestPath string
	Files        []PackageFile
}

// PackageFile is one file belonging to a package. BlobSHA lets the oracle
// adapter fetch content directly without a second tree walk.
type PackageFile struct {
	Path    string
	BlobSHA string
}
