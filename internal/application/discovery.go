package application

import (
	"context"
	"fmt"
	"path"
	"sort"

	"github.com/nickel-lang/nickel-customs/internal/domain/model"
	"github.com/nickel-lang/nickel-customs/internal/domain/port/driven"
)

// ManifestName is the manifest filename that marks a Nickel package root.
const ManifestName = "Nickel-pkg.ncl"

// Discovery resolves which packages an event touches.
type Discovery struct {
	reader driven.RepoReader
}

// NewDiscovery creates a Discovery backed by the given reader.
func NewDiscovery(reader driven.RepoReader) *Discovery {
	return &Discovery{reader: reader}
}

// Discover lists the repository tree at the event's head commit and groups
// the event's changed paths into affected packages. The second return value
// is the changed paths that belong to no package. An event with no changed
// paths resolves to no packages without touching the provider.
func (d *Discovery) Discover(ctx context.Context, evt model.Event) ([]model.Package, []string, error) {
	if len(evt.ChangedPaths) == 0 {
		return nil, nil, nil
	}

	tree, err := d.reader.ListTree(ctx, evt.RepoFullName, evt.HeadSHA)
	if err != nil {
		return nil, nil, fmt.Errorf("listing tree for %s@%s: %w", evt.RepoFullName, evt.HeadSHA, err)
	}

	pkgs, ignored := GroupByManifest(evt.ChangedPaths, tree)
	return pkgs, ignored, nil
}

// GroupByManifest groups changed paths into packages by nearest manifest
// ancestor. A path with no manifest ancestor lands in the ignored list.
// Nested packages never claim each other's files: every file belongs to the
// nearest manifest above it, only. Results are ordered by package root
// ascending with file lists ordered by path, so identical inputs produce
// identical output.
func GroupByManifest(changedPaths []string, tree []model.TreeEntry) ([]model.Package, []string) {
	roots := manifestRoots(tree)

	affected := make(map[string]bool)
	var ignored []string
	for _, p := range changedPaths {
		root, ok := nearestRoot(p, roots)
		if !ok {
			ignored = append(ignored, p)
			continue
		}
		affected[root] = true
	}

	if len(affected) == 0 {
		return nil, ignored
	}

	files := make(map[string][]model.PackageFile)
	for _, entry := range tree {
		root, ok := nearestRoot(entry.Path, roots)
		if !ok || !affected[root] {
			continue
		}
		files[root] = append(files[root], model.PackageFile{Path: entry.Path, BlobSHA: entry.BlobSHA})
	}

	pkgs := make([]model.Package, 0, len(affected))
	for root := range affected {
		fs := files[root]
		sort.Slice(fs, func(i, j int) bool { return fs[i].Path < fs[j].Path })
		pkgs = append(pkgs, model.Package{
			Root:         root,
			ManifestPath: manifestPath(root),
			Files:        fs,
		})
	}
	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].Root < pkgs[j].Root })

	return pkgs, ignored
}

// manifestRoots returns the directories containing a manifest, "." for the
// repository top level.
func manifestRoots(tree []model.TreeEntry) map[string]bool {
	roots := make(map[string]bool)
	for _, entry := range tree {
		if path.Base(entry.Path) == ManifestName {
			roots[path.Dir(entry.Path)] = true
		}
	}
	return roots
}

// nearestRoot returns the longest manifest root that is an ancestor of p.
// Deleted files resolve too: the lookup walks p's directory chain, not the
// tree, so a path absent from the head commit still claims its package.
func nearestRoot(p string, roots map[string]bool) (string, bool) {
	dir := path.Dir(p)
	for {
		if roots[dir] {
			return dir, true
		}
		if dir == "." {
			return "", false
		}
		dir = path.Dir(dir)
	}
}

func manifestPath(root string) string {
	if root == "." {
		return ManifestName
	}
	return root + "/" + ManifestName
}
