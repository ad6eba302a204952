package core

import (
	"context"
	"path"
	"strings"

	"github.com/mantonx/cinerelay/internal/modules/acquisitionmodule/seedr"
	"golang.org/x/sync/errgroup"
)

var (
	nativeContainers   = []string{".mp4"}
	fallbackContainers = []string{".mkv", ".avi"}
)

// folderNode is one fetched folder of a subtree
type folderNode struct {
	item     seedr.Item
	listing  *seedr.Listing
	children []*folderNode
}

// fetchTree lists root and its descendants one depth level at a time, with
// at most concurrency listings in flight. Folders deeper than maxDepth are
// not listed.
func fetchTree(ctx context.Context, account Account, root seedr.Item, concurrency, maxDepth int) (*folderNode, error) {
	if concurrency <= 0 {
		concurrency = 1
	}

	top := &folderNode{item: root}
	level := []*folderNode{top}

	for depth := 0; len(level) > 0 && depth <= maxDepth; depth++ {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(concurrency)

		for _, node := range level {
			node := node
			g.Go(func() error {
				listing, err := account.ListFolder(gctx, node.item.ID)
				if err != nil {
					return err
				}
				node.listing = listing
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		var next []*folderNode
		for _, node := range level {
			for _, f := range node.listing.Folders {
				child := &folderNode{item: f}
				node.children = append(node.children, child)
				next = append(next, child)
			}
		}
		level = next
	}
	return top, nil
}

// findPlayable searches the tree depth-first, files before subfolders, in
// listing order. A native container anywhere wins over a fallback one.
func findPlayable(root *folderNode) (seedr.Item, bool) {
	if f, ok := firstInTree(root, nativeContainers); ok {
		return f, true
	}
	return firstInTree(root, fallbackContainers)
}

func firstInTree(node *folderNode, exts []string) (seedr.Item, bool) {
	if node == nil || node.listing == nil {
		return seedr.Item{}, false
	}
	for _, f := range node.listing.Files {
		if hasExt(f.Name, exts) {
			return f, true
		}
	}
	for _, child := range node.children {
		if f, ok := firstInTree(child, exts); ok {
			return f, true
		}
	}
	return seedr.Item{}, false
}

func hasExt(name string, exts []string) bool {
	lower := strings.ToLower(name)
	for _, ext := range exts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// containerOf returns the lowercase extension without the dot
func containerOf(name string) string {
	return strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
}

// mediaTypeOf infers the playback strategy from the stream URL
func mediaTypeOf(url string) string {
	if strings.Contains(strings.ToLower(url), ".m3u8") {
		return MediaTypeHLS
	}
	return MediaTypeProgressive
}
