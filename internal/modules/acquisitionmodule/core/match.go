package core

import (
	"path"
	"strings"
	"unicode"

	"github.com/mantonx/cinerelay/internal/modules/acquisitionmodule/seedr"
)

// LooseMatch reports whether a backend-assigned name and a requested title
// refer to the same thing: a case-insensitive substring match in either
// direction after separators are folded to single spaces. Empty strings never
// match.
func LooseMatch(name, title string) bool {
	n := foldSeparators(name)
	t := foldSeparators(title)
	if n == "" || t == "" {
		return false
	}
	return strings.Contains(n, t) || strings.Contains(t, n)
}

// foldSeparators lowercases s and collapses runs of '.', '_', '-' and
// whitespace into one space, so "Test.Movie" and "test movie" compare equal.
func foldSeparators(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || unicode.IsSpace(r)
	})
	return strings.Join(fields, " ")
}

// FindFolder returns the first folder in listing order that loosely matches title
func FindFolder(folders []seedr.Item, title string) (seedr.Item, bool) {
	for _, f := range folders {
		if LooseMatch(path.Base(f.Name), title) || LooseMatch(f.Name, title) {
			return f, true
		}
	}
	return seedr.Item{}, false
}

// FindTransfer returns the active transfer belonging to the job, by info hash
// first and then by name.
func FindTransfer(transfers []seedr.Item, infoHash, title string) (seedr.Item, bool) {
	if infoHash != "" {
		for _, t := range transfers {
			if t.Hash != "" && strings.EqualFold(t.Hash, infoHash) {
				return t, true
			}
		}
	}
	for _, t := range transfers {
		if LooseMatch(t.Name, title) {
			return t, true
		}
	}
	return seedr.Item{}, false
}
