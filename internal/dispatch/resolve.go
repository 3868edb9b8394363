package dispatch

import (
	"context"
	"io/fs"
	"iter"
	"path/filepath"
	"regexp"
	"strings"
)

const listSeparator = "|"

// Resolve expands a source specification into candidate paths: a "|" separated list is returned
// as given, a file name containing "*" or "?" is matched against every file below its directory,
// anything else is a single path. Invalid input yields nothing.
func Resolve(ctx context.Context, spec string) iter.Seq[string] {
	switch {
	case strings.Contains(spec, listSeparator):
		return resolveList(spec)
	case strings.ContainsAny(filepath.Base(spec), "*?"):
		return resolveWildcard(ctx, spec)
	case spec == "":
		return func(func(string) bool) {}
	}
	return func(yield func(string) bool) {
		if path, err := filepath.Abs(spec); err == nil {
			yield(path)
		}
	}
}

func resolveList(spec string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, path := range strings.Split(spec, listSeparator) {
			if path == "" {
				continue
			}
			if !yield(path) {
				return
			}
		}
	}
}

func resolveWildcard(ctx context.Context, spec string) iter.Seq[string] {
	root, err := filepath.Abs(filepath.Dir(spec))
	if err != nil {
		return func(func(string) bool) {}
	}
	match, err := WildcardPattern(filepath.Base(spec))
	if err != nil {
		return func(func(string) bool) {}
	}

	return func(yield func(string) bool) {
		filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if ctx.Err() != nil {
				return filepath.SkipAll
			}
			if err != nil {
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			// WalkDir reports symlinks without following them.
			if !d.Type().IsRegular() {
				return nil
			}
			if match != nil && !match.MatchString(path) {
				return nil
			}
			if !yield(path) {
				return filepath.SkipAll
			}
			return nil
		})
	}
}

// WildcardPattern builds the suffix regex for a wildcard file name. A nil pattern with a nil
// error means every file matches.
func WildcardPattern(name string) (*regexp.Regexp, error) {
	if name == "*" {
		return nil, nil
	}
	var pattern string
	if i := strings.LastIndexByte(name, '.'); i < 0 {
		pattern = `[\\/]` + wildcard(name) + `$`
	} else {
		pattern = `[\\/]` + wildcard(name[:i]) + `\.` + wildcard(name[i+1:]) + `$`
	}
	return regexp.Compile(pattern)
}

func wildcard(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '?':
			b.WriteByte('.')
		case '*':
			b.WriteString(".*")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return b.String()
}
