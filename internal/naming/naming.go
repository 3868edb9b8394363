package naming

import (
	"fmt"
	"path/filepath"
	"strings"
)

// invalidChars is the Windows file name blacklist, applied on every platform.
const invalidChars = "\"<>|:*?\\/"

// Sanitize replaces every character that cannot appear in a file name with "-". A name that is
// empty or only dots would name a directory rather than a file, and becomes "-".
func Sanitize(name string) string {
	if strings.Trim(name, ".") == "" {
		return "-"
	}
	return strings.Map(func(r rune) rune {
		if r < 0x20 || strings.ContainsRune(invalidChars, r) {
			return '-'
		}
		return r
	}, name)
}

// SplitVersion strips a trailing "(NN)" from a base name (no extension).
func SplitVersion(base string) (string, bool) {
	n := len(base)
	if n >= 4 && base[n-1] == ')' && base[n-4] == '(' && isDigit(base[n-3]) && isDigit(base[n-2]) {
		return base[:n-4], true
	}
	return base, false
}

func StripVersion(base string) string {
	stripped, _ := SplitVersion(base)
	return stripped
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// Versioned joins dir/base(NN)ext; n <= 0 means the bare name.
func Versioned(dir, base string, n int, ext string) string {
	if n <= 0 {
		return filepath.Join(dir, base+ext)
	}
	return filepath.Join(dir, fmt.Sprintf("%s(%02d)%s", base, n, ext))
}

// Split breaks a path into directory, base name without extension, and extension.
func Split(path string) (dir, base, ext string) {
	dir = filepath.Dir(path)
	name := filepath.Base(path)
	ext = filepath.Ext(name)
	base = strings.TrimSuffix(name, ext)
	return dir, base, ext
}
