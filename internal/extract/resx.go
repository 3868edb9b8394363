package extract

import (
	_ "embed"
	"io"
	"strconv"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

//go:embed resx_header.xml
var resxHeader string

// StringTable merges short strings of one container. Keys that collide ignoring case get a
// "(n)" suffix on the spelling that was seen first.
type StringTable struct {
	values map[string]string
	first  map[string]string
	next   map[string]int
}

func NewStringTable() *StringTable {
	return &StringTable{
		values: make(map[string]string),
		first:  make(map[string]string),
		next:   make(map[string]int),
	}
}

// Add stores value and returns the key it ended up under.
func (t *StringTable) Add(key, value string) string {
	folded := strings.ToLower(key)
	spelling, seen := t.first[folded]
	if !seen {
		t.first[folded] = key
		t.values[key] = value
		return key
	}
	for {
		t.next[folded]++
		candidate := spelling + "(" + strconv.Itoa(t.next[folded]) + ")"
		if _, taken := t.first[strings.ToLower(candidate)]; taken {
			continue
		}
		t.first[strings.ToLower(candidate)] = candidate
		t.values[candidate] = value
		return candidate
	}
}

func (t *StringTable) Len() int {
	return len(t.values)
}

// Keys are ordered by their lower-cased form.
func (t *StringTable) Keys() []string {
	keys := maps.Keys(t.values)
	slices.SortFunc(keys, func(a, b string) bool {
		return strings.ToLower(a) < strings.ToLower(b)
	})
	return keys
}

func (t *StringTable) Value(key string) string {
	return t.values[key]
}

// WriteResx renders the table as a ResX document with CRLF line endings.
func (t *StringTable) WriteResx(w io.Writer) error {
	var b strings.Builder
	b.WriteString(resxHeader)
	for _, key := range t.Keys() {
		b.WriteString("  <data name=\"")
		b.WriteString(HTMLEncode(key))
		b.WriteString("\" xml:space=\"preserve\">\r\n    <value>")
		b.WriteString(HTMLEncode(t.values[key]))
		b.WriteString("</value>\r\n  </data>\r\n")
	}
	b.WriteString("</root>")
	_, err := io.WriteString(w, b.String())
	return err
}

// HTMLEncode escapes like WebUtility.HtmlEncode: the five markup characters, plus Latin-1
// supplement characters and code points beyond the BMP as numeric references.
func HTMLEncode(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '<':
			b.WriteString("&lt;")
		case r == '>':
			b.WriteString("&gt;")
		case r == '"':
			b.WriteString("&quot;")
		case r == '\'':
			b.WriteString("&#39;")
		case r == '&':
			b.WriteString("&amp;")
		case r >= 160 && r < 256, r > 0xFFFF:
			b.WriteString("&#")
			b.WriteString(strconv.Itoa(int(r)))
			b.WriteString(";")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
