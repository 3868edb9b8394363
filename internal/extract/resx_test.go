package extract

import (
	"encoding/xml"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringTableCollisions(t *testing.T) {
	table := NewStringTable()
	assert.Equal(t, "Greeting", table.Add("Greeting", "hello"))
	assert.Equal(t, "Greeting(1)", table.Add("greeting", "hi"))
	assert.Equal(t, "Greeting(2)", table.Add("GREETING", "hey"))
	assert.Equal(t, "Title", table.Add("Title", "Main window"))

	assert.Equal(t, 4, table.Len())
	assert.Equal(t, "hello", table.Value("Greeting"))
	assert.Equal(t, "hi", table.Value("Greeting(1)"))
	assert.Equal(t, "hey", table.Value("Greeting(2)"))
}

func TestStringTableSuffixSkipsTakenKeys(t *testing.T) {
	table := NewStringTable()
	table.Add("Name", "a")
	table.Add("name(1)", "b")
	assert.Equal(t, "Name(2)", table.Add("NAME", "c"))
}

func TestStringTableKeysSorted(t *testing.T) {
	table := NewStringTable()
	for _, key := range []string{"zeta", "Alpha", "beta", "alpha"} {
		table.Add(key, key)
	}
	assert.Equal(t, []string{"Alpha", "Alpha(1)", "beta", "zeta"}, table.Keys())
}

func TestHTMLEncode(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{`<b>"Tom" & 'Jerry'</b>`, "&lt;b&gt;&quot;Tom&quot; &amp; &#39;Jerry&#39;&lt;/b&gt;"},
		{"café ©", "caf&#233; &#169;"},
		{"\u00a0", "&#160;"},
		{"Ā日本", "Ā日本"},
		{"\U0001F600", "&#128512;"},
		{"ok \U0001F44D!", "ok &#128077;!"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTMLEncode(tt.in), tt.in)
	}
}

func TestWriteResx(t *testing.T) {
	table := NewStringTable()
	table.Add("Title", "Main <window>")
	table.Add("about", "Line one\r\nLine two")

	var b strings.Builder
	require.NoError(t, table.WriteResx(&b))
	doc := b.String()

	assert.True(t, strings.HasPrefix(doc, "<?xml"))
	assert.True(t, strings.HasSuffix(doc, "</root>"))
	assert.Contains(t, doc, "  <data name=\"Title\" xml:space=\"preserve\">\r\n    <value>Main &lt;window&gt;</value>\r\n  </data>\r\n")
	assert.Less(t, strings.Index(doc, `name="about"`), strings.Index(doc, `name="Title"`))
	assert.Contains(t, doc, "System.Resources.ResXResourceReader")

	var parsed struct {
		Data []struct {
			Name  string `xml:"name,attr"`
			Value string `xml:"value"`
		} `xml:"data"`
	}
	require.NoError(t, xml.Unmarshal([]byte(doc), &parsed))
	require.Len(t, parsed.Data, 2)
	assert.Equal(t, "about", parsed.Data[0].Name)
	assert.Equal(t, "Line one\nLine two", parsed.Data[0].Value)
	assert.Equal(t, "Main <window>", parsed.Data[1].Value)
}

func TestWriteResxEmpty(t *testing.T) {
	var b strings.Builder
	require.NoError(t, NewStringTable().WriteResx(&b))
	assert.NotContains(t, b.String(), "<data ")
	require.NoError(t, xml.Unmarshal([]byte(b.String()), new(struct{})))
}
