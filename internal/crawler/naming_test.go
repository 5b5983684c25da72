package crawler

import (
	"strconv"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNamerNameFor(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("a", 120) + ".png"
	tests := []struct {
		name string
		url  string
		want string
	}{
		{name: "plain", url: "https://site.test/img/logo.png", want: "logo.png"},
		{name: "query ignored", url: "https://site.test/img/logo.png?v=3#top", want: "logo.png"},
		{name: "percent decoded", url: "https://site.test/js/my%20app.js", want: "my app.js"},
		{name: "reserved stripped", url: "https://site.test/a%3Fb%2A%7Cc.png", want: "abc.png"},
		{name: "quotes and angles", url: "https://site.test/%22x%3C%3E.css", want: "x.css"},
		{name: "truncated", url: "https://site.test/" + long, want: long[len(long)-50:]},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			namer := NewNamer(fixedClock{t: testNow})
			assert.Equal(t, tc.want, namer.NameFor(tc.url))
		})
	}
}

func TestNamerTruncatesOnRunes(t *testing.T) {
	t.Parallel()

	namer := NewNamer(fixedClock{t: testNow})
	name := namer.NameFor("https://site.test/" + strings.Repeat("ü", 110) + ".jpg")
	assert.Equal(t, 50, utf8.RuneCountInString(name))
	assert.True(t, strings.HasSuffix(name, ".jpg"))
}

func TestNamerSynthesizesStableNames(t *testing.T) {
	t.Parallel()

	namer := NewNamer(fixedClock{t: testNow})
	stamp := testNow.Unix()

	first := namer.NameFor("https://site.test/")
	assert.Equal(t, "file_1709294400.dat", first)
	assert.Equal(t, first, namer.NameFor("https://site.test/"), "same url must map to the same name")

	second := namer.NameFor("https://site.test/articles/noext")
	assert.NotEqual(t, first, second)
	assert.Equal(t, "file_"+strconv.FormatInt(stamp+1, 10)+".dat", second)
}

func TestNamerPageName(t *testing.T) {
	t.Parallel()

	namer := NewNamer(fixedClock{t: testNow})
	assert.Equal(t, "about.html", namer.PageName("https://site.test/about.html"))
	assert.Equal(t, "index.php.html", namer.PageName("https://site.test/index.php"))

	root := namer.PageName("https://site.test/")
	require.True(t, strings.HasPrefix(root, "file_"))
	assert.True(t, strings.HasSuffix(root, ".dat.html"))
}
