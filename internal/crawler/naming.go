package crawler

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"unicode/utf8"
)

const (
	maxFilenameRunes  = 100
	keptFilenameRunes = 50
)

var unsafeFilenameChars = strings.NewReplacer(
	`\`, "", "/", "", "*", "", "?", "", ":", "", `"`, "", "<", "", ">", "", "|", "",
)

// Namer derives safe local filenames from URLs. Names that have to be
// synthesized are memoized per URL so repeated lookups within a run agree.
type Namer struct {
	clock Clock

	mu        sync.Mutex
	generated map[string]string
	lastStamp int64
}

// NewNamer builds a Namer whose synthesized names are stamped from clock.
func NewNamer(clock Clock) *Namer {
	return &Namer{clock: clock, generated: make(map[string]string)}
}

// NameFor returns the local filename for rawURL: the percent-decoded last
// path segment with reserved characters removed, or file_<unixtime>.dat
// when that segment is empty or has no extension.
func (n *Namer) NameFor(rawURL string) string {
	name := lastSegment(rawURL)
	if name == "" || !strings.Contains(name, ".") {
		return n.synthesize(rawURL)
	}
	name = unsafeFilenameChars.Replace(name)
	if utf8.RuneCountInString(name) > maxFilenameRunes {
		runes := []rune(name)
		name = string(runes[len(runes)-keptFilenameRunes:])
	}
	return name
}

// PageName is NameFor with an .html suffix appended when missing.
func (n *Namer) PageName(rawURL string) string {
	name := n.NameFor(rawURL)
	if !strings.HasSuffix(name, ".html") {
		name += ".html"
	}
	return name
}

func (n *Namer) synthesize(rawURL string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if name, ok := n.generated[rawURL]; ok {
		return name
	}
	stamp := n.clock.Now().Unix()
	if stamp <= n.lastStamp {
		stamp = n.lastStamp + 1
	}
	n.lastStamp = stamp
	name := fmt.Sprintf("file_%d.dat", stamp)
	n.generated[rawURL] = name
	return name
}

func lastSegment(rawURL string) string {
	escaped := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		escaped = u.EscapedPath()
	} else if i := strings.IndexAny(escaped, "?#"); i >= 0 {
		escaped = escaped[:i]
	}
	segment := escaped[strings.LastIndex(escaped, "/")+1:]
	if decoded, err := url.PathUnescape(segment); err == nil {
		return decoded
	}
	return segment
}
