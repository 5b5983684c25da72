package crawler

import (
	"strings"

	"github.com/gorilla/css/scanner"
)

// rewriteCSSURLs replaces each url(...) reference in css for which replace
// returns ok. The input comes back untouched when it does not tokenize
// cleanly.
func rewriteCSSURLs(css string, replace func(ref string) (string, bool)) string {
	var out, echo strings.Builder
	changed := false
	sc := scanner.New(css)
	for {
		tok := sc.Next()
		switch tok.Type {
		case scanner.TokenEOF:
			if !changed || echo.String() != css {
				return css
			}
			return out.String()
		case scanner.TokenError:
			return css
		}
		echo.WriteString(tok.Value)
		if tok.Type == scanner.TokenURI {
			if local, ok := replace(cssURLValue(tok.Value)); ok {
				out.WriteString("url(" + local + ")")
				changed = true
				continue
			}
		}
		out.WriteString(tok.Value)
	}
}

func cssURLValue(token string) string {
	value := strings.TrimPrefix(token, "url(")
	value = strings.TrimSuffix(value, ")")
	value = strings.TrimSpace(value)
	value = strings.Trim(value, `"`)
	value = strings.Trim(value, `'`)
	return strings.TrimSpace(value)
}
