package tokencapture

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Pattern is a compiled browser match pattern such as
// "https://*.vbee.vn/api/*". The scheme may be "*" (http or https), the host
// may start with "*." to include subdomains, and "*" in the path matches any
// run of characters including the query string.
type Pattern struct {
	raw string
	re  *regexp.Regexp
}

func CompilePattern(raw string) (*Pattern, error) {
	scheme, rest, ok := strings.Cut(strings.TrimSpace(raw), "://")
	if !ok {
		return nil, fmt.Errorf("match pattern %q: missing scheme", raw)
	}
	host, path, _ := strings.Cut(rest, "/")
	path = "/" + path
	if host == "" {
		return nil, fmt.Errorf("match pattern %q: missing host", raw)
	}

	var b strings.Builder
	b.WriteString("^")
	switch scheme {
	case "*":
		b.WriteString("https?")
	case "http", "https":
		b.WriteString(scheme)
	default:
		return nil, fmt.Errorf("match pattern %q: unsupported scheme %q", raw, scheme)
	}
	b.WriteString("://")
	switch {
	case host == "*":
		b.WriteString(`[^/]+`)
	case strings.HasPrefix(host, "*."):
		b.WriteString(`(?:[^/]+\.)?`)
		b.WriteString(regexp.QuoteMeta(host[2:]))
	case strings.Contains(host, "*"):
		return nil, fmt.Errorf("match pattern %q: wildcard must lead the host", raw)
	default:
		b.WriteString(regexp.QuoteMeta(host))
	}
	b.WriteString(`(?::\d+)?`)
	for i, part := range strings.Split(path, "*") {
		if i > 0 {
			b.WriteString(".*")
		}
		b.WriteString(regexp.QuoteMeta(part))
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("match pattern %q: %w", raw, err)
	}
	return &Pattern{raw: raw, re: re}, nil
}

func (p *Pattern) String() string { return p.raw }

// Match reports whether u falls under the pattern.
func (p *Pattern) Match(u *url.URL) bool {
	if u == nil {
		return false
	}
	target := strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + u.EscapedPath()
	if u.RawQuery != "" {
		target += "?" + u.RawQuery
	}
	return p.re.MatchString(target)
}
