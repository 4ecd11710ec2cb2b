package httpx

import (
	"net/http"
	"net/url"
	"sort"
	"strings"

	clierr "github.com/ggonzalez94/semi-cli/internal/errors"
)

// Resolver maps upstream base URLs onto replacement bases, longest prefix first.
// It is injected per client; nothing global is patched.
type Resolver struct {
	rules []rewriteRule
}

type rewriteRule struct {
	from string
	to   string
}

func NewResolver(rewrites map[string]string) *Resolver {
	r := &Resolver{}
	for from, to := range rewrites {
		from = strings.TrimRight(strings.TrimSpace(from), "/")
		to = strings.TrimRight(strings.TrimSpace(to), "/")
		if from == "" || to == "" {
			continue
		}
		r.rules = append(r.rules, rewriteRule{from: from, to: to})
	}
	sort.Slice(r.rules, func(i, j int) bool {
		if len(r.rules[i].from) != len(r.rules[j].from) {
			return len(r.rules[i].from) > len(r.rules[j].from)
		}
		return r.rules[i].from < r.rules[j].from
	})
	return r
}

// Resolve returns raw with the first matching base replaced. Unmatched URLs pass through.
func (r *Resolver) Resolve(raw string) string {
	if r == nil {
		return raw
	}
	for _, rule := range r.rules {
		if raw == rule.from {
			return rule.to
		}
		if strings.HasPrefix(raw, rule.from) {
			rest := raw[len(rule.from):]
			if strings.HasPrefix(rest, "/") || strings.HasPrefix(rest, "?") {
				return rule.to + rest
			}
		}
	}
	return raw
}

func (r *Resolver) Rewrite(req *http.Request) error {
	if r == nil || len(r.rules) == 0 {
		return nil
	}
	original := req.URL.String()
	resolved := r.Resolve(original)
	if resolved == original {
		return nil
	}
	u, err := url.Parse(resolved)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "rewrite request url", err)
	}
	req.URL = u
	req.Host = u.Host
	return nil
}
