// Package ipfs maps ipfs:// links onto HTTP gateways.
package ipfs

import (
	"regexp"
	"strings"
)

// DefaultGateway is used by Resolve when no gateway is configured.
const DefaultGateway = "https://ipfs.io"

var (
	httpPattern  = regexp.MustCompile(`(?i)^https?://`)
	ipfsPrefix   = regexp.MustCompile(`(?i)^ipfs://(ipfs/)?`)
	trailingIPFS = regexp.MustCompile(`(?i)/ipfs$`)
)

type Resolver struct {
	gateways []string
}

// NewResolver normalises gateways; the first one is used by Resolve.
func NewResolver(gateways []string) *Resolver {
	out := make([]string, 0, len(gateways))
	for _, g := range gateways {
		if g = normalizeGateway(g); g != "" {
			out = append(out, g)
		}
	}
	if len(out) == 0 {
		out = []string{DefaultGateway}
	}
	return &Resolver{gateways: out}
}

func (r *Resolver) Gateways() []string {
	out := make([]string, len(r.gateways))
	copy(out, r.gateways)
	return out
}

// Resolve returns a loadable URL: http(s) and unknown schemes are returned
// as is, ipfs:// links are placed on the primary gateway.
func (r *Resolver) Resolve(raw string) string {
	if raw == "" {
		return ""
	}
	cid, ok := ipfsPath(raw)
	if !ok {
		return raw
	}
	return r.gateways[0] + "/ipfs/" + cid
}

// Candidates returns every gateway URL for raw, in gateway order, to be tried
// one after another when loading fails.
func (r *Resolver) Candidates(raw string) []string {
	if raw == "" {
		return []string{}
	}
	cid, ok := ipfsPath(raw)
	if !ok {
		return []string{raw}
	}
	out := make([]string, 0, len(r.gateways))
	for _, g := range r.gateways {
		out = append(out, g+"/ipfs/"+cid)
	}
	return out
}

func ipfsPath(raw string) (string, bool) {
	if httpPattern.MatchString(raw) || !ipfsPrefix.MatchString(raw) {
		return "", false
	}
	return ipfsPrefix.ReplaceAllString(raw, ""), true
}

func normalizeGateway(g string) string {
	g = strings.TrimRight(strings.TrimSpace(g), "/")
	return trailingIPFS.ReplaceAllString(g, "")
}
