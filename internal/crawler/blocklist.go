package crawler

import "strings"

// HostBlocklist drops discovered links whose host matches a configured pattern.
// Patterns are exact hosts ("m.detik.com") or suffix wildcards ("*.detik.net", ".detik.net").
type HostBlocklist struct {
	exact    map[string]struct{}
	suffixes []string
}

// NewHostBlocklist builds a blocklist. It returns nil when no usable pattern is given;
// a nil blocklist blocks nothing.
func NewHostBlocklist(patterns []string) *HostBlocklist {
	bl := &HostBlocklist{
		exact: make(map[string]struct{}),
	}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
			continue
		case strings.HasPrefix(value, "*."):
			bl.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			bl.addSuffix(strings.TrimPrefix(value, "."))
		default:
			bl.exact[value] = struct{}{}
		}
	}
	if len(bl.exact) == 0 && len(bl.suffixes) == 0 {
		return nil
	}
	return bl
}

func (b *HostBlocklist) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range b.suffixes {
		if existing == suffix {
			return
		}
	}
	b.suffixes = append(b.suffixes, suffix)
}

// BlocksHost reports whether host matches an entry.
func (b *HostBlocklist) BlocksHost(host string) bool {
	if b == nil {
		return false
	}
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" {
		return false
	}
	if _, ok := b.exact[host]; ok {
		return true
	}
	for _, suffix := range b.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// BlocksURL reports whether the host of rawURL is blocked.
func (b *HostBlocklist) BlocksURL(rawURL string) bool {
	if b == nil {
		return false
	}
	return b.BlocksHost(Hostname(rawURL))
}
