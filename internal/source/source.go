// Package source decides which model hosts downloads may come from and how a
// failed download is redirected to the provider's mirror.
package source

import (
	"errors"
	"net/url"
	"strings"
)

// TrustedDomains are the registered base domains downloads are accepted from.
var TrustedDomains = []string{
	"huggingface.co",
	"hf-mirror.com",
	"modelscope.cn",
}

// mirrors maps a base domain to its alternate. Kept symmetric.
var mirrors = map[string]string{
	"huggingface.co": "hf-mirror.com",
	"hf-mirror.com":  "huggingface.co",
}

var ErrNoFileName = errors.New("url has no file name")

// IsTrusted reports whether the URL host is one of TrustedDomains or a
// dot-subdomain of one. Anything that does not parse is untrusted.
func IsTrusted(rawURL string) bool {
	host, ok := hostOf(rawURL)
	if !ok {
		return false
	}

	for _, domain := range TrustedDomains {
		if matchesDomain(host, domain) {
			return true
		}
	}

	return false
}

// MirrorFor returns the mirror entry for the URL host. ok is false when the
// host has no mirror or the mirror would point back at the same domain.
func MirrorFor(rawURL string) (from, to string, ok bool) {
	host, ok := hostOf(rawURL)
	if !ok {
		return "", "", false
	}

	for domain, alt := range mirrors {
		if matchesDomain(host, domain) && alt != domain {
			return domain, alt, true
		}
	}

	return "", "", false
}

// RewriteHost swaps the from domain in the URL host for to. Subdomain
// prefixes, port, path, query and fragment are kept byte for byte. URLs whose
// host does not match from are returned unchanged.
func RewriteHost(rawURL, from, to string) string {
	host, ok := hostOf(rawURL)
	if !ok || !matchesDomain(host, from) {
		return rawURL
	}

	schemeEnd := strings.Index(rawURL, "://")
	if schemeEnd < 0 {
		return rawURL
	}

	authStart := schemeEnd + len("://")

	authEnd := len(rawURL)
	if i := strings.IndexAny(rawURL[authStart:], "/?#"); i >= 0 {
		authEnd = authStart + i
	}

	authority := rawURL[authStart:authEnd]

	hostStart := 0
	if at := strings.LastIndex(authority, "@"); at >= 0 {
		hostStart = at + 1
	}

	hostPort := authority[hostStart:]

	hostEnd := len(hostPort)
	if colon := strings.LastIndex(hostPort, ":"); colon >= 0 && !strings.Contains(hostPort[colon:], "]") {
		hostEnd = colon
	}

	hostname := hostPort[:hostEnd]
	if len(hostname) < len(from) || !strings.EqualFold(hostname[len(hostname)-len(from):], from) {
		return rawURL
	}

	newHost := hostname[:len(hostname)-len(from)] + to
	newAuthority := authority[:hostStart] + newHost + hostPort[hostEnd:]

	return rawURL[:authStart] + newAuthority + rawURL[authEnd:]
}

// FileName returns the last path segment of the URL with any query or
// fragment removed.
func FileName(rawURL string) (string, error) {
	s := rawURL
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}

	name := s[strings.LastIndex(s, "/")+1:]
	if name == "" || name == "." || name == ".." || strings.Contains(name, `\`) {
		return "", ErrNoFileName
	}

	return name, nil
}

func hostOf(rawURL string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", false
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", false
	}

	return host, true
}

func matchesDomain(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}
