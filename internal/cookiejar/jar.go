// Package cookiejar keeps backend session cookies per domain.
package cookiejar

import (
	"strings"
	"sync"
)

// Jar accumulates Set-Cookie values into a per-domain name->value table.
// The zero value is not usable; construct with New.
type Jar struct {
	mu      sync.RWMutex
	domains map[string]*domainCookies
}

type domainCookies struct {
	names  []string // first-insertion order
	values map[string]string
}

// New returns an empty jar.
func New() *Jar {
	return &Jar{domains: make(map[string]*domainCookies)}
}

// Record stores the name=value pair of every header for domain, ignoring cookie
// attributes. It returns how many malformed entries were skipped.
func (j *Jar) Record(headers []string, domain string) int {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, skipped := j.record(headers, domain)
	return skipped
}

// RecordHeader stores headers like Record and returns the Cookie header made of this
// response's own pairs only. Cookies recorded for domain by other logins never leak into
// the result.
func (j *Jar) RecordHeader(headers []string, domain string) string {
	j.mu.Lock()
	defer j.mu.Unlock()

	own, _ := j.record(headers, domain)
	return own.header()
}

// record merges headers into the domain table and returns the pairs they carried.
// Callers hold j.mu.
func (j *Jar) record(headers []string, domain string) (*domainCookies, int) {
	own := &domainCookies{values: make(map[string]string)}
	skipped := 0
	for _, h := range headers {
		name, value, ok := parsePair(h)
		if !ok {
			skipped++
			continue
		}
		dc, ok := j.domains[domain]
		if !ok {
			dc = &domainCookies{values: make(map[string]string)}
			j.domains[domain] = dc
		}
		dc.set(name, value)
		own.set(name, value)
	}
	return own, skipped
}

func (dc *domainCookies) set(name, value string) {
	if _, exists := dc.values[name]; !exists {
		dc.names = append(dc.names, name)
	}
	dc.values[name] = value
}

func (dc *domainCookies) header() string {
	pairs := make([]string, 0, len(dc.names))
	for _, name := range dc.names {
		pairs = append(pairs, name+"="+dc.values[name])
	}
	return strings.Join(pairs, "; ")
}

// HeaderFor renders the Cookie header value for domain, or "" when none is stored.
func (j *Jar) HeaderFor(domain string) string {
	j.mu.RLock()
	defer j.mu.RUnlock()

	dc, ok := j.domains[domain]
	if !ok {
		return ""
	}
	return dc.header()
}

// Clear removes all cookies stored for domain.
func (j *Jar) Clear(domain string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.domains, domain)
}

// ClearAll empties the jar.
func (j *Jar) ClearAll() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.domains = make(map[string]*domainCookies)
}

func parsePair(header string) (string, string, bool) {
	pair, _, _ := strings.Cut(header, ";")
	name, value, ok := strings.Cut(pair, "=")
	if !ok {
		return "", "", false
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", "", false
	}
	value = strings.TrimSpace(value)
	if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
		value = value[1 : len(value)-1]
	}
	return name, value, true
}
