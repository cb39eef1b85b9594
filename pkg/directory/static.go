package directory

import (
	"context"
	"fmt"
	"sort"
)

// StaticClient is a Client over a fixed, configuration-seeded fleet. It is the
// implementation used when the operator lists endpoints directly instead of
// wiring a live directory query backend, and it backs most tests.
type StaticClient struct {
	byDomain map[string][]Endpoint
	metadata map[string]*DomainInfo
}

// NewStaticClient builds a StaticClient from a domain -> hosts mapping.
func NewStaticClient(fleet map[string][]string) *StaticClient {
	byDomain := make(map[string][]Endpoint, len(fleet))
	for domain, hosts := range fleet {
		eps := make([]Endpoint, 0, len(hosts))
		for _, h := range hosts {
			eps = append(eps, Endpoint{Host: h, Domain: domain})
		}
		byDomain[domain] = eps
	}
	return &StaticClient{byDomain: byDomain, metadata: make(map[string]*DomainInfo)}
}

// WithMetadata attaches domain metadata served by DomainMetadata.
func (c *StaticClient) WithMetadata(domain string, info *DomainInfo) *StaticClient {
	c.metadata[domain] = info
	return c
}

// Domains returns the configured domains in stable order.
func (c *StaticClient) Domains(_ context.Context) ([]string, error) {
	domains := make([]string, 0, len(c.byDomain))
	for d := range c.byDomain {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return domains, nil
}

// Endpoints returns the configured endpoints of one domain.
func (c *StaticClient) Endpoints(_ context.Context, domain string) ([]Endpoint, error) {
	eps, ok := c.byDomain[domain]
	if !ok {
		return nil, fmt.Errorf("unknown domain %q", domain)
	}
	out := make([]Endpoint, len(eps))
	copy(out, eps)
	return out, nil
}

// DomainMetadata returns attached metadata, or a minimal record when none was
// configured.
func (c *StaticClient) DomainMetadata(_ context.Context, domain string) (*DomainInfo, error) {
	if info, ok := c.metadata[domain]; ok {
		return info, nil
	}
	if _, ok := c.byDomain[domain]; !ok {
		return nil, fmt.Errorf("unknown domain %q", domain)
	}
	return &DomainInfo{Name: domain}, nil
}
