package directory

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/fleetaudit/fleetaudit/pkg/netutil"
)

// Registry enumerates the set of endpoints to audit, grouped by logical
// domain. It owns no state beyond its Client; enumeration is performed fresh
// per run so the target set reflects the directory at run start.
type Registry struct {
	client Client
}

// NewRegistry creates a Registry over the given directory client.
func NewRegistry(client Client) *Registry {
	return &Registry{client: client}
}

// Enumerate returns exactly one Endpoint per discovered endpoint across all
// domains, deduplicated by canonical host name. A failure to list domains or
// any domain's endpoints is wrapped in EnumerationError: the audit cannot
// proceed against an unknown fleet, so this is fatal to the run.
func (r *Registry) Enumerate(ctx context.Context) ([]Endpoint, error) {
	logger := log.With().Str("component", "registry").Logger()

	domains, err := r.client.Domains(ctx)
	if err != nil {
		return nil, &EnumerationError{Err: err}
	}
	if len(domains) == 0 {
		logger.Warn().Msg("Directory reported no domains in scope")
	}

	var endpoints []Endpoint
	seen := make(map[string]struct{})

	for _, domain := range domains {
		eps, err := r.client.Endpoints(ctx, domain)
		if err != nil {
			return nil, &EnumerationError{Err: err}
		}
		for _, ep := range eps {
			key := netutil.CanonicalHost(ep.Host)
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				logger.Debug().Str("host", ep.Host).Str("domain", domain).Msg("Skipping duplicate endpoint")
				continue
			}
			seen[key] = struct{}{}
			ep.Host = key
			if ep.Domain == "" {
				ep.Domain = domain
			}
			endpoints = append(endpoints, ep)
		}
		logger.Debug().Str("domain", domain).Int("endpoints", len(eps)).Msg("Enumerated domain")
	}

	logger.Info().Int("domains", len(domains)).Int("endpoints", len(endpoints)).Msg("Target enumeration completed")
	return endpoints, nil
}

// Metadata fetches domain metadata for each named domain. Metadata failures
// are not fatal; missing entries are simply absent from the result.
func (r *Registry) Metadata(ctx context.Context, domains []string) map[string]*DomainInfo {
	out := make(map[string]*DomainInfo, len(domains))
	for _, domain := range domains {
		info, err := r.client.DomainMetadata(ctx, domain)
		if err != nil {
			log.Debug().Str("component", "registry").Str("domain", domain).Err(err).Msg("Domain metadata unavailable")
			continue
		}
		out[domain] = info
	}
	return out
}
