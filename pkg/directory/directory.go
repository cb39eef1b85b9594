// Package directory defines the boundary to the directory service being
// audited: the query interface that enumerates endpoints and domain metadata,
// and the remote diagnostic command interface used by probes.
//
// The interfaces are defined here, next to their consumers, to keep the audit
// core free of any concrete protocol dependency and to ease mocking in tests.
// Production deployments plug in their own implementations; StaticClient
// serves fixed fleets described in configuration.
package directory

import (
	"context"
	"fmt"
	"time"
)

// Endpoint describes one directory-service endpoint as enumerated.
type Endpoint struct {
	// Host is the endpoint's name as the directory reports it.
	Host string `json:"host"`

	// Domain is the logical domain the endpoint serves.
	Domain string `json:"domain"`

	// Site is the replication site, when known.
	Site string `json:"site,omitempty"`

	// Roles lists operational roles held by this endpoint, when known.
	Roles []string `json:"roles,omitempty"`
}

// Trust describes a trust relationship of a domain.
type Trust struct {
	Name      string `json:"name"`
	Direction string `json:"direction"` // inbound, outbound, bidirectional
	Type      string `json:"type"`
}

// DomainInfo carries domain-level metadata used to seed probe inputs.
type DomainInfo struct {
	Name            string   `json:"name"`
	ForestRoot      bool     `json:"forest_root"`
	FunctionalLevel string   `json:"functional_level,omitempty"`
	Trusts          []Trust  `json:"trusts,omitempty"`
	Sites           []string `json:"sites,omitempty"`
}

// Client is the directory-service query interface. It returns the list of
// endpoints and their attributes per logical domain, plus domain-level
// metadata. Implementations are expected to be safe for concurrent use.
type Client interface {
	// Domains lists the logical domains in scope for the audit.
	Domains(ctx context.Context) ([]string, error)

	// Endpoints lists the directory-service endpoints of one domain.
	Endpoints(ctx context.Context, domain string) ([]Endpoint, error)

	// DomainMetadata returns trusts, sites, and level information for a domain.
	DomainMetadata(ctx context.Context, domain string) (*DomainInfo, error)
}

// ServiceState is the reported state of an OS service on an endpoint.
type ServiceState string

const (
	ServiceRunning ServiceState = "Running"
	ServiceStopped ServiceState = "Stopped"
	ServiceUnknown ServiceState = "Unknown"
)

// SystemInfo is the subset of OS-level facts probes consume.
type SystemInfo struct {
	BootTime   time.Time
	SystemTime time.Time
	OSVersion  string
}

// ReplicationLink describes one inbound replication partner of an endpoint.
type ReplicationLink struct {
	Partner             string    `json:"partner"`
	LastSuccess         time.Time `json:"last_success"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

// Diag is the remote diagnostic command interface: OS-level checks executed
// against a named endpoint. Implementations may use a local code path when the
// endpoint is the calling host. Every method represents a single blocking,
// point-in-time attempt; callers bound each call's latency themselves.
type Diag interface {
	// ServiceStatus reports the state of a named service.
	ServiceStatus(ctx context.Context, host, service string) (ServiceState, error)

	// PathExists reports whether a path (local or share) exists on the host.
	PathExists(ctx context.Context, host, path string) (bool, error)

	// FreeSpace returns free and total bytes of the volume holding path.
	FreeSpace(ctx context.Context, host, path string) (free, total int64, err error)

	// FileInfo returns size and modification time of a file on the host.
	FileInfo(ctx context.Context, host, path string) (size int64, modTime time.Time, err error)

	// Counter samples a performance counter.
	Counter(ctx context.Context, host, counter string) (float64, error)

	// ConsistencyCheck invokes the endpoint's consistency-check tool for one
	// named test, returning pass/fail and the tool's raw output.
	ConsistencyCheck(ctx context.Context, host, test string) (passed bool, output string, err error)

	// SystemInfo returns boot time, current system time, and OS version.
	SystemInfo(ctx context.Context, host string) (*SystemInfo, error)

	// RegistryValue reads a configuration value from the host.
	RegistryValue(ctx context.Context, host, key, value string) (string, error)

	// ReplicationStatus lists inbound replication links and their health.
	ReplicationStatus(ctx context.Context, host string) ([]ReplicationLink, error)

	// LastBackup returns the time of the most recent directory backup.
	LastBackup(ctx context.Context, host string) (time.Time, error)
}

// EnumerationError wraps a failure of the registry to produce any target list.
// It is the only probe-phase error that aborts a whole run.
type EnumerationError struct {
	Err error
}

func (e *EnumerationError) Error() string {
	return fmt.Sprintf("target enumeration failed: %v", e.Err)
}

func (e *EnumerationError) Unwrap() error { return e.Err }
