package probes

import (
	"context"

	"github.com/fleetaudit/fleetaudit/pkg/bounded"
	"github.com/fleetaudit/fleetaudit/pkg/engine"
)

// SecurityProbeName is the registered name of the security posture probe.
const SecurityProbeName = "security"

const (
	FieldSMBv1       = "security.smbv1"
	FieldLDAPSigning = "security.ldap_signing"
)

const (
	smbv1Key      = `HKLM\SYSTEM\CurrentControlSet\Services\LanmanServer\Parameters`
	smbv1Value    = "SMB1"
	ldapSignKey   = `HKLM\SYSTEM\CurrentControlSet\Services\NTDS\Parameters`
	ldapSignValue = "LDAPServerIntegrity"
)

// SecurityProbe reads the registry settings behind two hardening checks:
// whether the legacy SMBv1 protocol is still enabled and whether LDAP
// signing is required. An absent SMB1 value means the protocol default
// applies, which counts as enabled on older server builds.
type SecurityProbe struct {
	meta engine.ProbeMetadata
}

func newSecurityProbe() *SecurityProbe {
	return &SecurityProbe{
		meta: engine.ProbeMetadata{
			Name:          SecurityProbeName,
			Description:   "Checks SMBv1 and LDAP signing hardening settings.",
			Fields:        []string{FieldSMBv1, FieldLDAPSigning},
			Tags:          []string{"security", "remote"},
			EstimatedCost: 1,
		},
	}
}

// Metadata returns the probe's metadata.
func (p *SecurityProbe) Metadata() engine.ProbeMetadata { return p.meta }

// Init accepts no options.
func (p *SecurityProbe) Init(map[string]any) error { return nil }

func (p *SecurityProbe) Run(ctx context.Context, ec engine.ExecContext, target engine.Target, record *engine.ProbeRecord) {
	record.Set(FieldSMBv1, p.readSetting(ctx, ec, target, smbv1Key, smbv1Value, func(v string) string {
		if v == "0" {
			return "Disabled"
		}
		return "Enabled"
	}))
	record.Set(FieldLDAPSigning, p.readSetting(ctx, ec, target, ldapSignKey, ldapSignValue, func(v string) string {
		if v == "2" {
			return "Required"
		}
		return "Not required"
	}))
}

func (p *SecurityProbe) readSetting(ctx context.Context, ec engine.ExecContext, target engine.Target, key, value string, render func(string) string) engine.ProbeResult {
	res := bounded.RunCtx(ctx, ec.CallTimeout, func() (string, error) {
		return ec.Diag.RegistryValue(ctx, target.Host, key, value)
	})
	if sentinel, bad := resultFromBounded(res); bad {
		return sentinel
	}
	return engine.OKResult(render(res.Value))
}

func init() {
	engine.RegisterProbeFactory(SecurityProbeName, func() engine.Probe { return newSecurityProbe() })
}
