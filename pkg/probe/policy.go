package probe

import (
	"fmt"
	"net/http"
	"slices"

	"github.com/aretw0/canopy/pkg/domain"
)

// DefaultCriticalThreshold is the status from which an unacceptable response is critical.
const DefaultCriticalThreshold = http.StatusInternalServerError

// Policy is the health contract of one endpoint. Policies are configuration
// data: deployments that never emit standby codes can narrow Acceptable.
type Policy struct {
	Name string `mapstructure:"name" yaml:"name" json:"name"`
	Path string `mapstructure:"path" yaml:"path" json:"path"`
	// Acceptable is the set of statuses treated as alive.
	Acceptable []int `mapstructure:"acceptable" yaml:"acceptable,omitempty" json:"acceptable,omitempty"`
	// AcceptBelow, when positive, accepts every status lower than it.
	AcceptBelow       int            `mapstructure:"accept_below" yaml:"accept_below,omitempty" json:"accept_below,omitempty"`
	CriticalThreshold int            `mapstructure:"critical_threshold" yaml:"critical_threshold,omitempty" json:"critical_threshold,omitempty"`
	StatusLabels      map[int]string `mapstructure:"status_labels" yaml:"status_labels,omitempty" json:"status_labels,omitempty"`
	// RequiredFields must be present in the JSON body of an acceptable response.
	RequiredFields []string `mapstructure:"required_fields" yaml:"required_fields,omitempty" json:"required_fields,omitempty"`
	// ExpectFields must hold exactly the given values.
	ExpectFields map[string]any `mapstructure:"expect_fields" yaml:"expect_fields,omitempty" json:"expect_fields,omitempty"`
}

// Accepts reports whether status is in the acceptable set.
func (p Policy) Accepts(status int) bool {
	if slices.Contains(p.Acceptable, status) {
		return true
	}
	return p.AcceptBelow > 0 && status > 0 && status < p.AcceptBelow
}

func (p Policy) threshold() int {
	if p.CriticalThreshold > 0 {
		return p.CriticalThreshold
	}
	return DefaultCriticalThreshold
}

// HasBodyChecks reports whether the policy asserts on the response body.
func (p Policy) HasBodyChecks() bool {
	return len(p.RequiredFields) > 0 || len(p.ExpectFields) > 0
}

// Validate checks that the policy can classify anything.
func (p Policy) Validate() error {
	if p.Name == "" {
		return &domain.ConfigurationError{Key: "probes", Reason: "policy without a name"}
	}
	if len(p.Acceptable) == 0 && p.AcceptBelow <= 0 {
		return &domain.ConfigurationError{
			Key:    "probes." + p.Name,
			Reason: "either acceptable or accept_below must be set",
		}
	}
	return nil
}

// Classify is a pure function of the status and the policy: an acceptable
// status is healthy; anything else is a failure, and critical when it is at
// or above the policy threshold.
func Classify(status int, p Policy) domain.Classification {
	switch {
	case p.Accepts(status):
		return domain.Healthy
	case status >= p.threshold():
		return domain.CriticalFailure
	default:
		return domain.Failure
	}
}

// Label returns the operational meaning of a status, if the policy names it.
func (p Policy) Label(status int) string {
	if l, ok := p.StatusLabels[status]; ok {
		return l
	}
	return http.StatusText(status)
}

// Policies indexes policies by name.
type Policies map[string]Policy

// Names of the built-in policies.
const (
	VaultHealth       = "vault-health"
	KeycloakDiscovery = "keycloak-discovery"
	GrafanaHealth     = "grafana-health"
	Reachable         = "reachable"
)

// DefaultPolicies returns the built-in health contracts.
func DefaultPolicies() Policies {
	return Policies{
		VaultHealth: {
			Name:       VaultHealth,
			Path:       "/v1/sys/health",
			Acceptable: []int{200, 429, 472, 473},
			StatusLabels: map[int]string{
				200: "active",
				429: "standby",
				472: "recovery",
				473: "performance-standby",
				501: "uninitialized",
				503: "sealed",
			},
			RequiredFields: []string{"initialized", "sealed"},
		},
		KeycloakDiscovery: {
			Name:           KeycloakDiscovery,
			Path:           "/realms/master/.well-known/openid-configuration",
			Acceptable:     []int{200},
			RequiredFields: []string{"issuer"},
		},
		GrafanaHealth: {
			Name:         GrafanaHealth,
			Path:         "/api/health",
			Acceptable:   []int{200},
			ExpectFields: map[string]any{"database": "ok"},
		},
		Reachable: {
			Name:        Reachable,
			Path:        "/",
			AcceptBelow: 500,
		},
	}
}

// Get returns a policy by name.
func (ps Policies) Get(name string) (Policy, error) {
	p, ok := ps[name]
	if !ok {
		return Policy{}, &domain.ConfigurationError{Key: "probes." + name, Reason: "unknown probe policy"}
	}
	return p, nil
}

// Merge returns a copy of ps with overrides replacing policies of the same name.
func (ps Policies) Merge(overrides Policies) Policies {
	out := make(Policies, len(ps)+len(overrides))
	for k, v := range ps {
		out[k] = v
	}
	for k, v := range overrides {
		if v.Name == "" {
			v.Name = k
		}
		out[k] = v
	}
	return out
}

// Validate validates every policy.
func (ps Policies) Validate() error {
	for name, p := range ps {
		if p.Name != name {
			return &domain.ConfigurationError{
				Key:    "probes." + name,
				Reason: fmt.Sprintf("policy is registered as %q but named %q", name, p.Name),
			}
		}
		if err := p.Validate(); err != nil {
			return err
		}
	}
	return nil
}
