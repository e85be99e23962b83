package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies. They are disabled until
// enabled by name.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		requireHostnamePolicy(),
		requirePlatformPolicy(),
		maintenancePolicy(),
	}
}

// requireHostnamePolicy skips hosts that cannot be reached because no
// hostname resolves for them.
func requireHostnamePolicy() Policy {
	return Policy{
		Name:        "require-hostname",
		Description: "Selects only hosts with a resolved hostname",
		Tags:        []string{"connectivity"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package herd.builtin.hostname

import rego.v1

deny contains msg if {
	not input.hostname
	msg := sprintf("host %s has no hostname", [input.name])
}

deny contains msg if {
	input.hostname == ""
	msg := sprintf("host %s has an empty hostname", [input.name])
}
`,
	}
}

// requirePlatformPolicy skips hosts whose platform is unknown.
func requirePlatformPolicy() Policy {
	return Policy{
		Name:        "require-platform",
		Description: "Selects only hosts with a resolved platform",
		Tags:        []string{"connectivity"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package herd.builtin.platform

import rego.v1

deny contains msg if {
	not input.platform
	msg := sprintf("host %s has no platform", [input.name])
}
`,
	}
}

// maintenancePolicy skips hosts flagged for maintenance in their data.
func maintenancePolicy() Policy {
	return Policy{
		Name:        "skip-maintenance",
		Description: "Skips hosts whose data sets maintenance to true",
		Tags:        []string{"operations"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package herd.builtin.maintenance

import rego.v1

deny contains msg if {
	input.data.maintenance == true
	msg := sprintf("host %s is in maintenance", [input.name])
}
`,
	}
}
