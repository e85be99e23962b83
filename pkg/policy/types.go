package policy

import (
	"time"

	"github.com/openfroyo/herd/pkg/inventory"
)

// Policy is a named Rego module that decides whether a host is selected.
//
// The module's package document is read after evaluation. A host passes the
// policy when "allow" is true or undefined and the "deny" set is empty.
// Deny entries are strings or objects with a "message" field.
type Policy struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Rego        string `json:"rego"`

	// Disabled policies are kept compiled but skipped by Evaluate.
	Enabled bool `json:"enabled"`

	Tags     []string               `json:"tags,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PolicyBundle groups policies shipped together in one JSON file.
type PolicyBundle struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Policies    []Policy `json:"policies"`
}

// HostInput is the document a policy sees as "input".
type HostInput struct {
	Name     string         `json:"name"`
	Hostname *string        `json:"hostname,omitempty"`
	Port     *int           `json:"port,omitempty"`
	Username *string        `json:"username,omitempty"`
	Platform *string        `json:"platform,omitempty"`
	Groups   []string       `json:"groups"`
	Data     map[string]any `json:"data"`
}

// NewHostInput builds the policy input for h from its resolved attributes.
// The password is never exposed.
func NewHostInput(h *inventory.Host) *HostInput {
	in := &HostInput{
		Name:   h.Name(),
		Groups: h.Groups().Names(),
		Data:   h.Items(),
	}
	if v, ok := h.Field(inventory.FieldHostname); ok {
		s := v.(string)
		in.Hostname = &s
	}
	if v, ok := h.Field(inventory.FieldPort); ok {
		p := v.(int)
		in.Port = &p
	}
	if v, ok := h.Field(inventory.FieldUsername); ok {
		s := v.(string)
		in.Username = &s
	}
	if v, ok := h.Field(inventory.FieldPlatform); ok {
		s := v.(string)
		in.Platform = &s
	}
	return in
}

// Decision is the outcome of evaluating every enabled policy for one host.
type Decision struct {
	Host    string `json:"host"`
	Allowed bool   `json:"allowed"`

	// Reasons are deny messages prefixed with "<policy>: ".
	Reasons           []string `json:"reasons,omitempty"`
	EvaluatedPolicies []string `json:"evaluated_policies"`
}
