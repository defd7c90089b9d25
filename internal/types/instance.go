// Package types defines the node's core data model (locally advertised
// instances, the fingerprint used to key the cache and tracker, and the
// response payload learned from the wire) plus the mapping between DNS
// resource records (github.com/miekg/dns) and that model.
package types

import (
	"strings"

	"github.com/pebblemesh/beacon/internal/errors"
)

// Instance is a locally-advertised service instance: a fully-qualified
// name of the form "<label>._service._tcp|_udp.local", a port, and
// metadata. The registry keys instances by Name alone, so it cannot hold
// two entries for the same fully-qualified name.
type Instance struct {
	Name     string
	Port     int
	Metadata map[string]string
}

// ServiceType returns the suffix after the instance's first label, e.g.
// "printer._homecast._tcp.local" → "_homecast._tcp.local".
func (i Instance) ServiceType() string {
	_, rest, ok := strings.Cut(i.Name, ".")
	if !ok {
		return ""
	}
	return rest
}

// Validate checks i.Name against the exact grammar required of an
// instance name and i.Port against the valid port range. Returns a
// *errors.ValidationError on the first failure found.
func Validate(i Instance) error {
	if err := ValidateInstanceName(i.Name); err != nil {
		return err
	}
	return ValidatePort(i.Port)
}

// ValidateInstanceName enforces:
//   - non-empty, no whitespace, contains a dot
//   - exactly 4 dot-separated parts: <label>.<service>.<proto>.<domain>
//   - label in [a-z0-9-]
//   - service starts with "_" and has a non-empty [a-z0-9-]+ suffix
//   - proto is "_tcp" or "_udp"
//   - domain is exactly "local"
//   - port range is validated separately by ValidatePort
func ValidateInstanceName(name string) error {
	if name == "" {
		return &errors.ValidationError{Field: "name", Value: name, Message: "name cannot be empty"}
	}
	if strings.ContainsAny(name, " \t\n\r") {
		return &errors.ValidationError{Field: "name", Value: name, Message: "name must not contain whitespace"}
	}
	if !strings.Contains(name, ".") {
		return &errors.ValidationError{Field: "name", Value: name, Message: "name must contain at least one dot"}
	}

	parts := strings.Split(name, ".")
	if len(parts) != 4 {
		return &errors.ValidationError{
			Field:   "name",
			Value:   name,
			Message: "name must have exactly 4 dot-separated parts: <label>._service._tcp|_udp.local",
		}
	}

	label, service, proto, domain := parts[0], parts[1], parts[2], parts[3]

	if !isLabelCharset(label) || label == "" {
		return &errors.ValidationError{Field: "name", Value: name, Message: "label must be non-empty and match [a-z0-9-]"}
	}
	if !strings.HasPrefix(service, "_") || !isLabelCharset(service[1:]) || service[1:] == "" {
		return &errors.ValidationError{Field: "name", Value: name, Message: "service must be \"_\" followed by a non-empty [a-z0-9-]+ suffix"}
	}
	if proto != "_tcp" && proto != "_udp" {
		return &errors.ValidationError{Field: "name", Value: name, Message: "protocol must be \"_tcp\" or \"_udp\""}
	}
	if domain != "local" {
		return &errors.ValidationError{Field: "name", Value: name, Message: "domain must be \"local\""}
	}

	return nil
}

// ValidatePort reports whether port is in the valid range 1..=65535.
func ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return &errors.ValidationError{Field: "port", Value: port, Message: "port must be in range 1..=65535"}
	}
	return nil
}

func isLabelCharset(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-':
		default:
			return false
		}
	}
	return true
}
