package core

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// PermissionMode enumerates the access a permission grants to its holder.
type PermissionMode string

const (
	// PermissionReadOnly allows reading shared context fields.
	PermissionReadOnly PermissionMode = "readonly"
	// PermissionWriteOnly allows updating but not reading shared fields.
	PermissionWriteOnly PermissionMode = "writeonly"
	// PermissionReadWrite allows both reading and updating shared fields.
	PermissionReadWrite PermissionMode = "readwrite"
	// PermissionNone revokes access without removing the grant record.
	PermissionNone PermissionMode = "none"
)

// Valid reports whether the mode is one of the defined permission modes.
func (m PermissionMode) Valid() bool {
	switch m {
	case PermissionReadOnly, PermissionWriteOnly, PermissionReadWrite, PermissionNone:
		return true
	default:
		return false
	}
}

// CanRead reports whether the mode grants read access.
func (m PermissionMode) CanRead() bool {
	return m == PermissionReadOnly || m == PermissionReadWrite
}

// CanWrite reports whether the mode grants write access.
func (m PermissionMode) CanWrite() bool {
	return m == PermissionWriteOnly || m == PermissionReadWrite
}

// ConditionType enumerates supported access condition predicates.
type ConditionType string

const (
	// ConditionEquals passes when the field value equals the condition value.
	ConditionEquals ConditionType = "equals"
	// ConditionContains passes when the field's string form contains the
	// condition value's string form.
	ConditionContains ConditionType = "contains"
	// ConditionRegex passes when the field's string form matches the pattern.
	ConditionRegex ConditionType = "regex"
	// ConditionCustom delegates to the caller-supplied predicate.
	ConditionCustom ConditionType = "custom"
)

// AccessCondition is an additional predicate a requester must satisfy before
// a shared context may be read. Conditions are evaluated against the shared
// context's fields at access time and are AND-combined.
type AccessCondition struct {
	Type      ConditionType  `json:"type"`
	FieldPath string         `json:"field_path"`
	Value     any            `json:"value,omitempty"`
	Predicate func(any) bool `json:"-"`
}

// Evaluate checks the condition against the provided field map.
func (c AccessCondition) Evaluate(fields map[string]any) (bool, error) {
	value, ok := LookupField(fields, c.FieldPath)
	switch c.Type {
	case ConditionEquals:
		return ok && CanonicalValue(value) == CanonicalValue(c.Value), nil
	case ConditionContains:
		if !ok {
			return false, nil
		}
		return strings.Contains(fmt.Sprintf("%v", value), fmt.Sprintf("%v", c.Value)), nil
	case ConditionRegex:
		if !ok {
			return false, nil
		}
		pattern, isStr := c.Value.(string)
		if !isStr {
			return false, fmt.Errorf("regex condition requires a string pattern, got %T", c.Value)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, fmt.Errorf("compile condition pattern: %w", err)
		}
		return re.MatchString(fmt.Sprintf("%v", value)), nil
	case ConditionCustom:
		if c.Predicate == nil {
			return false, fmt.Errorf("custom condition requires a predicate")
		}
		return c.Predicate(value), nil
	default:
		return false, fmt.Errorf("unknown condition type %q", c.Type)
	}
}

// Permission scopes access to a shared context. AgentID names the granting
// agent (the share source); sharing validates it against the caller. A
// permission may carry field allow/deny lists, additional access conditions
// and an expiry after which it is garbage-collected.
type Permission struct {
	AgentID       string            `json:"agent_id"`
	Mode          PermissionMode    `json:"mode"`
	AllowedFields []string          `json:"allowed_fields,omitempty"`
	DeniedFields  []string          `json:"denied_fields,omitempty"`
	Conditions    []AccessCondition `json:"conditions,omitempty"`
	ExpiresAt     *time.Time        `json:"expires_at,omitempty"`
	GrantedAt     time.Time         `json:"granted_at"`
}

// Expired reports whether the permission has passed its expiry.
func (p Permission) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && now.After(*p.ExpiresAt)
}

// AllowsField reports whether the permission exposes the given field path,
// applying the deny list first, then the allow list (empty allow list means
// every non-denied field is visible).
func (p Permission) AllowsField(path string) bool {
	for _, denied := range p.DeniedFields {
		if denied == path {
			return false
		}
	}
	if len(p.AllowedFields) == 0 {
		return true
	}
	for _, allowed := range p.AllowedFields {
		if allowed == path {
			return true
		}
	}
	return false
}

// Validate checks structural validity: a holder agent and a defined mode.
func (p Permission) Validate() error {
	if p.AgentID == "" {
		return fmt.Errorf("permission missing agent id")
	}
	if !p.Mode.Valid() {
		return fmt.Errorf("invalid permission mode %q", p.Mode)
	}
	return nil
}

// Clone returns a deep copy of the permission.
func (p Permission) Clone() Permission {
	clone := p
	clone.AllowedFields = append([]string(nil), p.AllowedFields...)
	clone.DeniedFields = append([]string(nil), p.DeniedFields...)
	clone.Conditions = append([]AccessCondition(nil), p.Conditions...)
	if p.ExpiresAt != nil {
		t := *p.ExpiresAt
		clone.ExpiresAt = &t
	}
	return clone
}
