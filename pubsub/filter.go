package pubsub

import (
	"regexp"
	"strings"

	"github.com/spf13/cast"

	"github.com/hupe1980/contextmesh/core"
)

// matchesFilters evaluates every subscription filter against the message.
// Filters are AND-combined; an empty filter list matches everything.
func matchesFilters(msg core.PublishedMessage, filters []core.SubscriptionFilter) bool {
	for _, f := range filters {
		if !matchesFilter(msg, f) {
			return false
		}
	}
	return true
}

// matchesFilter resolves the filter field against the payload, then the
// attached context, then the attached update, and applies the predicate. A
// field absent everywhere fails the filter.
func matchesFilter(msg core.PublishedMessage, f core.SubscriptionFilter) bool {
	value, ok := lookupMessageField(msg, f.FieldPath)
	if !ok {
		return false
	}

	switch f.Type {
	case core.FilterEquals:
		return core.CanonicalValue(value) == core.CanonicalValue(f.Value)
	case core.FilterContains:
		return strings.Contains(cast.ToString(value), cast.ToString(f.Value))
	case core.FilterRegex:
		matched, err := regexp.MatchString(cast.ToString(f.Value), cast.ToString(value))
		return err == nil && matched
	case core.FilterRange:
		n, err := cast.ToFloat64E(value)
		if err != nil {
			return false
		}
		if f.Min != nil && n < *f.Min {
			return false
		}
		if f.Max != nil && n > *f.Max {
			return false
		}
		return true
	case core.FilterCustom:
		return f.Predicate != nil && f.Predicate(value)
	default:
		return false
	}
}

func lookupMessageField(msg core.PublishedMessage, path string) (any, bool) {
	if v, ok := core.LookupField(msg.Payload, path); ok {
		return v, true
	}
	if msg.Context != nil {
		if v, ok := core.LookupField(msg.Context.Fields, path); ok {
			return v, true
		}
	}
	if msg.Update != nil && msg.Update.FieldPath == path {
		return msg.Update.NewValue, true
	}
	return nil, false
}
