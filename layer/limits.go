// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package layer

import (
	"errors"
	"fmt"
)

// Limit caps how many items of one kind a span may record.
//
// Zero means unset, [Unbounded] removes the cap and any positive value
// is used as is.
type Limit int

// Unbounded disables a limit.
const Unbounded Limit = -1

// ErrInvalidLimit is returned for negative limits other than [Unbounded].
var ErrInvalidLimit = errors.New("limit must be positive or unbounded")

// IsSet reports whether the limit was configured.
func (l Limit) IsSet() bool {
	return l != 0
}

// SpanLimits are the five independent caps applied to every span.
type SpanLimits struct {
	EventsPerSpan      Limit
	AttributesPerSpan  Limit
	LinksPerSpan       Limit
	AttributesPerEvent Limit
	AttributesPerLink  Limit
}

// Validate checks each limit independently.
func (l SpanLimits) Validate() error {
	fields := []struct {
		name  string
		value Limit
	}{
		{"events_per_span", l.EventsPerSpan},
		{"attributes_per_span", l.AttributesPerSpan},
		{"links_per_span", l.LinksPerSpan},
		{"attributes_per_event", l.AttributesPerEvent},
		{"attributes_per_link", l.AttributesPerLink},
	}
	for _, f := range fields {
		if f.value >= Unbounded {
			continue
		}
		return ConfigError{
			Field: "span_limits." + f.name,
			Cause: fmt.Errorf("%w: %d", ErrInvalidLimit, f.value),
		}
	}
	return nil
}
