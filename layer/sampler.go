// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package layer

import (
	"fmt"
	"math"
)

// SamplerKind identifies the sampling strategy of a [Sampler].
type SamplerKind int

const (
	SamplerUnset SamplerKind = iota
	SamplerAlwaysOn
	SamplerAlwaysOff
	SamplerRatio
)

// Sampler decides which traces are recorded. The zero value is unset,
// which samples everything.
type Sampler struct {
	kind  SamplerKind
	ratio float64
}

// AlwaysOn samples every trace.
func AlwaysOn() Sampler {
	return Sampler{kind: SamplerAlwaysOn}
}

// AlwaysOff samples nothing.
func AlwaysOff() Sampler {
	return Sampler{kind: SamplerAlwaysOff}
}

// SampleAll maps true to [AlwaysOn] and false to [AlwaysOff].
func SampleAll(all bool) Sampler {
	if all {
		return AlwaysOn()
	}
	return AlwaysOff()
}

// InvalidRatioError is returned for ratios outside of [0, 1].
type InvalidRatioError struct {
	Ratio float64
}

// Error implements the [builtin.error] interface.
func (e InvalidRatioError) Error() string {
	return fmt.Sprintf("sampling ratio must be within [0, 1]: %v", e.Ratio)
}

// SampleRatio samples the given fraction of traces, by trace id.
func SampleRatio(ratio float64) (Sampler, error) {
	s := Sampler{kind: SamplerRatio, ratio: ratio}
	return s, s.Validate()
}

// Kind returns the sampling strategy.
func (s Sampler) Kind() SamplerKind {
	return s.kind
}

// Ratio returns the sampled fraction. It is only meaningful for [SamplerRatio].
func (s Sampler) Ratio() float64 {
	return s.ratio
}

// Validate implements the same contract as [Config.Validate].
func (s Sampler) Validate() error {
	if s.kind != SamplerRatio {
		return nil
	}
	if math.IsNaN(s.ratio) || s.ratio < 0 || s.ratio > 1 {
		return ConfigError{Field: "sampler", Cause: InvalidRatioError{Ratio: s.ratio}}
	}
	return nil
}
