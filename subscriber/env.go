// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package subscriber

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Environment variables consulted during assembly, in priority order
// within each group.
const (
	FilterEnv   = "SPANBRIDGE_TRACE_FILTER"
	LogLevelEnv = "LOG_LEVEL"

	OtlpTracesEndpointEnv = "OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"
	OtlpEndpointEnv       = "OTEL_EXPORTER_OTLP_ENDPOINT"
	OtlpTracesTimeoutEnv  = "OTEL_EXPORTER_OTLP_TRACES_TIMEOUT"
	OtlpTimeoutEnv        = "OTEL_EXPORTER_OTLP_TIMEOUT"
	OtlpHeadersEnv        = "OTEL_EXPORTER_OTLP_HEADERS"
	OtlpTracesHeadersEnv  = "OTEL_EXPORTER_OTLP_TRACES_HEADERS"
)

const (
	defaultEndpoint = "http://localhost:4317"
	defaultTimeout  = 10 * time.Second
)

const (
	keyFilter         = "filter"
	keyEndpoint       = "otlp_endpoint"
	keyTimeout        = "otlp_timeout"
	keyHeaders        = "otlp_headers"
	keyTracesHeaders  = "otlp_traces_headers"
	keyEventCount     = "span_event_count_limit"
	keyAttrCount      = "span_attribute_count_limit"
	keyLinkCount      = "span_link_count_limit"
	keyEventAttrCount = "event_attribute_count_limit"
	keyLinkAttrCount  = "link_attribute_count_limit"
)

type env struct {
	v *viper.Viper
}

func newEnv() env {
	v := viper.New()
	v.MustBindEnv(keyFilter, FilterEnv, LogLevelEnv)
	v.MustBindEnv(keyEndpoint, OtlpTracesEndpointEnv, OtlpEndpointEnv)
	v.MustBindEnv(keyTimeout, OtlpTracesTimeoutEnv, OtlpTimeoutEnv)
	v.MustBindEnv(keyHeaders, OtlpHeadersEnv)
	v.MustBindEnv(keyTracesHeaders, OtlpTracesHeadersEnv)
	v.MustBindEnv(keyEventCount, "OTEL_SPAN_EVENT_COUNT_LIMIT")
	v.MustBindEnv(keyAttrCount, "OTEL_SPAN_ATTRIBUTE_COUNT_LIMIT")
	v.MustBindEnv(keyLinkCount, "OTEL_SPAN_LINK_COUNT_LIMIT")
	v.MustBindEnv(keyEventAttrCount, "OTEL_EVENT_ATTRIBUTE_COUNT_LIMIT")
	v.MustBindEnv(keyLinkAttrCount, "OTEL_LINK_ATTRIBUTE_COUNT_LIMIT")
	v.SetDefault(keyEndpoint, defaultEndpoint)
	return env{v: v}
}

func (e env) filter() string {
	return strings.TrimSpace(e.v.GetString(keyFilter))
}

func (e env) endpoint() string {
	return e.v.GetString(keyEndpoint)
}

// timeout returns zero when no valid timeout variable is set.
func (e env) timeout() time.Duration {
	ms, err := strconv.ParseInt(strings.TrimSpace(e.v.GetString(keyTimeout)), 10, 64)
	if err != nil || ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// headers merges the generic and trace specific header variables, the
// latter taking precedence.
func (e env) headers() map[string]string {
	out := make(map[string]string)
	for _, k := range []string{keyHeaders, keyTracesHeaders} {
		for hk, hv := range parseHeaders(e.v.GetString(k)) {
			out[hk] = hv
		}
	}
	return out
}

// limit returns the env value for key or -1 when it is unset or malformed.
func (e env) limit(key string) int {
	n, err := strconv.Atoi(strings.TrimSpace(e.v.GetString(key)))
	if err != nil {
		return -1
	}
	return n
}

// parseHeaders parses the W3C baggage like "k1=v1,k2=v2" form. Entries
// that do not decode are skipped.
func parseHeaders(s string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		key, err := url.PathUnescape(strings.TrimSpace(k))
		if err != nil || key == "" {
			continue
		}
		value, err := url.PathUnescape(strings.TrimSpace(v))
		if err != nil {
			continue
		}
		out[strings.ToLower(key)] = value
	}
	return out
}
