package model

import (
	"fmt"
	"strings"
)

// Metric is the similarity metric of a variant.
type Metric int

const (
	// MetricInnerProduct ranks by dot product over L2-normalized vectors (cosine).
	MetricInnerProduct Metric = iota
	// MetricL2 ranks by squared Euclidean distance.
	MetricL2
)

// String returns the manifest spelling of the metric.
func (m Metric) String() string {
	switch m {
	case MetricInnerProduct:
		return "inner-product"
	case MetricL2:
		return "l2"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// Normalizes reports whether vectors and queries are L2-normalized under m.
func (m Metric) Normalizes() bool { return m == MetricInnerProduct }

// ParseMetric parses a metric name. "ip" is accepted as an alias of "inner-product".
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inner-product", "ip", "innerproduct", "cosine":
		return MetricInnerProduct, nil
	case "l2":
		return MetricL2, nil
	default:
		return 0, fmt.Errorf("unknown metric %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Metric) MarshalText() ([]byte, error) {
	switch m {
	case MetricInnerProduct, MetricL2:
		return []byte(m.String()), nil
	default:
		return nil, fmt.Errorf("unknown metric %d", int(m))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Metric) UnmarshalText(text []byte) error {
	v, err := ParseMetric(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
