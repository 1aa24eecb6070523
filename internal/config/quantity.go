package config

import (
	"fmt"
	"strconv"
	"strings"

	"k8s.io/apimachinery/pkg/api/resource"
)

const gib = 1 << 30

// ParseGiB parses a storage size. Bare integers are GiB; anything else is a
// Kubernetes-style quantity (20Gi, 1Ti) that must be a whole number of GiB.
// Negative sizes are rejected.
func ParseGiB(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty storage size")
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("storage size %d must not be negative", n)
		}
		return n, nil
	}
	q, err := resource.ParseQuantity(s)
	if err != nil {
		return 0, fmt.Errorf("invalid storage size %q: %w", s, err)
	}
	if q.Sign() < 0 {
		return 0, fmt.Errorf("storage size %s must not be negative", q.String())
	}
	bytes := q.Value()
	if bytes%gib != 0 {
		return 0, fmt.Errorf("storage size %s is not a whole number of GiB", q.String())
	}
	return int(bytes / gib), nil
}

// FormatGiB renders a GiB count as a quantity.
func FormatGiB(n int) string {
	return resource.NewQuantity(int64(n)*gib, resource.BinarySI).String()
}
