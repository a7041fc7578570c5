// Package flagtype has flag.Value types for batch resource limits.
package flagtype

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/api/resource"
)

// Quantity is a memory size flag.
//
// It accepts Kubernetes quantities ("3Gi", "500M"). A plain number is taken
// as megabytes, as batch systems count memory.
type Quantity resource.Quantity

func (q *Quantity) String() string {
	if q == nil {
		return ""
	}
	return (*resource.Quantity)(q).String()
}

func (q *Quantity) Set(expr string) error {
	expr = strings.TrimSpace(expr)
	if n, err := strconv.ParseInt(expr, 10, 64); err == nil {
		*q = Quantity(*resource.NewScaledQuantity(n, resource.Mega))
		return nil
	}
	parsed, err := resource.ParseQuantity(expr)
	if err != nil {
		return err
	}
	*q = (Quantity)(parsed)
	return nil
}

func (q *Quantity) AsResourceQuantity() *resource.Quantity {
	return (*resource.Quantity)(q)
}

// Megabytes is the size in MB (10^6 bytes), rounded up.
func (q *Quantity) Megabytes() int64 {
	rq := q.AsResourceQuantity().DeepCopy()
	return rq.ScaledValue(resource.Mega)
}

func MustParse(expr string) *Quantity {
	q := Quantity{}
	if err := q.Set(expr); err != nil {
		panic(err)
	}
	return &q
}

// WallTime is a duration flag written as "HH:MM:SS".
//
// "HH:MM" and Go durations ("90m") are also accepted.
type WallTime time.Duration

func (w *WallTime) String() string {
	if w == nil {
		return ""
	}
	d := time.Duration(*w)
	h := int64(d / time.Hour)
	m := int64((d % time.Hour) / time.Minute)
	s := int64((d % time.Minute) / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func (w *WallTime) Set(expr string) error {
	expr = strings.TrimSpace(expr)
	if !strings.Contains(expr, ":") {
		d, err := time.ParseDuration(expr)
		if err != nil {
			return fmt.Errorf("wall time %q: %w", expr, err)
		}
		*w = WallTime(d)
		return nil
	}

	parts := strings.Split(expr, ":")
	if len(parts) > 3 {
		return fmt.Errorf("wall time %q: too many fields", expr)
	}
	units := []time.Duration{time.Hour, time.Minute, time.Second}
	var d time.Duration
	for i, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil || n < 0 {
			return fmt.Errorf("wall time %q: bad field %q", expr, p)
		}
		d += time.Duration(n) * units[i]
	}
	*w = WallTime(d)
	return nil
}

func (w WallTime) Duration() time.Duration {
	return time.Duration(w)
}

// Seconds is the wall time in whole seconds.
func (w WallTime) Seconds() int64 {
	return int64(time.Duration(w) / time.Second)
}

func MustParseWallTime(expr string) WallTime {
	w := WallTime(0)
	if err := w.Set(expr); err != nil {
		panic(err)
	}
	return w
}
