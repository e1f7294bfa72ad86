// MIT License
//
// Copyright (c) 2022-2026 GoAkt Team
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	addedCounterName          = "statesync.set.added"
	removedCounterName        = "statesync.set.removed"
	decodeFailureCounterName  = "statesync.set.decode_failures"
	reconciliationCounterName = "statesync.set.reconciliations"
	rearmFailureCounterName   = "statesync.set.rearm_failures"

	setAttributeKey = "set"
)

// SetMetrics defines the replicated set metrics.
// A nil *SetMetrics records nothing.
type SetMetrics struct {
	added           metric.Int64Counter
	removed         metric.Int64Counter
	decodeFailures  metric.Int64Counter
	reconciliations metric.Int64Counter
	rearmFailures   metric.Int64Counter
}

// NewSetMetrics creates an instance of SetMetrics
func NewSetMetrics(meter metric.Meter) (*SetMetrics, error) {
	metrics := new(SetMetrics)
	var err error

	if metrics.added, err = meter.Int64Counter(
		addedCounterName,
		metric.WithDescription("The total number of elements added to the set"),
	); err != nil {
		return nil, fmt.Errorf("failed to create added count instrument, %v", err)
	}

	if metrics.removed, err = meter.Int64Counter(
		removedCounterName,
		metric.WithDescription("The total number of elements removed from the set"),
	); err != nil {
		return nil, fmt.Errorf("failed to create removed count instrument, %v", err)
	}

	if metrics.decodeFailures, err = meter.Int64Counter(
		decodeFailureCounterName,
		metric.WithDescription("The total number of node names that could not be decoded"),
	); err != nil {
		return nil, fmt.Errorf("failed to create decode failure count instrument, %v", err)
	}

	if metrics.reconciliations, err = meter.Int64Counter(
		reconciliationCounterName,
		metric.WithDescription("The total number of reconciliation passes"),
	); err != nil {
		return nil, fmt.Errorf("failed to create reconciliation count instrument, %v", err)
	}

	if metrics.rearmFailures, err = meter.Int64Counter(
		rearmFailureCounterName,
		metric.WithDescription("The total number of failed attempts to re-arm the directory watch"),
	); err != nil {
		return nil, fmt.Errorf("failed to create rearm failure count instrument, %v", err)
	}

	return metrics, nil
}

// RecordDiff records the size of an applied diff
func (x *SetMetrics) RecordDiff(ctx context.Context, set string, added, removed int) {
	if x == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String(setAttributeKey, set))
	if added > 0 {
		x.added.Add(ctx, int64(added), attrs)
	}
	if removed > 0 {
		x.removed.Add(ctx, int64(removed), attrs)
	}
}

// RecordDecodeFailure records a node name that failed to decode
func (x *SetMetrics) RecordDecodeFailure(ctx context.Context, set string) {
	if x == nil {
		return
	}
	x.decodeFailures.Add(ctx, 1, metric.WithAttributes(attribute.String(setAttributeKey, set)))
}

// RecordReconciliation records a completed reconciliation pass
func (x *SetMetrics) RecordReconciliation(ctx context.Context, set string) {
	if x == nil {
		return
	}
	x.reconciliations.Add(ctx, 1, metric.WithAttributes(attribute.String(setAttributeKey, set)))
}

// RecordRearmFailure records a failed attempt to re-arm the watch
func (x *SetMetrics) RecordRearmFailure(ctx context.Context, set string) {
	if x == nil {
		return
	}
	x.rearmFailures.Add(ctx, 1, metric.WithAttributes(attribute.String(setAttributeKey, set)))
}
