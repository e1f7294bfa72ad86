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

package replicated

import (
	"time"

	"github.com/vnetctl/statesync/log"
	"github.com/vnetctl/statesync/telemetry"
)

const (
	defaultRearmAttempts = 5
	defaultRearmMinDelay = 100 * time.Millisecond
	defaultRearmMaxDelay = 5 * time.Second
)

// DecodeErrorHandler is told about every node name that fails to decode.
type DecodeErrorHandler func(err *DecodeError)

type settings struct {
	name          string
	logger        log.Logger
	onDecodeError DecodeErrorHandler
	metrics       *telemetry.SetMetrics
	rearmAttempts int
	rearmMinDelay time.Duration
	rearmMaxDelay time.Duration
}

func defaultSettings() *settings {
	return &settings{
		logger:        log.DefaultLogger,
		rearmAttempts: defaultRearmAttempts,
		rearmMinDelay: defaultRearmMinDelay,
		rearmMaxDelay: defaultRearmMaxDelay,
	}
}

// Option is the interface that applies a Set option.
type Option interface {
	// Apply sets the Option value of a config.
	Apply(s *settings)
}

var _ Option = OptionFunc(nil)

// OptionFunc implements the Option interface.
type OptionFunc func(*settings)

// Apply applies the option
func (f OptionFunc) Apply(s *settings) {
	f(s)
}

// WithName sets the name used in logs and metric attributes.
// It defaults to the directory path.
func WithName(name string) Option {
	return OptionFunc(func(s *settings) {
		s.name = name
	})
}

// WithLogger sets the logger
func WithLogger(logger log.Logger) Option {
	return OptionFunc(func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	})
}

// WithDecodeErrorHandler sets the handler told about undecodable node names.
// By default they are logged as warnings.
func WithDecodeErrorHandler(handler DecodeErrorHandler) Option {
	return OptionFunc(func(s *settings) {
		s.onDecodeError = handler
	})
}

// WithMetrics records the set activity on the given metrics
func WithMetrics(metrics *telemetry.SetMetrics) Option {
	return OptionFunc(func(s *settings) {
		s.metrics = metrics
	})
}

// WithRearmBackoff sets how re-arming the watch after a failure is retried.
// Each round makes up to attempts tries with delays growing from minDelay to
// maxDelay; rounds repeat until the set is stopped.
func WithRearmBackoff(attempts int, minDelay, maxDelay time.Duration) Option {
	return OptionFunc(func(s *settings) {
		if attempts > 0 {
			s.rearmAttempts = attempts
		}
		if minDelay > 0 {
			s.rearmMinDelay = minDelay
		}
		if maxDelay > 0 {
			s.rearmMaxDelay = maxDelay
		}
		if s.rearmMaxDelay < s.rearmMinDelay {
			s.rearmMaxDelay = s.rearmMinDelay
		}
	})
}
