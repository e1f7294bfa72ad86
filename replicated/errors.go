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
	"errors"
	"fmt"
)

var (
	// ErrStopped is returned when starting a set that has already been stopped.
	ErrStopped = errors.New("replicated: set is stopped")
	// ErrNilDirectory is returned when a set is created without a directory.
	ErrNilDirectory = errors.New("replicated: directory is required")
	// ErrNilCodec is returned when a set is created without a codec.
	ErrNilCodec = errors.New("replicated: codec is required")
	// ErrDuplicateSet is returned when registering a name twice in a Group.
	ErrDuplicateSet = errors.New("replicated: set already registered")
)

// DecodeError reports a node name the codec could not decode.
// The node is skipped for the pass that met it and decoded again on the next one.
type DecodeError struct {
	Name string
	Err  error
}

// Error implements error.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("replicated: failed to decode node %q: %v", e.Name, e.Err)
}

// Unwrap returns the codec error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}
