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

package directory

import "errors"

var (
	// ErrAlreadyExists is returned when creating a child whose name is taken
	ErrAlreadyExists = errors.New("directory: node already exists")
	// ErrNotFound is returned when the addressed node does not exist
	ErrNotFound = errors.New("directory: node not found")
	// ErrNotEmpty is returned when deleting a node that still has children
	ErrNotEmpty = errors.New("directory: node has children")
	// ErrInvalidName is returned when a node name or path is malformed
	ErrInvalidName = errors.New("directory: invalid node name")
	// ErrUnavailable is returned when the backing service cannot be reached
	ErrUnavailable = errors.New("directory: service unavailable")
	// ErrClosed is returned when using a directory whose session has been closed
	ErrClosed = errors.New("directory: session closed")
)
