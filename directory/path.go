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

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Separator splits the segments of a path
const Separator = "/"

// ValidateName checks that name can be used as a single node name.
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.Contains(name, Separator), strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Split returns the validated segments of a relative or absolute path.
// Empty segments are ignored so "/a//b/" yields ["a", "b"].
func Split(path string) ([]string, error) {
	raw := strings.Split(path, Separator)
	segments := make([]string, 0, len(raw))
	for _, segment := range raw {
		if segment == "" {
			continue
		}
		if err := ValidateName(segment); err != nil {
			return nil, err
		}
		segments = append(segments, segment)
	}
	return segments, nil
}

// Join appends the relative path to the absolute base path and returns
// the cleaned absolute result.
func Join(base, path string) (string, error) {
	head, err := Split(base)
	if err != nil {
		return "", err
	}

	tail, err := Split(path)
	if err != nil {
		return "", err
	}

	return Separator + strings.Join(append(head, tail...), Separator), nil
}

// Ensure creates every missing node along path as persistent nodes and
// returns the Directory scoped to the last one.
func Ensure(ctx context.Context, dir Directory, path string) (Directory, error) {
	segments, err := Split(path)
	if err != nil {
		return nil, err
	}

	current := dir
	for _, segment := range segments {
		if err := current.AddChild(ctx, segment, Persistent); err != nil && !errors.Is(err, ErrAlreadyExists) {
			return nil, fmt.Errorf("failed to ensure %s: %w", segment, err)
		}

		next, err := current.Subdirectory(segment)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return current, nil
}
