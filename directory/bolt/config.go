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

package bolt

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/vnetctl/statesync/internal/validation"
	"github.com/vnetctl/statesync/log"
)

const (
	defaultFileMode os.FileMode = 0o600
	defaultTimeout              = 5 * time.Second
)

// Config defines the configuration options for the bbolt directory.
type Config struct {
	// Context bounds the sweep of stale ephemeral nodes performed by Open.
	// If nil, context.Background() will be used.
	Context context.Context
	// Path is the database file. It is created when missing.
	Path string
	// FileMode is the mode of a newly created database file. Default: 0600
	FileMode os.FileMode
	// Timeout bounds the wait for the file lock held by another process.
	// Default: 5s
	Timeout time.Duration
	// NoSync skips fsync after each commit. Only suitable for tests.
	NoSync bool
	// Logger reports the ephemeral nodes swept on open
	Logger log.Logger
}

var _ validation.Validator = (*Config)(nil)

// Sanitize sets defaults for empty fields.
func (config *Config) Sanitize() {
	if config.Context == nil {
		config.Context = context.Background()
	}
	config.Path = strings.TrimSpace(config.Path)
	if config.FileMode == 0 {
		config.FileMode = defaultFileMode
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.Logger == nil {
		config.Logger = log.DefaultLogger
	}
}

// Validate implements validation.Validator.
func (config *Config) Validate() error {
	return validation.New(validation.FailFast()).
		AddValidator(validation.NewEmptyStringValidator("Path", config.Path)).
		AddAssertion(config.Timeout > 0, "Timeout must be greater than 0").
		Validate()
}
