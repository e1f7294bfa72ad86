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

package etcd

import (
	"context"
	"crypto/tls"
	"regexp"
	"strings"
	"time"

	"github.com/vnetctl/statesync/internal/validation"
)

const (
	defaultNamespace       = "/statesync"
	defaultSessionTTL      = 10 * time.Second
	defaultTimeout         = 5 * time.Second
	defaultConnectAttempts = 3
)

var namespacePattern = regexp.MustCompile(`^/[^\s]*[^/\s]$`)

// Config holds configuration for the etcd directory
type Config struct {
	// Context specifies the execution context for etcd operations.
	// If nil, context.Background() will be used.
	Context context.Context
	// Endpoints is a list of etcd cluster endpoints
	Endpoints []string
	// Namespace is the key prefix holding the tree. Defaults to /statesync.
	Namespace string
	// SessionTTL is the lease TTL backing ephemeral nodes. Ephemeral nodes of
	// a client that stops renewing disappear after it.
	SessionTTL time.Duration
	// TLS configuration (optional)
	TLS *tls.Config
	// DialTimeout for etcd client connections
	DialTimeout time.Duration
	// Timeout for etcd operations
	Timeout time.Duration
	// Username for etcd authentication (optional)
	Username string
	// Password for etcd authentication (optional)
	Password string
	// ConnectAttempts is how many times the initial status check is tried
	ConnectAttempts int
}

var _ validation.Validator = (*Config)(nil)

// Sanitize sets defaults for empty fields.
func (c *Config) Sanitize() {
	if c.Context == nil {
		c.Context = context.Background()
	}
	if strings.TrimSpace(c.Namespace) == "" {
		c.Namespace = defaultNamespace
	}
	if c.SessionTTL == 0 {
		c.SessionTTL = defaultSessionTTL
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = defaultTimeout
	}
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}
	if c.ConnectAttempts <= 0 {
		c.ConnectAttempts = defaultConnectAttempts
	}
}

// Validate implements validation.Validator.
func (c *Config) Validate() error {
	return validation.New(validation.FailFast()).
		AddAssertion(len(c.Endpoints) > 0, "Endpoints must not be empty").
		AddValidator(validation.NewPatternValidator("Namespace", namespacePattern, c.Namespace)).
		AddAssertion(c.SessionTTL >= time.Second, "SessionTTL must be at least 1s").
		AddAssertion(c.DialTimeout > 0, "DialTimeout must be greater than 0").
		AddAssertion(c.Timeout > 0, "Timeout must be greater than 0").
		Validate()
}
