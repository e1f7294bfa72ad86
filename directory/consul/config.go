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

package consul

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/vnetctl/statesync/internal/validation"
	"github.com/vnetctl/statesync/log"
)

const (
	defaultPrefix          = "statesync"
	defaultTimeout         = 10 * time.Second
	defaultSessionTTL      = 15 * time.Second
	defaultWaitTime        = 30 * time.Second
	defaultConnectAttempts = 3
)

var prefixPattern = regexp.MustCompile(`^[^/\s]+(/[^/\s]+)*$`)

// Config defines the configuration options for the Consul directory.
type Config struct {
	// Context specifies the execution context for Consul operations.
	// If nil, context.Background() will be used.
	Context context.Context
	// Address is the address of the Consul agent to connect to.
	Address string
	// Datacenter specifies the Consul datacenter to use.
	// If empty, the agent's default datacenter is used.
	Datacenter string
	// Token is the Consul ACL token used for authenticated requests.
	Token string
	// Prefix is the KV prefix holding the tree. Defaults to statesync.
	Prefix string
	// Timeout specifies the maximum duration for Consul requests.
	// Default: 10s
	Timeout time.Duration
	// SessionTTL is the TTL of the session owning ephemeral nodes.
	// Consul accepts values between 10s and 24h. Default: 15s
	SessionTTL time.Duration
	// WaitTime bounds a single blocking query issued by a watch.
	// Default: 30s
	WaitTime time.Duration
	// ConnectAttempts is how many times the initial agent check is tried
	ConnectAttempts int
	// Logger reports session renewal failures
	Logger log.Logger
}

var _ validation.Validator = (*Config)(nil)

// Sanitize ensures the configuration is valid and sets defaults.
func (config *Config) Sanitize() {
	if config.Context == nil {
		config.Context = context.Background()
	}

	config.Prefix = strings.Trim(strings.TrimSpace(config.Prefix), "/")
	if config.Prefix == "" {
		config.Prefix = defaultPrefix
	}

	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	if config.SessionTTL == 0 {
		config.SessionTTL = defaultSessionTTL
	}

	if config.WaitTime == 0 {
		config.WaitTime = defaultWaitTime
	}

	if config.ConnectAttempts <= 0 {
		config.ConnectAttempts = defaultConnectAttempts
	}

	if config.Logger == nil {
		config.Logger = log.DefaultLogger
	}
}

// Validate checks if the configuration is valid.
func (config *Config) Validate() error {
	return validation.New(validation.FailFast()).
		AddValidator(validation.NewEmptyStringValidator("Address", config.Address)).
		AddValidator(validation.NewTCPAddressValidator(config.Address)).
		AddValidator(validation.NewPatternValidator("Prefix", prefixPattern, config.Prefix)).
		AddAssertion(config.SessionTTL >= 10*time.Second && config.SessionTTL <= 24*time.Hour, "SessionTTL must be between 10s and 24h").
		AddAssertion(config.Timeout > 0, "Timeout must be greater than 0").
		AddAssertion(config.WaitTime > 0, "WaitTime must be greater than 0").
		Validate()
}
