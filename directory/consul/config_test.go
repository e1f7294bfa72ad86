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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vnetctl/statesync/log"
)

func TestConfig(t *testing.T) {
	t.Run("sanitize sets defaults", func(t *testing.T) {
		config := &Config{Address: "127.0.0.1:8500", Prefix: " /apps/statesync/ "}
		config.Sanitize()
		assert.NotNil(t, config.Context)
		assert.Equal(t, "apps/statesync", config.Prefix)
		assert.Equal(t, defaultTimeout, config.Timeout)
		assert.Equal(t, defaultSessionTTL, config.SessionTTL)
		assert.Equal(t, defaultWaitTime, config.WaitTime)
		assert.Equal(t, defaultConnectAttempts, config.ConnectAttempts)
		assert.Equal(t, log.DefaultLogger, config.Logger)
		assert.NoError(t, config.Validate())
	})
	t.Run("empty prefix falls back to default", func(t *testing.T) {
		config := &Config{Address: "127.0.0.1:8500", Prefix: "/"}
		config.Sanitize()
		assert.Equal(t, defaultPrefix, config.Prefix)
	})
	t.Run("validate", func(t *testing.T) {
		valid := func() *Config {
			config := &Config{Address: "127.0.0.1:8500"}
			config.Sanitize()
			return config
		}

		config := valid()
		config.Address = ""
		assert.Error(t, config.Validate())

		config = valid()
		config.Address = "not an address"
		assert.Error(t, config.Validate())

		config = valid()
		config.Prefix = "state sync"
		assert.Error(t, config.Validate())

		config = valid()
		config.Prefix = "a//b"
		assert.Error(t, config.Validate())

		config = valid()
		config.SessionTTL = time.Second
		assert.Error(t, config.Validate())

		config = valid()
		config.SessionTTL = 25 * time.Hour
		assert.Error(t, config.Validate())
	})
}
