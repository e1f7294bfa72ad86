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

// Package route defines the route records advertised by controllers and
// their encoding as directory node names.
package route

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	fieldSeparator = ","
	numFields      = 7
)

// ErrMalformed is returned when a node name is not an encoded Route
var ErrMalformed = errors.New("route: malformed encoding")

// NextHop says what happens to traffic matching a route
type NextHop int

const (
	// Blackhole drops matching traffic silently
	Blackhole NextHop = iota
	// Reject drops matching traffic and notifies the sender
	Reject
	// Port forwards matching traffic to a port
	Port
	// Local delivers matching traffic to the router itself
	Local
)

var nextHopNames = [...]string{
	Blackhole: "BLACKHOLE",
	Reject:    "REJECT",
	Port:      "PORT",
	Local:     "LOCAL",
}

// String returns the next hop name
func (n NextHop) String() string {
	if n < 0 || int(n) >= len(nextHopNames) {
		return "NextHop(" + strconv.Itoa(int(n)) + ")"
	}
	return nextHopNames[n]
}

func parseNextHop(value string) (NextHop, error) {
	for hop, name := range nextHopNames {
		if name == value {
			return NextHop(hop), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown next hop %q", ErrMalformed, value)
}

// Route is a forwarding rule of a virtual router.
// Routes are values: two routes with equal fields are the same route.
type Route struct {
	Source      netip.Prefix
	Destination netip.Prefix
	NextHop     NextHop
	// NextHopPort is the egress port when NextHop is Port
	NextHopPort uuid.UUID
	// NextHopGateway is the gateway address, the zero Addr when there is none
	NextHopGateway netip.Addr
	Weight         int
	Attributes     string
}

// String encodes the route as a node name.
// The encoding never contains a '/' and Parse reverses it.
func (r Route) String() string {
	fields := [numFields]string{
		encodePrefix(r.Source),
		encodePrefix(r.Destination),
		r.NextHop.String(),
		r.NextHopPort.String(),
		encodeAddr(r.NextHopGateway),
		strconv.Itoa(r.Weight),
		url.QueryEscape(r.Attributes),
	}
	return strings.Join(fields[:], fieldSeparator)
}

// Parse decodes a node name produced by Route.String
func Parse(name string) (Route, error) {
	fields := strings.Split(name, fieldSeparator)
	// prefixes take two fields each
	if len(fields) != numFields+2 {
		return Route{}, fmt.Errorf("%w: expected %d fields, got %d", ErrMalformed, numFields+2, len(fields))
	}

	var (
		route Route
		err   error
	)

	if route.Source, err = parsePrefix(fields[0], fields[1]); err != nil {
		return Route{}, err
	}

	if route.Destination, err = parsePrefix(fields[2], fields[3]); err != nil {
		return Route{}, err
	}

	if route.NextHop, err = parseNextHop(fields[4]); err != nil {
		return Route{}, err
	}

	if route.NextHopPort, err = uuid.Parse(fields[5]); err != nil {
		return Route{}, fmt.Errorf("%w: next hop port: %v", ErrMalformed, err)
	}

	if fields[6] != "" {
		if route.NextHopGateway, err = netip.ParseAddr(fields[6]); err != nil {
			return Route{}, fmt.Errorf("%w: next hop gateway: %v", ErrMalformed, err)
		}
	}

	if route.Weight, err = strconv.Atoi(fields[7]); err != nil {
		return Route{}, fmt.Errorf("%w: weight: %v", ErrMalformed, err)
	}

	if route.Attributes, err = url.QueryUnescape(fields[8]); err != nil {
		return Route{}, fmt.Errorf("%w: attributes: %v", ErrMalformed, err)
	}

	return route, nil
}

// encodePrefix writes the prefix as "addr,bits"; the zero prefix is "0.0.0.0,0".
func encodePrefix(prefix netip.Prefix) string {
	if !prefix.IsValid() {
		return "0.0.0.0" + fieldSeparator + "0"
	}
	prefix = prefix.Masked()
	return prefix.Addr().String() + fieldSeparator + strconv.Itoa(prefix.Bits())
}

func parsePrefix(addr, bits string) (netip.Prefix, error) {
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("%w: prefix address: %v", ErrMalformed, err)
	}

	length, err := strconv.Atoi(bits)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("%w: prefix length: %v", ErrMalformed, err)
	}

	prefix, err := ip.Prefix(length)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if prefix.Addr() != ip {
		return netip.Prefix{}, fmt.Errorf("%w: prefix %s has host bits set", ErrMalformed, addr)
	}
	return prefix, nil
}

func encodeAddr(addr netip.Addr) string {
	if !addr.IsValid() {
		return ""
	}
	return addr.String()
}
