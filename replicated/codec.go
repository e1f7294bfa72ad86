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

// Codec maps an element to the node name identifying it in a directory and back.
// Encode must be total and deterministic: two elements with the same encoding
// are the same member of the set.
type Codec[T any] interface {
	Encode(item T) string
	Decode(name string) (T, error)
}

// CodecFunc builds a Codec from a pair of functions.
func CodecFunc[T any](encode func(T) string, decode func(string) (T, error)) Codec[T] {
	return funcCodec[T]{encode: encode, decode: decode}
}

type funcCodec[T any] struct {
	encode func(T) string
	decode func(string) (T, error)
}

func (c funcCodec[T]) Encode(item T) string {
	return c.encode(item)
}

func (c funcCodec[T]) Decode(name string) (T, error) {
	return c.decode(name)
}

// StringCodec stores strings as node names unchanged.
type StringCodec struct{}

var _ Codec[string] = StringCodec{}

// Encode implements Codec.
func (StringCodec) Encode(item string) string {
	return item
}

// Decode implements Codec.
func (StringCodec) Decode(name string) (string, error) {
	return name, nil
}
