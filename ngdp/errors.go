/*
Copyright 2017 Luke Granger-Brown

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package ngdp

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error kinds shared by all of the NGDP decoders.
//
// Decoders wrap these with context; use errors.Is to test for them.
var (
	ErrInvalidMagic            = errors.New("ngdp: bad magic")
	ErrUnsupportedEncodingMode = errors.New("ngdp: unsupported encoding mode")
	ErrTruncatedInput          = errors.New("ngdp: truncated input")
	ErrMalformedIdentifier     = errors.New("ngdp: malformed hash")
	ErrMissingAttribute        = errors.New("ngdp: missing attribute")
	ErrMalformedLine           = errors.New("ngdp: malformed line")
	ErrDecompressionFailure    = errors.New("ngdp: decompression failed")
)

// An UnsupportedEncodingModeError is returned when a BLTE chunk uses a mode this package cannot decode.
type UnsupportedEncodingModeError struct {
	Mode byte
}

func (e UnsupportedEncodingModeError) Error() string {
	return fmt.Sprintf("ngdp: unsupported encoding mode %q (0x%02x)", e.Mode, e.Mode)
}

func (e UnsupportedEncodingModeError) Unwrap() error { return ErrUnsupportedEncodingMode }

// A MissingAttributeError is returned when a config file does not have the attribute expected next.
type MissingAttributeError struct {
	Name string
	Got  string
}

func (e MissingAttributeError) Error() string {
	if e.Got == "" {
		return fmt.Sprintf("ngdp: expected attribute %q, got no more lines", e.Name)
	}
	return fmt.Sprintf("ngdp: expected attribute %q, got %q", e.Name, e.Got)
}

func (e MissingAttributeError) Unwrap() error { return ErrMissingAttribute }
