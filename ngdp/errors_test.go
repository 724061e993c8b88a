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
	"testing"

	"github.com/pkg/errors"
)

func TestErrorKinds(t *testing.T) {
	for _, test := range []struct {
		err  error
		want error
	}{
		{UnsupportedEncodingModeError{'E'}, ErrUnsupportedEncodingMode},
		{errors.Wrap(UnsupportedEncodingModeError{'F'}, "chunk 3"), ErrUnsupportedEncodingMode},
		{MissingAttributeError{Name: "root"}, ErrMissingAttribute},
		{errors.Wrapf(ErrTruncatedInput, "reading %d bytes", 4), ErrTruncatedInput},
	} {
		if !errors.Is(test.err, test.want) {
			t.Errorf("errors.Is(%v, %v) = false; want true", test.err, test.want)
		}
	}

	var uem UnsupportedEncodingModeError
	if !errors.As(errors.Wrap(UnsupportedEncodingModeError{'E'}, "wrapped"), &uem) || uem.Mode != 'E' {
		t.Errorf("errors.As: got mode %q; want 'E'", uem.Mode)
	}
}
