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

package client

import (
	"io"

	"github.com/w00tzenheimer/blizztools/blte"
)

// A decodedBody reads a BLTE decoded response, closing the response body when done.
type decodedBody struct {
	r    *blte.Reader
	body io.Closer
}

func (d *decodedBody) Read(b []byte) (n int, err error) {
	if d.r == nil {
		return 0, io.ErrClosedPipe
	}
	return d.r.Read(b)
}

func (d *decodedBody) Close() error {
	if d.body == nil {
		return nil
	}

	if err := d.body.Close(); err != nil {
		return err
	}

	d.body = nil
	d.r = nil
	return nil
}

func newDecodedBody(body io.ReadCloser) io.ReadCloser {
	return &decodedBody{blte.NewReader(body), body}
}
