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
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

var (
	// ErrUnknownRegion is returned when a patch server does not list the requested region.
	ErrUnknownRegion = errors.New("client: unknown region")

	// ErrNoFilenameMapper is returned by FetchFilename before UseInstallManifest has run.
	ErrNoFilenameMapper = errors.New("client: no filename mapper registered")

	// ErrNoSuchFile is returned when the FilenameMapper has no entry for a name.
	ErrNoSuchFile = errors.New("client: no such file")
)

// A StatusError reports an HTTP response whose status was not the one expected.
type StatusError struct {
	URL    string
	Status string
	Code   int
	Want   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("client: %s returned %q; wanted \"%d %s\"", e.URL, e.Status, e.Want, http.StatusText(e.Want))
}

// checkStatus closes resp's body and returns a StatusError unless resp has status want.
func checkStatus(resp *http.Response, want int) error {
	if resp.StatusCode == want {
		return nil
	}
	resp.Body.Close()
	return &StatusError{
		URL:    resp.Request.URL.String(),
		Status: resp.Status,
		Code:   resp.StatusCode,
		Want:   want,
	}
}
