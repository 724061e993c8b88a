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

// Package configtable decodes the pipe separated tables served by the patch
// server, such as the versions and cdns tables.
package configtable

import (
	"bufio"
	"encoding"
	"io"
	"reflect"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/w00tzenheimer/blizztools/ngdp"
)

const (
	typeDelimiter   = "!"
	columnDelimiter = "|"
	commentPrefix   = "#"

	structTag = "configtable"

	// VersionsHeader and CDNsHeader prefix the header rows of the two tables.
	VersionsHeader = "Region" + typeDelimiter
	CDNsHeader     = "Name" + typeDelimiter
)

var textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()

// A Decoder reads a Blizzard config table from an input stream.
//
// Columns are matched to the exported fields of the destination struct by
// position, not by name.
type Decoder struct {
	headerPrefix string
	columns      []string
	pending      []string
	headerDone   bool
	s            *bufio.Scanner
	err          error
}

// NewDecoder creates a new Decoder from the provided io.Reader.
//
// Lines are skipped until one starting with headerPrefix is seen. If no such
// line exists, every line is treated as a row.
func NewDecoder(r io.Reader, headerPrefix string) *Decoder {
	return &Decoder{
		headerPrefix: headerPrefix,
		s:            bufio.NewScanner(r),
	}
}

func (d *Decoder) line() (string, error) {
	if d.err != nil {
		return "", d.err
	}
	if !d.s.Scan() {
		d.err = d.s.Err()
		if d.err == nil {
			d.err = io.EOF
		}
		return "", d.err
	}
	return d.s.Text(), nil
}

func (d *Decoder) readHeader() error {
	if d.headerDone {
		return nil
	}
	for {
		ln, err := d.line()
		if err == io.EOF {
			// No header at all: hand back everything we skipped.
			d.headerDone = true
			d.err = nil
			return nil
		} else if err != nil {
			return err
		}
		if strings.HasPrefix(ln, d.headerPrefix) {
			for _, h := range strings.Split(ln, columnDelimiter) {
				d.columns = append(d.columns, strings.SplitN(h, typeDelimiter, 2)[0])
			}
			d.pending = nil
			d.headerDone = true
			return nil
		}
		d.pending = append(d.pending, ln)
	}
}

// Columns returns the column names from the header row, once one has been read.
func (d *Decoder) Columns() []string {
	return d.columns
}

// row returns the next line that holds data, skipping comments and lines with no columns.
func (d *Decoder) row() (string, error) {
	for {
		var ln string
		if len(d.pending) > 0 {
			ln, d.pending = d.pending[0], d.pending[1:]
		} else {
			var err error
			ln, err = d.line()
			if err != nil {
				return "", err
			}
		}
		if strings.HasPrefix(ln, commentPrefix) || !strings.Contains(ln, columnDelimiter) {
			continue
		}
		return ln, nil
	}
}

type field struct {
	v         reflect.Value
	name      string
	delimiter string
}

func fieldsOf(s interface{}) ([]field, error) {
	if s == nil || reflect.TypeOf(s).Kind() != reflect.Ptr {
		return nil, errors.New("configtable: cannot decode into non-struct-pointer")
	}
	v := reflect.Indirect(reflect.ValueOf(s))
	if !v.IsValid() || v.Kind() != reflect.Struct {
		return nil, errors.New("configtable: cannot decode into non-struct-pointer")
	}
	st := v.Type()

	var fields []field
	for n := 0; n < st.NumField(); n++ {
		f := st.Field(n)
		// cheat and use PkgPath to check if this field is exported.
		if f.PkgPath != "" {
			continue
		}
		fd := field{v: v.Field(n), name: f.Name, delimiter: " "}
		if tag := f.Tag.Get(structTag); tag != "" {
			if bits := strings.SplitN(tag, ",", 2); len(bits) == 2 {
				fd.delimiter = bits[1]
			}
		}
		if !decodable(f.Type) {
			return nil, errors.Errorf("configtable: cannot decode into field %v of type %v", f.Name, f.Type)
		}
		fields = append(fields, fd)
	}
	return fields, nil
}

func decodable(t reflect.Type) bool {
	switch {
	case t.Kind() == reflect.Ptr && reflect.PtrTo(t.Elem()).Implements(textUnmarshalerType):
		return true
	case reflect.PtrTo(t).Implements(textUnmarshalerType):
		return true
	}
	switch t.Kind() {
	case reflect.String, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	case reflect.Slice:
		return t.Elem().Kind() == reflect.String
	}
	return false
}

func setField(f field, s string) error {
	t := f.v.Type()
	switch {
	case t.Kind() == reflect.Ptr && reflect.PtrTo(t.Elem()).Implements(textUnmarshalerType):
		if s == "" {
			f.v.Set(reflect.Zero(t))
			return nil
		}
		p := reflect.New(t.Elem())
		if err := p.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(s)); err != nil {
			return err
		}
		f.v.Set(p)
		return nil
	case reflect.PtrTo(t).Implements(textUnmarshalerType):
		return f.v.Addr().Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(s))
	}

	switch t.Kind() {
	case reflect.String:
		f.v.SetString(s)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := strconv.ParseInt(s, 10, t.Bits())
		if err != nil {
			return errors.Wrap(ngdp.ErrMalformedLine, err.Error())
		}
		f.v.SetInt(i)
	case reflect.Slice:
		bits := strings.Split(s, f.delimiter)
		bitsV := reflect.MakeSlice(t, len(bits), len(bits))
		for n, b := range bits {
			bitsV.Index(n).SetString(b)
		}
		f.v.Set(bitsV)
	}
	return nil
}

// Decode decodes the next row of the config table into a provided struct.
//
// It returns io.EOF once the table is exhausted.
func (d *Decoder) Decode(s interface{}) error {
	fields, err := fieldsOf(s)
	if err != nil {
		return err
	}
	if err := d.readHeader(); err != nil {
		return err
	}

	ln, err := d.row()
	if err != nil {
		return err
	}

	bits := strings.Split(ln, columnDelimiter)
	if len(bits) != len(fields) {
		return errors.Wrapf(ngdp.ErrMalformedLine, "configtable: column count mismatch: saw %d columns, expected %d", len(bits), len(fields))
	}
	for n, b := range bits {
		if err := setField(fields[n], b); err != nil {
			return errors.Wrapf(err, "configtable: column %d (%v)", n, fields[n].name)
		}
	}
	return nil
}

// ParseVersionTable decodes every row of a versions table.
func ParseVersionTable(r io.Reader) ([]ngdp.VersionInfo, error) {
	var versions []ngdp.VersionInfo
	d := NewDecoder(r, VersionsHeader)
	for {
		var version ngdp.VersionInfo
		if err := d.Decode(&version); err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}
		versions = append(versions, version)
	}
	return versions, nil
}

// ParseCDNTable decodes every row of a cdns table.
func ParseCDNTable(r io.Reader) ([]ngdp.CDNInfo, error) {
	var cdns []ngdp.CDNInfo
	d := NewDecoder(r, CDNsHeader)
	for {
		var cdn ngdp.CDNInfo
		if err := d.Decode(&cdn); err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}
		cdns = append(cdns, cdn)
	}
	return cdns, nil
}
