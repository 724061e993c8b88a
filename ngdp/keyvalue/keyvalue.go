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

// Package keyvalue decodes the "key = value" config files stored on the CDN.
//
// Build configs are decoded strictly with a Cursor, in a fixed attribute
// order. Other configs are decoded loosely with Decode.
package keyvalue

import (
	"encoding"
	"io"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/pkg/errors"

	"github.com/w00tzenheimer/blizztools/ngdp"
)

// ErrNotStructPointer is returned when Decode is given anything but a pointer to a struct.
var ErrNotStructPointer = errors.New("keyvalue: cannot decode into non-struct-pointer")

var textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()

const (
	structTag      = "keyvalue"
	commentChar    = "#"
	valueSeparator = "="
)

// attributeLines splits b into trimmed lines, dropping blank lines and comments.
func attributeLines(b []byte) []string {
	var out []string
	for _, ln := range strings.Split(string(b), "\n") {
		ln = strings.TrimSpace(ln)
		if ln == "" || strings.HasPrefix(ln, commentChar) {
			continue
		}
		out = append(out, ln)
	}
	return out
}

// splitAttribute splits an attribute line around sep.
func splitAttribute(ln, sep string) (key, value string, err error) {
	key, value, ok := strings.Cut(ln, sep)
	if !ok {
		return "", "", errors.Wrapf(ngdp.ErrMalformedLine, "keyvalue: %q has no %q", ln, sep)
	}
	return strings.TrimSpace(key), strings.TrimSpace(value), nil
}

// keyName turns a Go field name into its attribute name: PatchArchiveGroup becomes patch-archive-group.
func keyName(field string) string {
	var b strings.Builder
	for n, r := range field {
		if unicode.IsUpper(r) {
			if n > 0 {
				b.WriteByte('-')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

// fieldsByKey maps attribute names to the exported fields of the struct s points to.
func fieldsByKey(s interface{}) (map[string]reflect.Value, error) {
	if s == nil || reflect.TypeOf(s).Kind() != reflect.Ptr {
		return nil, ErrNotStructPointer
	}
	v := reflect.Indirect(reflect.ValueOf(s))
	if !v.IsValid() || v.Kind() != reflect.Struct {
		return nil, ErrNotStructPointer
	}

	st := v.Type()
	fields := make(map[string]reflect.Value, st.NumField())
	for n := 0; n < st.NumField(); n++ {
		f := st.Field(n)
		if !f.IsExported() {
			continue
		}
		key := keyName(f.Name)
		if tag := f.Tag.Get(structTag); tag != "" {
			key = tag
		}
		fields[key] = v.Field(n)
	}
	return fields, nil
}

// Decode reads key = value lines into the exported fields of the struct pointed to by s.
//
// Field names are matched as lower case words joined by hyphens, unless a
// keyvalue struct tag names the key. Keys may appear in any order; keys
// without a matching field are skipped.
func Decode(r io.Reader, s interface{}) error {
	fields, err := fieldsByKey(s)
	if err != nil {
		return err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrap(err, "keyvalue: reading")
	}

	for _, ln := range attributeLines(b) {
		key, value, err := splitAttribute(ln, valueSeparator)
		if err != nil {
			return err
		}
		f, ok := fields[key]
		if !ok {
			continue
		}
		if err := setValue(f, value); err != nil {
			return errors.Wrapf(err, "keyvalue: setting field %v to %q", key, value)
		}
	}
	return nil
}

func setValue(f reflect.Value, value string) error {
	if f.CanAddr() && f.Addr().Type().Implements(textUnmarshalerType) {
		return f.Addr().Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(value))
	}

	switch f.Kind() {
	case reflect.String:
		f.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v, err := strconv.ParseInt(value, 10, f.Type().Bits())
		if err != nil {
			return errors.Wrap(ngdp.ErrMalformedLine, err.Error())
		}
		f.SetInt(v)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		v, err := strconv.ParseUint(value, 10, f.Type().Bits())
		if err != nil {
			return errors.Wrap(ngdp.ErrMalformedLine, err.Error())
		}
		f.SetUint(v)
	case reflect.Slice:
		// Space separated; each element is decoded as if it were a value of its own.
		bits := strings.Fields(value)
		sv := reflect.MakeSlice(f.Type(), len(bits), len(bits))
		for n, bit := range bits {
			if err := setValue(sv.Index(n), bit); err != nil {
				return errors.Wrapf(err, "element %d", n)
			}
		}
		f.Set(sv)
	case reflect.Struct:
		// Space separated, one value per field, in field order.
		bits := strings.Fields(value)
		if len(bits) != f.NumField() {
			return errors.Wrapf(ngdp.ErrMalformedLine, "keyvalue: %d values for a struct of %d fields", len(bits), f.NumField())
		}
		for n, bit := range bits {
			if err := setValue(f.Field(n), bit); err != nil {
				return err
			}
		}
	default:
		return errors.Errorf("keyvalue: don't know how to unpack into kind %v", f.Kind())
	}
	return nil
}

// ParseCDNConfig decodes a CDN config file.
func ParseCDNConfig(r io.Reader) (*ngdp.CDNConfig, error) {
	var c ngdp.CDNConfig
	if err := Decode(r, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
