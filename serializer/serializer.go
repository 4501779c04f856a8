// Copyright 2023 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package serializer is the pure codec layer used by the transport: JSON
// for request/response bodies, newline-delimited JSON for bulk bodies,
// and URL query-string encoding for request parameters. None of these
// functions perform I/O.
package serializer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Serialize JSON-encodes v. Strings are passed through unchanged, since
// callers that already have a wire-ready body should not pay for a
// round-trip through the JSON encoder.
func Serialize(v any) ([]byte, error) {
	if s, ok := v.(string); ok {
		return []byte(s), nil
	}
	if b, ok := v.([]byte); ok {
		return b, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &Error{Op: "serialize", Err: err}
	}
	return data, nil
}

// Deserialize JSON-decodes data into out.
func Deserialize(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Op: "deserialize", Err: err}
	}
	return nil
}

// NDSerialize encodes items as newline-delimited JSON: each element that
// is already a string is emitted verbatim followed by "\n"; every other
// element is JSON-encoded and then followed by "\n". There is no trailing
// separator beyond the final newline.
func NDSerialize(items []any) ([]byte, error) {
	var buf bytes.Buffer
	for _, item := range items {
		if s, ok := item.(string); ok {
			buf.WriteString(s)
			buf.WriteByte('\n')
			continue
		}
		encoded, err := Serialize(item)
		if err != nil {
			return nil, err
		}
		buf.Write(encoded)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// QSerialize encodes a mapping of query parameters as a
// application/x-www-form-urlencoded string. A nil map or one with no
// defined values yields "". Values that are already strings are passed
// through; slices are joined with commas before encoding; keys whose
// value is nil are dropped. A value of a type QSerialize does not know
// how to render on the wire (anything other than string, bool, int,
// int64, float64, []string, []any, or fmt.Stringer) is an error rather
// than a best-effort %v dump.
func QSerialize(values map[string]any) (string, error) {
	if len(values) == 0 {
		return "", nil
	}
	form := url.Values{}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := values[k]
		if v == nil {
			continue
		}
		s, err := stringifyQueryValue(v)
		if err != nil {
			return "", &Error{Op: "qserialize", Err: fmt.Errorf("parameter %q: %w", k, err)}
		}
		form.Set(k, s)
	}
	// url.Values.Encode follows application/x-www-form-urlencoded and
	// represents a space as "+"; the wire format callers actually expect
	// (and what a search-engine server parses) escapes it as "%20".
	return strings.ReplaceAll(form.Encode(), "+", "%20"), nil
}

func stringifyQueryValue(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case bool:
		return strconv.FormatBool(val), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case []string:
		return strings.Join(val, ","), nil
	case []any:
		parts := make([]string, len(val))
		for i, elem := range val {
			s, err := stringifyQueryValue(elem)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return strings.Join(parts, ","), nil
	case fmt.Stringer:
		return val.String(), nil
	default:
		return "", fmt.Errorf("unsupported query parameter value type %T", v)
	}
}

// Error wraps a codec failure with the operation that produced it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("serializer: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }
