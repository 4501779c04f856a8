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

package serializer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	t.Parallel()
	in := map[string]any{"hello": "world", "n": 42.0}
	data, err := Serialize(in)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, Deserialize(data, &out))
	assert.Equal(t, in, out)
}

func TestSerializePassesStringsThrough(t *testing.T) {
	t.Parallel()
	data, err := Serialize(`{"already":"json"}`)
	require.NoError(t, err)
	assert.Equal(t, `{"already":"json"}`, string(data))
}

func TestDeserializeError(t *testing.T) {
	t.Parallel()
	var out map[string]any
	err := Deserialize([]byte("not json"), &out)
	require.Error(t, err)
	var serErr *Error
	require.ErrorAs(t, err, &serErr)
	assert.Equal(t, "deserialize", serErr.Op)
}

func TestNDSerialize(t *testing.T) {
	t.Parallel()
	data, err := NDSerialize([]any{
		map[string]any{"index": map[string]any{}},
		`{"field":"value"}`,
	})
	require.NoError(t, err)
	assert.Equal(t, "{\"index\":{}}\n{\"field\":\"value\"}\n", string(data))
}

func TestQSerialize(t *testing.T) {
	t.Parallel()
	qs, err := QSerialize(nil)
	require.NoError(t, err)
	assert.Equal(t, "", qs)

	qs, err = QSerialize(map[string]any{"x": nil})
	require.NoError(t, err)
	assert.Equal(t, "", qs)

	qs, err = QSerialize(map[string]any{
		"q":      "foo:bar",
		"winter": "is coming",
	})
	require.NoError(t, err)
	assert.Equal(t, "q=foo%3Abar&winter=is%20coming", qs)

	qs, err = QSerialize(map[string]any{"ids": []string{"a", "b", "c"}})
	require.NoError(t, err)
	assert.Equal(t, "ids=a%2Cb%2Cc", qs)

	qs, err = QSerialize(map[string]any{"size": 10, "refresh": true})
	require.NoError(t, err)
	assert.Equal(t, "refresh=true&size=10", qs)
}

func TestQSerializeRejectsUnsupportedType(t *testing.T) {
	t.Parallel()
	_, err := QSerialize(map[string]any{"bad": make(chan int)})
	require.Error(t, err)
	var serErr *Error
	require.ErrorAs(t, err, &serErr)
	assert.Equal(t, "qserialize", serErr.Op)
}
