// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package credentials

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveMasterKey_DeterministicAndFullLength(t *testing.T) {
	seed, err := generateKey()
	require.NoError(t, err)

	k1, err := deriveMasterKey(seed)
	require.NoError(t, err)
	k2, err := deriveMasterKey(seed)
	require.NoError(t, err)

	assert.Len(t, k1, 32)
	assert.Equal(t, k1, k2)
}

func TestDeriveMasterKey_DifferentSeedsDifferentKeys(t *testing.T) {
	seedA, err := generateKey()
	require.NoError(t, err)
	seedB, err := generateKey()
	require.NoError(t, err)

	kA, err := deriveMasterKey(seedA)
	require.NoError(t, err)
	kB, err := deriveMasterKey(seedB)
	require.NoError(t, err)

	assert.NotEqual(t, kA, kB)
}

func TestDecodeKey_RejectsWrongLength(t *testing.T) {
	short := base64.StdEncoding.EncodeToString([]byte("too-short"))
	_, err := decodeKey(short, "test key")
	assert.Error(t, err)
}

func TestDecodeKey_RejectsInvalidBase64(t *testing.T) {
	_, err := decodeKey("not-valid-base64!!!", "test key")
	assert.Error(t, err)
}

func TestDecodeKey_AcceptsValid32ByteKey(t *testing.T) {
	key, err := generateKey()
	require.NoError(t, err)
	encoded := base64.StdEncoding.EncodeToString(key)

	decoded, err := decodeKey(encoded, "test key")
	require.NoError(t, err)
	assert.Equal(t, key, decoded)
}
