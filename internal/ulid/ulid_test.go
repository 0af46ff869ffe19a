package ulid

import (
	"encoding/json"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	id := Generate()

	assert.False(t, id.IsZero(), "Generated ULID should not be zero")
	assert.False(t, id.HasPrefix())
	assert.WithinDuration(t, time.Now(), id.Time(), time.Second)
}

func TestGenerateWithPrefix(t *testing.T) {
	prefixes := []string{PrefixElement, PrefixSyncLog, PrefixSetting, PrefixRun, "custom"}

	for _, prefix := range prefixes {
		id := GenerateWithPrefix(prefix)

		assert.Equal(t, prefix, id.Prefix())
		assert.True(t, id.HasPrefix())
		assert.True(t, strings.HasPrefix(id.String(), prefix+PrefixSeparator))
		assert.Equal(t, id.RawString(), strings.TrimPrefix(id.String(), prefix+PrefixSeparator))
	}
}

func TestParse(t *testing.T) {
	raw := Generate()
	parsedRaw, err := Parse(raw.String())
	require.NoError(t, err)
	assert.Equal(t, raw, parsedRaw)

	prefixed := GenerateWithPrefix(PrefixElement)
	parsedPrefixed, err := Parse(prefixed.String())
	require.NoError(t, err)
	assert.Equal(t, prefixed, parsedPrefixed)
	assert.Equal(t, PrefixElement, parsedPrefixed.Prefix())

	_, err = Parse("el-not-a-ulid")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	assert.True(t, Validate(Generate().String()))
	assert.True(t, Validate(ElementID()))
	assert.False(t, Validate("invalid"))
	assert.False(t, Validate(""))
}

func TestHasPrefixOf(t *testing.T) {
	id := ElementID()

	assert.True(t, HasPrefixOf(id, PrefixElement))
	assert.False(t, HasPrefixOf(id, PrefixSyncLog))
	assert.False(t, HasPrefixOf("garbage", PrefixElement))
}

func TestMonotonicOrdering(t *testing.T) {
	ids := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		ids = append(ids, ElementID())
	}

	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	assert.Equal(t, ids, sorted, "ids generated in sequence should already be sorted")
}

func TestJSONRoundTrip(t *testing.T) {
	id := GenerateWithPrefix(PrefixRun)

	data, err := json.Marshal(id)
	require.NoError(t, err)
	assert.Equal(t, `"`+id.String()+`"`, string(data))

	var decoded ULID
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, id, decoded)
}

func TestScanAndValue(t *testing.T) {
	id := GenerateWithPrefix(PrefixSetting)

	v, err := id.Value()
	require.NoError(t, err)
	assert.Equal(t, id.String(), v)

	var fromString ULID
	require.NoError(t, fromString.Scan(id.String()))
	assert.Equal(t, id, fromString)

	var fromBytes ULID
	require.NoError(t, fromBytes.Scan([]byte(id.String())))
	assert.Equal(t, id, fromBytes)

	var fromNil ULID
	require.NoError(t, fromNil.Scan(nil))
	assert.True(t, fromNil.IsZero())

	var bad ULID
	assert.Error(t, bad.Scan(42))
}

func TestCompare(t *testing.T) {
	earlier := NewWithTime(time.Now().Add(-time.Hour))
	later := Generate()

	assert.Equal(t, -1, earlier.Compare(later))
	assert.Equal(t, 1, later.Compare(earlier))
	assert.Equal(t, 0, later.Compare(later))
}
