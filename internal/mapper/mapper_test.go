package mapper

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapStrictSKUCandidates(t *testing.T) {
	m := New(StrategyStrict)

	cases := []struct {
		name    string
		headers []string
		row     map[string]string
		wantSKU string
	}{
		{"plain sku", []string{"sku"}, map[string]string{"sku": "abc-1"}, "ABC-1"},
		{"upper header", []string{"SKU"}, map[string]string{"SKU": "abc-1"}, "ABC-1"},
		{"product_sku", []string{"product_sku"}, map[string]string{"product_sku": "p-9"}, "P-9"},
		{"item_sku", []string{"item_sku"}, map[string]string{"item_sku": "i-9"}, "I-9"},
		{"code", []string{"code"}, map[string]string{"code": "c-9"}, "C-9"},
		{"id", []string{"id"}, map[string]string{"id": "77"}, "77"},
		{"whitespace trimmed", []string{"sku"}, map[string]string{"sku": "  x1  "}, "X1"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fields, err := m.Map(tc.headers, tc.row)
			require.NoError(t, err)
			assert.Equal(t, tc.wantSKU, fields.SKU)
			assert.True(t, fields.IsActive)
		})
	}
}

func TestMapStrictCandidatePriority(t *testing.T) {
	m := New(StrategyStrict)

	// "sku" outranks "code" and "id" regardless of column order.
	fields, err := m.Map(
		[]string{"id", "code", "sku"},
		map[string]string{"id": "1", "code": "C1", "sku": "s1"},
	)
	require.NoError(t, err)
	assert.Equal(t, "S1", fields.SKU)
}

func TestMapNoSKUFails(t *testing.T) {
	m := New(StrategyStrict)

	_, err := m.Map([]string{"name", "price"}, map[string]string{"name": "Widget", "price": "9.99"})
	assert.ErrorIs(t, err, ErrNoSKU)

	// Present but empty or NAN counts as absent.
	_, err = m.Map([]string{"sku"}, map[string]string{"sku": "   "})
	assert.ErrorIs(t, err, ErrNoSKU)

	_, err = m.Map([]string{"sku"}, map[string]string{"sku": "nan"})
	assert.ErrorIs(t, err, ErrNoSKU)
}

func TestMapNameDefaultAndTruncation(t *testing.T) {
	m := New(StrategyStrict)

	fields, err := m.Map([]string{"sku"}, map[string]string{"sku": "b2"})
	require.NoError(t, err)
	assert.Equal(t, "Product B2", fields.Name)

	long := strings.Repeat("x", 300)
	fields, err = m.Map([]string{"sku", "name"}, map[string]string{"sku": "a1", "name": long})
	require.NoError(t, err)
	assert.Len(t, fields.Name, 255)
}

func TestMapNameCandidates(t *testing.T) {
	m := New(StrategyStrict)

	fields, err := m.Map(
		[]string{"sku", "title", "product_name"},
		map[string]string{"sku": "a1", "title": "From Title", "product_name": "From ProductName"},
	)
	require.NoError(t, err)
	// product_name outranks title in candidate order.
	assert.Equal(t, "From ProductName", fields.Name)
}

func TestMapDescription(t *testing.T) {
	m := New(StrategyStrict)

	fields, err := m.Map(
		[]string{"sku", "desc"},
		map[string]string{"sku": "a1", "desc": " some text "},
	)
	require.NoError(t, err)
	assert.Equal(t, "some text", fields.Description)

	fields, err = m.Map([]string{"sku"}, map[string]string{"sku": "a1"})
	require.NoError(t, err)
	assert.Equal(t, "", fields.Description)
}

func TestMapKeywordStrategy(t *testing.T) {
	m := New(StrategyKeyword)

	// Substring containment: "item_code" matches the sku bucket via "code",
	// "product_title" matches the name bucket.
	fields, err := m.Map(
		[]string{"item_code", "product_title"},
		map[string]string{"item_code": "k-1", "product_title": "Keyword Widget"},
	)
	require.NoError(t, err)
	assert.Equal(t, "K-1", fields.SKU)
	assert.Equal(t, "Keyword Widget", fields.Name)
}

func TestMapKeywordScansInFileOrder(t *testing.T) {
	m := New(StrategyKeyword)

	// Both columns land in the sku bucket; file order decides.
	fields, err := m.Map(
		[]string{"code", "sku"},
		map[string]string{"code": "FIRST", "sku": "SECOND"},
	)
	require.NoError(t, err)
	assert.Equal(t, "FIRST", fields.SKU)
}

func TestStrategiesDisagreeOnAmbiguousHeaders(t *testing.T) {
	// A column literally named "product_id" is not a strict SKU candidate,
	// but the keyword bucket accepts it via "id".
	headers := []string{"product_id", "name"}
	row := map[string]string{"product_id": "p-7", "name": "Ambiguous"}

	_, err := New(StrategyStrict).Map(headers, row)
	assert.ErrorIs(t, err, ErrNoSKU)

	fields, err := New(StrategyKeyword).Map(headers, row)
	require.NoError(t, err)
	assert.Equal(t, "P-7", fields.SKU)
}

func TestRawSKU(t *testing.T) {
	strict := New(StrategyStrict)

	// Unusable values are still surfaced raw for error attribution.
	assert.Equal(t, "NAN", strict.RawSKU([]string{"sku", "name"}, map[string]string{"sku": "NAN", "name": "Widget"}))
	assert.Equal(t, "", strict.RawSKU([]string{"sku"}, map[string]string{"sku": "   "}))
	assert.Equal(t, "", strict.RawSKU([]string{"name"}, map[string]string{"name": "Widget"}))
	assert.Equal(t, "P-1", strict.RawSKU([]string{"code"}, map[string]string{"code": " P-1 "}))

	keyword := New(StrategyKeyword)
	assert.Equal(t, "X9", keyword.RawSKU([]string{"item_code", "name"}, map[string]string{"item_code": "X9", "name": "Widget"}))
}

func TestProjectHeaders(t *testing.T) {
	headers := []string{"sku", "price", "product_description", "weight", "title"}
	assert.Equal(t, []string{"sku", "product_description", "title"}, ProjectHeaders(headers))
}

func TestHasSKUColumn(t *testing.T) {
	assert.True(t, HasSKUColumn([]string{"Name", "SKU"}, StrategyStrict))
	assert.False(t, HasSKUColumn([]string{"name", "product_id"}, StrategyStrict))
	assert.True(t, HasSKUColumn([]string{"name", "product_id"}, StrategyKeyword))
	assert.False(t, HasSKUColumn([]string{"name", "price"}, StrategyKeyword))
}
