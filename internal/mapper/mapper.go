// Package mapper normalizes heterogeneous CSV rows into canonical product
// fields. Column matching is table-driven: each field has an ordered
// candidate list (strict strategy) and a keyword bucket (keyword strategy),
// resolved against the lower-cased headers of the actual file at runtime.
package mapper

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoSKU is returned when a row carries no usable SKU-bearing column.
var ErrNoSKU = errors.New("no valid SKU found in row")

// missingMarker is the literal value treated as absent, case-insensitively.
// It is what spreadsheet round-trips tend to leave behind for empty cells.
const missingMarker = "NAN"

// maxNameLen caps product names to the store's column width.
const maxNameLen = 255

// Strategy selects how columns are matched against the field tables.
type Strategy string

const (
	// StrategyStrict matches headers against ordered candidate lists,
	// first exact (case-insensitive) match wins.
	StrategyStrict Strategy = "strict"
	// StrategyKeyword matches by substring containment against keyword
	// buckets, scanning columns in file order. Faster on wide files,
	// looser on ambiguous headers.
	StrategyKeyword Strategy = "keyword"
)

// ProductFields is the canonical mapping result for one row.
type ProductFields struct {
	SKU         string
	Name        string
	Description string
	IsActive    bool
}

// Ordered candidate headers per field, highest priority first.
var (
	skuCandidates  = []string{"sku", "product_sku", "item_sku", "code", "id"}
	nameCandidates = []string{"name", "product_name", "item_name", "title", "product"}
	descCandidates = []string{"description", "desc", "product_description"}
)

// Keyword buckets per field for substring matching.
var (
	skuKeywords  = []string{"sku", "code", "id"}
	nameKeywords = []string{"name", "title", "product"}
	descKeywords = []string{"description", "desc"}
)

// projectionKeywords is the column-projection set for high-throughput mode:
// columns whose header contains none of these carry nothing the mapper uses.
var projectionKeywords = []string{"sku", "name", "description", "product", "item", "code", "id", "title", "desc"}

// Mapper maps raw rows to ProductFields using the configured strategy.
type Mapper struct {
	strategy Strategy
}

func New(strategy Strategy) *Mapper {
	if strategy != StrategyKeyword {
		strategy = StrategyStrict
	}
	return &Mapper{strategy: strategy}
}

func (m *Mapper) Strategy() Strategy {
	return m.strategy
}

// Map resolves one row into ProductFields. headers carry the file's column
// order, which the keyword strategy depends on; the strict strategy ignores
// it. Row keys are the original headers. Fails with ErrNoSKU when no usable
// SKU column is present.
func (m *Mapper) Map(headers []string, row map[string]string) (ProductFields, error) {
	var sku, name, description string

	if m.strategy == StrategyKeyword {
		sku = firstByKeyword(headers, row, skuKeywords)
		name = firstByKeyword(headers, row, nameKeywords)
		description = firstByKeyword(headers, row, descKeywords)
	} else {
		sku = firstByCandidate(row, skuCandidates)
		name = firstByCandidate(row, nameCandidates)
		description = firstByCandidate(row, descCandidates)
	}

	if sku == "" {
		return ProductFields{}, ErrNoSKU
	}
	sku = strings.ToUpper(sku)

	if name == "" {
		name = fmt.Sprintf("Product %s", sku)
	}
	name = truncate(name, maxNameLen)

	return ProductFields{
		SKU:         sku,
		Name:        name,
		Description: description,
		IsActive:    true,
	}, nil
}

// RawSKU returns the trimmed raw value of the row's first SKU-bearing
// column, without rejecting empties or the missing marker. It attributes
// row errors to a SKU even when the value is unusable.
func (m *Mapper) RawSKU(headers []string, row map[string]string) string {
	if m.strategy == StrategyKeyword {
		for _, h := range headers {
			lower := strings.ToLower(h)
			for _, kw := range skuKeywords {
				if strings.Contains(lower, kw) {
					return strings.TrimSpace(row[h])
				}
			}
		}
		return ""
	}
	for _, candidate := range skuCandidates {
		for key, value := range row {
			if strings.EqualFold(strings.TrimSpace(key), candidate) {
				return strings.TrimSpace(value)
			}
		}
	}
	return ""
}

// ProjectHeaders returns the subset of headers worth reading in keyword
// mode, preserving file order. Non-matching columns can be skipped before
// mapping.
func ProjectHeaders(headers []string) []string {
	projected := make([]string, 0, len(headers))
	for _, h := range headers {
		lower := strings.ToLower(h)
		for _, kw := range projectionKeywords {
			if strings.Contains(lower, kw) {
				projected = append(projected, h)
				break
			}
		}
	}
	return projected
}

// HasSKUColumn reports whether any header could yield a SKU under the given
// strategy. Used to reject structurally hopeless files before processing.
func HasSKUColumn(headers []string, strategy Strategy) bool {
	if strategy == StrategyKeyword {
		for _, h := range headers {
			lower := strings.ToLower(h)
			for _, kw := range skuKeywords {
				if strings.Contains(lower, kw) {
					return true
				}
			}
		}
		return false
	}
	for _, h := range headers {
		lower := strings.ToLower(strings.TrimSpace(h))
		for _, c := range skuCandidates {
			if lower == c {
				return true
			}
		}
	}
	return false
}

// firstByCandidate returns the first usable value matching the ordered
// candidate list, comparing headers case-insensitively.
func firstByCandidate(row map[string]string, candidates []string) string {
	for _, candidate := range candidates {
		for key, value := range row {
			if strings.EqualFold(strings.TrimSpace(key), candidate) {
				if v, ok := usable(value); ok {
					return v
				}
			}
		}
	}
	return ""
}

// firstByKeyword scans columns in file order and returns the first usable
// value whose header contains any of the bucket's keywords.
func firstByKeyword(headers []string, row map[string]string, keywords []string) string {
	for _, h := range headers {
		lower := strings.ToLower(h)
		matched := false
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		if v, ok := usable(row[h]); ok {
			return v
		}
	}
	return ""
}

// usable trims the value and rejects empties and the missing-value marker.
func usable(value string) (string, bool) {
	v := strings.TrimSpace(value)
	if v == "" || strings.EqualFold(v, missingMarker) {
		return "", false
	}
	return v, true
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
