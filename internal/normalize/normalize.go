// Package normalize turns loosely-shaped backend product records into the
// canonical NormalizedProduct list shown to users.
package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"productsearch/pkg/domain"
)

// DefaultPlaceholderBase is prefixed to the percent-encoded product name when
// a record carries no image at all.
const DefaultPlaceholderBase = "https://via.placeholder.com/300x200?text="

type options struct {
	placeholderBase string
}

// Option customizes normalization.
type Option func(*options)

// WithPlaceholderBase overrides DefaultPlaceholderBase.
func WithPlaceholderBase(base string) Option {
	return func(o *options) {
		if strings.TrimSpace(base) != "" {
			o.placeholderBase = base
		}
	}
}

// Products maps raw records to normalized products. With dedupe set, only
// the first record per key (id, else name) survives, in first-seen order.
// Records with neither id nor name are dropped. It never fails.
func Products(raw []domain.RawProduct, dedupe bool, opts ...Option) []domain.NormalizedProduct {
	o := options{placeholderBase: DefaultPlaceholderBase}
	for _, opt := range opts {
		opt(&o)
	}

	out := make([]domain.NormalizedProduct, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, rec := range raw {
		if rec == nil {
			continue
		}
		id := stringField(rec, "id")
		name := stringField(rec, "name")
		if id == "" && name == "" {
			continue
		}
		if dedupe {
			key := dedupKey(id, name)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		out = append(out, domain.NormalizedProduct{
			ID:              id,
			Name:            name,
			Category:        stringField(rec, "category"),
			Description:     stringField(rec, "description"),
			Price:           price(rec["price"]),
			ImageSource:     ImageSource(rec, name, o.placeholderBase),
			SimilarityScore: optionalFloat(rec["similarity_score"]),
		})
	}
	return out
}

// dedupKey is the id when present, else the name. Both share one key space.
func dedupKey(id, name string) string {
	if id != "" {
		return id
	}
	return name
}

// FormatSimilarity renders a 0-1 score as a percentage with one decimal.
func FormatSimilarity(score *float64) string {
	if score == nil {
		return ""
	}
	return strconv.FormatFloat(*score*100, 'f', 1, 64) + "%"
}

func stringField(rec domain.RawProduct, key string) string {
	v, ok := rec[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case map[string]any, []any:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

func price(v any) domain.Price {
	f, ok := toFloat(v)
	if !ok {
		return domain.PriceUnavailable
	}
	return domain.NewPrice(f)
}

func optionalFloat(v any) *float64 {
	f, ok := toFloat(v)
	if !ok {
		return nil
	}
	return &f
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
