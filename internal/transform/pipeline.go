package transform

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/reportforge/internal/models"
)

// Apply runs the transformations in order over the input records. Each
// operator consumes the previous operator's output. The input slice is never
// mutated.
func Apply(records []models.Record, ops []models.Transformation) ([]models.Record, error) {
	out := records
	for _, op := range ops {
		var err error
		switch op.Type {
		case "filter":
			out = applyFilter(out, op)
		case "sort":
			out = applySort(out, op)
		case "group":
			out = applyGroup(out, op)
		case "select":
			out = applySelect(out, op)
		case "limit":
			out = applyLimit(out, op)
		default:
			err = fmt.Errorf("unknown transformation type: %s", op.Type)
		}
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// applyFilter keeps records for which the comparison holds. A comparison
// that cannot be evaluated keeps the record: the pipeline fails open rather
// than silently dropping data on malformed fields.
func applyFilter(records []models.Record, op models.Transformation) []models.Record {
	result := make([]models.Record, 0, len(records))
	for _, rec := range records {
		keep, err := evaluateFilter(rec[op.Field], op.Operator, op.Value)
		if err != nil {
			keep = true
		}
		if keep {
			result = append(result, rec)
		}
	}
	return result
}

func evaluateFilter(fieldValue interface{}, operator string, target interface{}) (bool, error) {
	switch operator {
	case "eq":
		return looseEqual(fieldValue, target), nil
	case "neq":
		return !looseEqual(fieldValue, target), nil
	case "gt", "gte", "lt", "lte":
		cmp, err := compareOrdered(fieldValue, target)
		if err != nil {
			return false, err
		}
		switch operator {
		case "gt":
			return cmp > 0, nil
		case "gte":
			return cmp >= 0, nil
		case "lt":
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	case "contains":
		return strings.Contains(stringify(fieldValue), stringify(target)), nil
	case "startsWith":
		return strings.HasPrefix(stringify(fieldValue), stringify(target)), nil
	case "endsWith":
		return strings.HasSuffix(stringify(fieldValue), stringify(target)), nil
	default:
		return false, fmt.Errorf("unknown filter operator: %s", operator)
	}
}

// applySort is a stable sort on the raw field values; ties preserve input
// order.
func applySort(records []models.Record, op models.Transformation) []models.Record {
	result := make([]models.Record, len(records))
	copy(result, records)
	desc := op.Direction == "desc"
	sort.SliceStable(result, func(i, j int) bool {
		cmp := compareRaw(result[i][op.Field], result[j][op.Field])
		if desc {
			return cmp > 0
		}
		return cmp < 0
	})
	return result
}

// applyGroup partitions records by the stringified value of the group field
// and emits one record per group carrying the key and the aggregation
// results. Groups appear in order of first appearance.
func applyGroup(records []models.Record, op models.Transformation) []models.Record {
	groups := make(map[string][]models.Record)
	var keys []string
	for _, rec := range records {
		key := stringify(rec[op.Field])
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], rec)
	}

	result := make([]models.Record, 0, len(keys))
	for _, key := range keys {
		members := groups[key]
		out := models.Record{op.Field: key}
		for _, agg := range op.Aggregations {
			out[agg.Name] = aggregate(members, agg)
		}
		result = append(result, out)
	}
	return result
}

// aggregate computes one aggregation over a group. Numeric aggregations
// coerce each value with parse-as-number-default-0, so min/max over a group
// of unparseable values reduce to 0 rather than an infinity sentinel.
func aggregate(members []models.Record, agg models.Aggregation) interface{} {
	if agg.Type == "count" {
		return len(members)
	}

	values := make([]float64, 0, len(members))
	for _, rec := range members {
		values = append(values, coerceNumber(rec[agg.Field]))
	}
	if len(values) == 0 {
		return float64(0)
	}

	switch agg.Type {
	case "sum", "avg":
		var sum float64
		for _, v := range values {
			sum += v
		}
		if agg.Type == "avg" {
			return sum / float64(len(values))
		}
		return sum
	case "min":
		min := values[0]
		for _, v := range values[1:] {
			if v < min {
				min = v
			}
		}
		return min
	case "max":
		max := values[0]
		for _, v := range values[1:] {
			if v > max {
				max = v
			}
		}
		return max
	default:
		return float64(0)
	}
}

// applySelect projects each record to exactly the named fields. Fields the
// record does not carry stay absent rather than becoming null.
func applySelect(records []models.Record, op models.Transformation) []models.Record {
	result := make([]models.Record, 0, len(records))
	for _, rec := range records {
		projected := make(models.Record, len(op.Fields))
		for _, field := range op.Fields {
			if v, ok := rec[field]; ok {
				projected[field] = v
			}
		}
		result = append(result, projected)
	}
	return result
}

// applyLimit slices the window [offset, offset+count). Count <= 0 means no
// upper bound, so {"type": "limit", "offset": N} skips N records and keeps
// the rest.
func applyLimit(records []models.Record, op models.Transformation) []models.Record {
	start := op.Offset
	if start < 0 {
		start = 0
	}
	if start > len(records) {
		start = len(records)
	}
	end := len(records)
	if op.Count > 0 && start+op.Count < end {
		end = start + op.Count
	}
	return records[start:end]
}

// toNumber parses v as a number. The bool reports whether parsing succeeded.
func toNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// coerceNumber is toNumber with 0 on failure.
func coerceNumber(v interface{}) float64 {
	n, _ := toNumber(v)
	return n
}

func stringify(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	if n, ok := toNumber(v); ok {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// looseEqual compares numerically when both sides are numeric, otherwise by
// string form.
func looseEqual(a, b interface{}) bool {
	if an, ok := toNumber(a); ok {
		if bn, ok := toNumber(b); ok {
			return an == bn
		}
	}
	return stringify(a) == stringify(b)
}

// compareOrdered is the 3-way comparison used by ordered filter operators.
// Both sides must be numeric or both strings; anything else is an evaluation
// error.
func compareOrdered(a, b interface{}) (int, error) {
	an, aok := toNumber(a)
	bn, bok := toNumber(b)
	if aok && bok {
		switch {
		case an < bn:
			return -1, nil
		case an > bn:
			return 1, nil
		default:
			return 0, nil
		}
	}
	as, aIsStr := a.(string)
	bs, bIsStr := b.(string)
	if aIsStr && bIsStr {
		return strings.Compare(as, bs), nil
	}
	return 0, fmt.Errorf("values are not comparable: %T vs %T", a, b)
}

// compareRaw orders raw field values for sorting: numbers before non-numbers,
// numerically when both sides are numeric, by string form otherwise. It never
// fails; unorderable pairs compare equal and keep input order.
func compareRaw(a, b interface{}) int {
	an, aok := toNumber(a)
	bn, bok := toNumber(b)
	switch {
	case aok && bok:
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		default:
			return 0
		}
	case aok:
		return -1
	case bok:
		return 1
	default:
		return strings.Compare(stringify(a), stringify(b))
	}
}
