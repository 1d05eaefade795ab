package probe

import (
	"fmt"
	"sort"
	"time"

	"relaywatch/internal/store"
)

// Aggregation selects the bucket width for timeline building.
type Aggregation string

const (
	AggregationNone  Aggregation = "none"
	AggregationHour  Aggregation = "hour"
	Aggregation6Hour Aggregation = "6hour"
	AggregationDay   Aggregation = "day"
)

func ParseAggregation(s string) (Aggregation, error) {
	switch Aggregation(s) {
	case "", AggregationNone:
		return AggregationNone, nil
	case AggregationHour, Aggregation6Hour, AggregationDay:
		return Aggregation(s), nil
	}
	return "", fmt.Errorf("unknown aggregation %q", s)
}

// TimelinePoint is one plotted sample: a raw record when unaggregated, or
// one bucket's summary otherwise. AvgLatencyMS is nil when no latency was
// observed.
type TimelinePoint struct {
	Timestamp    time.Time      `json:"timestamp"`
	Category     store.Category `json:"status_category"`
	StatusName   string         `json:"status_name"`
	Count        int            `json:"count"`
	AvgLatencyMS *float64       `json:"avg_latency_ms"`
}

// PairTimeline is one pair's series in a batch timeline.
type PairTimeline struct {
	ProviderID       int64           `json:"provider_id"`
	ModelID          int64           `json:"model_id"`
	Timeline         []TimelinePoint `json:"timeline"`
	UptimePercentage float64         `json:"uptime_percentage"`
}

type statusInfo struct {
	category store.Category
	name     string
}

type statusTable map[int]statusInfo

func newStatusTable(rules []store.StatusRule) statusTable {
	table := make(statusTable, len(rules)+1)
	for _, rule := range rules {
		table[rule.Code] = statusInfo{category: rule.Category, name: rule.Name}
	}
	table[store.UnknownStatusCode] = statusInfo{category: store.CategoryYellow, name: "unknown"}
	return table
}

func (t statusTable) resolve(code int) statusInfo {
	if info, ok := t[code]; ok {
		return info
	}
	return t[store.UnknownStatusCode]
}

// StatusLookup maps a status code to its category and display name, with
// the unknown fallback for codes whose rule no longer exists.
func StatusLookup(rules []store.StatusRule) func(code int) (store.Category, string) {
	table := newStatusTable(rules)
	return func(code int) (store.Category, string) {
		info := table.resolve(code)
		return info.category, info.name
	}
}

// BuildTimeline turns history records, oldest first, into a plotted series.
// Aggregated buckets carry the dominant category (any red makes the bucket
// red, else any yellow makes it yellow) and the most frequent status name
// within that category.
func BuildTimeline(records []store.ProbeRecord, rules []store.StatusRule, agg Aggregation) []TimelinePoint {
	table := newStatusTable(rules)

	if agg == AggregationNone {
		points := make([]TimelinePoint, 0, len(records))
		for _, rec := range records {
			info := table.resolve(rec.StatusCode)
			points = append(points, TimelinePoint{
				Timestamp:    rec.CheckedAt,
				Category:     info.category,
				StatusName:   info.name,
				Count:        1,
				AvgLatencyMS: latencyValue(rec.LatencyMS),
			})
		}
		return points
	}

	type bucket struct {
		counts    map[store.Category]int
		names     map[store.Category][]string
		latencies []int64
	}
	buckets := map[time.Time]*bucket{}
	for _, rec := range records {
		key := bucketStart(rec.CheckedAt, agg)
		b := buckets[key]
		if b == nil {
			b = &bucket{counts: map[store.Category]int{}, names: map[store.Category][]string{}}
			buckets[key] = b
		}
		info := table.resolve(rec.StatusCode)
		b.counts[info.category]++
		b.names[info.category] = append(b.names[info.category], info.name)
		if rec.LatencyMS != 0 {
			b.latencies = append(b.latencies, rec.LatencyMS)
		}
	}

	keys := make([]time.Time, 0, len(buckets))
	for key := range buckets {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })

	points := make([]TimelinePoint, 0, len(keys))
	for _, key := range keys {
		b := buckets[key]
		category := store.CategoryGreen
		switch {
		case b.counts[store.CategoryRed] > 0:
			category = store.CategoryRed
		case b.counts[store.CategoryYellow] > 0:
			category = store.CategoryYellow
		}
		var avg *float64
		if len(b.latencies) > 0 {
			var sum int64
			for _, latency := range b.latencies {
				sum += latency
			}
			value := float64(sum) / float64(len(b.latencies))
			avg = &value
		}
		points = append(points, TimelinePoint{
			Timestamp:    key,
			Category:     category,
			StatusName:   mostCommon(b.names[category]),
			Count:        b.counts[store.CategoryGreen] + b.counts[store.CategoryYellow] + b.counts[store.CategoryRed],
			AvgLatencyMS: avg,
		})
	}
	return points
}

// GroupTimelines splits records per pair and builds each pair's series. A
// non-empty categories list drops records of other categories before
// bucketing; pairs left with no records are omitted.
func GroupTimelines(records []store.ProbeRecord, rules []store.StatusRule, agg Aggregation, categories []store.Category) []PairTimeline {
	table := newStatusTable(rules)
	allowed := map[store.Category]bool{}
	for _, category := range categories {
		allowed[category] = true
	}

	grouped := map[store.Pair][]store.ProbeRecord{}
	for _, rec := range records {
		if len(allowed) > 0 && !allowed[table.resolve(rec.StatusCode).category] {
			continue
		}
		pair := store.Pair{ProviderID: rec.ProviderID, ModelID: rec.ModelID}
		grouped[pair] = append(grouped[pair], rec)
	}

	pairs := make([]store.Pair, 0, len(grouped))
	for pair := range grouped {
		pairs = append(pairs, pair)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].ProviderID != pairs[j].ProviderID {
			return pairs[i].ProviderID < pairs[j].ProviderID
		}
		return pairs[i].ModelID < pairs[j].ModelID
	})

	out := make([]PairTimeline, 0, len(pairs))
	for _, pair := range pairs {
		timeline := BuildTimeline(grouped[pair], rules, agg)
		out = append(out, PairTimeline{
			ProviderID:       pair.ProviderID,
			ModelID:          pair.ModelID,
			Timeline:         timeline,
			UptimePercentage: UptimePercent(timeline),
		})
	}
	return out
}

// UptimePercent is the share of green points in a series.
func UptimePercent(points []TimelinePoint) float64 {
	if len(points) == 0 {
		return 0
	}
	green := 0
	for _, point := range points {
		if point.Category == store.CategoryGreen {
			green++
		}
	}
	return float64(green) / float64(len(points)) * 100
}

func bucketStart(t time.Time, agg Aggregation) time.Time {
	t = t.UTC()
	switch agg {
	case Aggregation6Hour:
		return time.Date(t.Year(), t.Month(), t.Day(), (t.Hour()/6)*6, 0, 0, 0, time.UTC)
	case AggregationDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC)
	}
}

func mostCommon(names []string) string {
	if len(names) == 0 {
		return "unknown"
	}
	counts := map[string]int{}
	best, bestCount := "", 0
	for _, name := range names {
		counts[name]++
		if counts[name] > bestCount || (counts[name] == bestCount && name < best) {
			best, bestCount = name, counts[name]
		}
	}
	return best
}

func latencyValue(latencyMS int64) *float64 {
	if latencyMS == 0 {
		return nil
	}
	value := float64(latencyMS)
	return &value
}
