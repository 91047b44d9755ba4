package devserver

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/matthewbaird/formsync/internal/analytics"
	"github.com/matthewbaird/formsync/internal/form"
)

const (
	maxTextResponses = 20
	maxMostSkipped   = 3
	recentWindow     = 24 * time.Hour
)

type numericAgg struct {
	count    int
	sum      float64
	min, max float64
	dist     map[float64]int
}

func (a *numericAgg) add(v float64) {
	if a.count == 0 || v < a.min {
		a.min = v
	}
	if a.count == 0 || v > a.max {
		a.max = v
	}
	a.count++
	a.sum += v
	if a.dist != nil {
		a.dist[v]++
	}
}

type dayAgg struct {
	sum   float64
	count int
}

// Aggregate computes the analytics of f over responses as of now. The
// order of responses does not matter.
func Aggregate(f form.Form, responses []form.Response, now time.Time) analytics.Analytics {
	responses = chronological(responses)
	stats := make(map[string]analytics.FieldStats, len(f.Fields))
	nums := make(map[string]*numericAgg)
	skipped := make(map[string]int)
	ratingDaily := make(map[string]dayAgg)

	for _, fd := range f.Fields {
		fs := analytics.FieldStats{FieldID: fd.ID, FieldLabel: fd.Label, FieldType: fd.Type}
		switch fd.Type {
		case form.FieldMultipleChoice, form.FieldCheckbox:
			fs.OptionCounts = make(map[string]int, len(fd.Options))
			for _, opt := range fd.Options {
				fs.OptionCounts[opt] = 0
			}
		case form.FieldRating:
			nums[fd.ID] = &numericAgg{dist: make(map[float64]int)}
		case form.FieldNumber:
			nums[fd.ID] = &numericAgg{}
		case form.FieldText, form.FieldTextarea, form.FieldEmail:
			fs.TextResponses = []string{}
		}
		stats[fd.ID] = fs
	}

	recent := 0
	for _, r := range responses {
		day := ""
		if r.SubmittedAt != nil {
			day = r.SubmittedAt.Format("2006-01-02")
			if now.Sub(*r.SubmittedAt) <= recentWindow {
				recent++
			}
		}

		for _, fd := range f.Fields {
			v, ok := r.Responses[fd.ID]
			if !ok || form.IsEmptyValue(v) {
				skipped[fd.ID]++
				continue
			}
			fs := stats[fd.ID]
			switch fd.Type {
			case form.FieldMultipleChoice:
				fs.ResponseCount++
				fs.OptionCounts[fmt.Sprint(v)]++
			case form.FieldCheckbox:
				choices := form.Choices(v)
				if len(choices) > 0 {
					fs.ResponseCount++
				}
				for _, c := range choices {
					fs.OptionCounts[c]++
				}
			case form.FieldRating, form.FieldNumber:
				n, ok := form.NumberValue(v)
				if !ok {
					break
				}
				fs.ResponseCount++
				nums[fd.ID].add(n)
				if fd.Type == form.FieldRating && day != "" {
					d := ratingDaily[day]
					d.sum += n
					d.count++
					ratingDaily[day] = d
				}
			case form.FieldText, form.FieldTextarea, form.FieldEmail:
				fs.ResponseCount++
				fs.TextResponses = append(fs.TextResponses, fmt.Sprint(v))
				if len(fs.TextResponses) > maxTextResponses {
					fs.TextResponses = fs.TextResponses[len(fs.TextResponses)-maxTextResponses:]
				}
			}
			stats[fd.ID] = fs
		}
	}

	topOptions := make(map[string]analytics.TopOption)
	for _, fd := range f.Fields {
		fs := stats[fd.ID]
		if agg := nums[fd.ID]; agg != nil && agg.count > 0 {
			avg := agg.sum / float64(agg.count)
			switch fd.Type {
			case form.FieldRating:
				fs.AverageRating = &avg
				fs.RatingDistribution = make(map[string]int, len(agg.dist))
				for k, n := range agg.dist {
					fs.RatingDistribution[strconv.FormatFloat(k, 'f', -1, 64)] = n
				}
			case form.FieldNumber:
				fs.NumberSummary = &analytics.NumberSummary{Average: avg, Min: agg.min, Max: agg.max}
			}
		}
		if top, ok := topOption(fd.Options, fs.OptionCounts); ok {
			topOptions[fd.ID] = top
		}
		stats[fd.ID] = fs
	}

	return analytics.Analytics{
		FormID:          f.ID,
		TotalResponses:  len(responses),
		RecentResponses: recent,
		FieldAnalytics:  stats,
		LastUpdated:     now,
		RatingOverTime:  ratingTrend(ratingDaily),
		MostSkipped:     mostSkipped(f.Fields, skipped),
		TopOptions:      topOptions,
	}
}

func chronological(responses []form.Response) []form.Response {
	out := append([]form.Response(nil), responses...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].SubmittedAt, out[j].SubmittedAt
		if a == nil || b == nil {
			return a == nil && b != nil
		}
		return a.Before(*b)
	})
	return out
}

// topOption picks the most chosen option. Ties go to the option declared
// first, then to free-form answers in lexical order.
func topOption(declared []string, counts map[string]int) (analytics.TopOption, bool) {
	if len(counts) == 0 {
		return analytics.TopOption{}, false
	}
	order := append([]string(nil), declared...)
	var extra []string
	for opt := range counts {
		if !containsOption(declared, opt) {
			extra = append(extra, opt)
		}
	}
	sort.Strings(extra)
	order = append(order, extra...)

	best := analytics.TopOption{Count: -1}
	for _, opt := range order {
		if n := counts[opt]; n > best.Count {
			best = analytics.TopOption{Option: opt, Count: n}
		}
	}
	return best, true
}

func containsOption(opts []string, s string) bool {
	for _, o := range opts {
		if o == s {
			return true
		}
	}
	return false
}

func ratingTrend(daily map[string]dayAgg) []analytics.RatingPoint {
	days := make([]string, 0, len(daily))
	for d := range daily {
		days = append(days, d)
	}
	sort.Strings(days)

	out := make([]analytics.RatingPoint, 0, len(days))
	for _, d := range days {
		a := daily[d]
		out = append(out, analytics.RatingPoint{Date: d, Average: a.sum / float64(a.count)})
	}
	return out
}

func mostSkipped(fields []form.Field, skipped map[string]int) []analytics.MostSkippedItem {
	var items []analytics.MostSkippedItem
	for _, fd := range fields {
		if n := skipped[fd.ID]; n > 0 {
			items = append(items, analytics.MostSkippedItem{FieldID: fd.ID, FieldLabel: fd.Label, Count: n})
		}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Count > items[j].Count })
	if len(items) > maxMostSkipped {
		items = items[:maxMostSkipped]
	}
	return items
}
