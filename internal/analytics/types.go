// Package analytics keeps a per-form Analytics snapshot fresh by combining
// a poll timer with live new_response notifications.
package analytics

import (
	"time"

	"github.com/matthewbaird/formsync/internal/form"
)

// Analytics is the server-computed aggregate for one form.
type Analytics struct {
	FormID          string                `json:"formId"`
	TotalResponses  int                   `json:"totalResponses"`
	RecentResponses int                   `json:"recentResponses"`
	FieldAnalytics  map[string]FieldStats `json:"fieldAnalytics"`
	LastUpdated     time.Time             `json:"lastUpdated"`

	RatingOverTime []RatingPoint        `json:"ratingOverTime,omitempty"`
	MostSkipped    []MostSkippedItem    `json:"mostSkipped,omitempty"`
	TopOptions     map[string]TopOption `json:"topOptions,omitempty"`
}

// FieldStats aggregates the answers to one field. Which optional members
// are set depends on the field type.
type FieldStats struct {
	FieldID       string         `json:"fieldId"`
	FieldLabel    string         `json:"fieldLabel"`
	FieldType     form.FieldType `json:"fieldType"`
	ResponseCount int            `json:"responseCount"`

	AverageRating      *float64       `json:"averageRating,omitempty"`
	RatingDistribution map[string]int `json:"ratingDistribution,omitempty"`
	OptionCounts       map[string]int `json:"optionCounts,omitempty"`
	TextResponses      []string       `json:"textResponses,omitempty"`
	NumberSummary      *NumberSummary `json:"numberSummary,omitempty"`
}

type NumberSummary struct {
	Average float64 `json:"average"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// RatingPoint is the mean rating across all rating fields on one day
// (YYYY-MM-DD).
type RatingPoint struct {
	Date    string  `json:"date"`
	Average float64 `json:"average"`
}

type MostSkippedItem struct {
	FieldID    string `json:"fieldId"`
	FieldLabel string `json:"fieldLabel"`
	Count      int    `json:"count"`
}

type TopOption struct {
	Option string `json:"option"`
	Count  int    `json:"count"`
}
