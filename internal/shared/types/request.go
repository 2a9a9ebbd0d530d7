package types

import "time"

// OpenPageRequest opens a page from inline HTML or a URL. When both are
// set the HTML is used and the URL only feeds year detection.
type OpenPageRequest struct {
	URL     string `json:"url,omitempty"`
	HTML    string `json:"html,omitempty"`
	Year    *int   `json:"year,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
	Swap    *bool  `json:"swap,omitempty"`
}

// AnnotateRequest is a one-shot annotation of an HTML fragment or page.
type AnnotateRequest struct {
	HTML     string `json:"html" binding:"required"`
	Year     int    `json:"year" binding:"required"`
	Swap     bool   `json:"swap"`
	Sanitize bool   `json:"sanitize"`
}

// AnnotateResponse carries the rewritten HTML.
type AnnotateResponse struct {
	HTML      string `json:"html"`
	Count     int    `json:"count"`
	Visited   int    `json:"visited"`
	Truncated bool   `json:"truncated"`
}

// MutationRequest inserts HTML into, or removes, the elements matching a
// CSS selector.
type MutationRequest struct {
	Selector string `json:"selector" binding:"required"`
	HTML     string `json:"html,omitempty"`
	Remove   bool   `json:"remove,omitempty"`
}

// MutationResponse reports what a mutation touched.
type MutationResponse struct {
	Matched int `json:"matched"`
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

// EnabledRequest toggles a boolean page setting.
type EnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// YearRequest overrides the page year; null clears the override.
type YearRequest struct {
	Year *int `json:"year"`
}

// PageSummary lists an open page.
type PageSummary struct {
	ID        string    `json:"id"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	Stats     Stats     `json:"stats"`
}

// ConvertResponse is the result of a CPI conversion.
type ConvertResponse struct {
	Amount        float64 `json:"amount"`
	From          int     `json:"from"`
	To            int     `json:"to"`
	EffectiveYear int     `json:"effectiveYear"`
	Adjusted      float64 `json:"adjusted"`
	Formatted     string  `json:"formatted"`
}

// BoundsResponse describes the loaded CPI table.
type BoundsResponse struct {
	Available bool   `json:"available"`
	Min       int    `json:"min,omitempty"`
	Max       int    `json:"max,omitempty"`
	Years     int    `json:"years"`
	Source    string `json:"source"`
}
