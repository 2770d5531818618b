package models

import (
	"fmt"
	"strings"
)

// RetrieveQuery is a retrieval request. Location takes precedence over ScopeID;
// with neither set the default store is queried.
type RetrieveQuery struct {
	Query    string            `json:"query"`
	K        int               `json:"k,omitempty"`
	Location string            `json:"location,omitempty"`
	ScopeID  string            `json:"scope_id,omitempty"`
	Filters  map[string]string `json:"filters,omitempty"`
}

// Validate checks the query text and clamps K into [1, maxK], using defaultK when K is unset.
func (q *RetrieveQuery) Validate(defaultK, maxK int) error {
	if strings.TrimSpace(q.Query) == "" {
		return fmt.Errorf("%w: query cannot be empty", ErrConfiguration)
	}
	if q.K < 0 {
		return fmt.Errorf("%w: k must be positive, got %d", ErrConfiguration, q.K)
	}
	if q.K == 0 {
		q.K = defaultK
	}
	if maxK > 0 && q.K > maxK {
		q.K = maxK
	}
	for key := range q.Filters {
		if !IsFilterKey(key) {
			return fmt.Errorf("%w: unsupported filter %q", ErrConfiguration, key)
		}
	}
	return nil
}

// Filter keys understood by store queries.
const (
	FilterSourceID = "source_id"
)

// IsFilterKey reports whether key is a supported metadata filter.
func IsFilterKey(key string) bool {
	return key == FilterSourceID
}
