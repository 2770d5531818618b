package models

// Evidence is one retrieved passage.
type Evidence struct {
	Text          string  `json:"text"`
	Score         float64 `json:"score"`
	SourceID      string  `json:"source_id"`
	SequenceIndex int     `json:"sequence_index"`
	Rank          int     `json:"rank"`
}

// RetrieveResult is the response to a retrieval request.
// Found is false when the resolved location holds no store; callers fall back
// to coarser evidence (e.g. abstracts) in that case.
type RetrieveResult struct {
	Found      bool        `json:"found"`
	Location   string      `json:"location"`
	Generation string      `json:"generation,omitempty"`
	Evidence   []*Evidence `json:"evidence"`
	QueryTime  int64       `json:"query_time_ms"`
	Query      string      `json:"query"`
}
