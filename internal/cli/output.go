// Package cli provides output formatting for the Shiryo CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hyperjump/shiryo/internal/models"
	"github.com/hyperjump/shiryo/internal/storage"
	"github.com/hyperjump/shiryo/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputCompact prints one line per item.
	OutputCompact OutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const snippetLen = 300

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case OutputText, OutputCompact, OutputJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text, compact, or json", s)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteRetrieveResult writes a retrieval result to w in the given format.
func WriteRetrieveResult(w io.Writer, res *models.RetrieveResult, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, res)
	case OutputCompact:
		if !res.Found {
			fmt.Fprintf(w, "no store at %s\n", res.Location)
			return nil
		}
		for _, e := range res.Evidence {
			fmt.Fprintf(w, "%d\t%.4f\t%s#%d\t%s\n", e.Rank, e.Score, e.SourceID, e.SequenceIndex,
				utils.Truncate(oneLine(e.Text), 120))
		}
		return nil
	default:
		writeRetrieveText(w, res)
		return nil
	}
}

func writeRetrieveText(w io.Writer, res *models.RetrieveResult) {
	if !res.Found {
		fmt.Fprintf(w, "\nNo store at %s; fall back to abstracts or build the store first.\n", res.Location)
		return
	}
	fmt.Fprintf(w, "\nFound %d passages in %dms (store %s, generation %s)\n\n",
		len(res.Evidence), res.QueryTime, res.Location, res.Generation)
	for _, e := range res.Evidence {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Score: %.4f\n", e.Rank, e.Score)
		fmt.Fprintf(w, "Source: %s (chunk %d)\n", e.SourceID, e.SequenceIndex)
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(e.Text, snippetLen))
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// WriteSessions writes the session list to w.
func WriteSessions(w io.Writer, sessions []*models.Session, format OutputFormat) error {
	if format == OutputJSON {
		if sessions == nil {
			sessions = []*models.Session{}
		}
		return writeJSON(w, sessions)
	}
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions.")
		return nil
	}
	for _, s := range sessions {
		if format == OutputCompact {
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", s.ID, s.PapersCount, s.ChunksCount, s.Topic)
			continue
		}
		fmt.Fprintf(w, "%s\n", s.ID)
		fmt.Fprintf(w, "  topic:    %s\n", s.Topic)
		if s.Description != "" {
			fmt.Fprintf(w, "  about:    %s\n", utils.Truncate(s.Description, 80))
		}
		fmt.Fprintf(w, "  papers:   %d\n", s.PapersCount)
		fmt.Fprintf(w, "  chunks:   %d\n", s.ChunksCount)
		fmt.Fprintf(w, "  updated:  %s\n", s.UpdatedAt.Local().Format(time.DateTime))
	}
	return nil
}

// WriteStats writes store statistics to w.
func WriteStats(w io.Writer, st *models.StoreStats, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	fmt.Fprintf(w, "location:           %s\n", st.Location)
	fmt.Fprintf(w, "exists:             %t\n", st.Exists)
	if st.Generation != "" {
		fmt.Fprintf(w, "generation:         %s\n", st.Generation)
	}
	fmt.Fprintf(w, "generations:        %d   # retained on disk\n", st.Generations)
	fmt.Fprintf(w, "disk_usage_bytes:   %d\n", st.DiskUsageBytes)
	if m := st.Meta; m != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# store")
		fmt.Fprintf(w, "chunks:             %d\n", m.ChunkCount)
		fmt.Fprintf(w, "sources:            %d\n", m.Sources)
		fmt.Fprintf(w, "dimension:          %d\n", m.Dimension)
		fmt.Fprintf(w, "model:              %s\n", m.ModelIdentity)
		fmt.Fprintf(w, "chunk_size:         %d\n", m.ChunkSize)
		fmt.Fprintf(w, "chunk_overlap:      %d\n", m.ChunkOverlap)
		fmt.Fprintf(w, "built:              %s\n", m.BuildTimestamp.Local().Format(time.DateTime))
	}
	return nil
}

// WriteBuildResult writes the outcome of a build to w.
func WriteBuildResult(w io.Writer, res *storage.BuildResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, res)
	}
	fmt.Fprintf(w, "Built %d chunks (dimension %d) from %d sources in %s\n",
		res.ChunkCount, res.Dimension, res.Sources, res.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Published %s at %s\n", res.Generation, res.Location)
	if len(res.Skipped) > 0 {
		fmt.Fprintf(w, "Skipped %d unreadable: %s\n", len(res.Skipped), strings.Join(res.Skipped, ", "))
	}
	return nil
}
