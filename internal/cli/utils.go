// Package cli provides output helpers and an HTTP client for the kagami command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hyperjump/kagami/internal/models"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat maps a --output flag value to a format.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch s {
	case "", "text":
		return OutputText, nil
	case "json":
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d %s results in %dms (%d candidates scanned)\n\n",
		response.Total, response.QueryType, response.QueryTime, response.Candidates)
	for _, result := range response.Results {
		writeOneResult(w, result)
	}
	return nil
}

func writeOneResult(w io.Writer, result *models.SearchResult) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Rank: %d | Similarity: %.4f\n", result.Rank, result.Similarity)
	fmt.Fprintf(w, "Image: %s\n", result.EmbeddingID)
	fmt.Fprintf(w, "Source: %s\n", Truncate(result.Source, 120))
	e := result.Entity
	fmt.Fprintf(w, "Entity: %s (%s)", e.Name, e.ID)
	if e.Type != "" {
		fmt.Fprintf(w, " | %s", e.Type)
	}
	if e.Country != "" {
		fmt.Fprintf(w, " | %s", e.Country)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w)
}

// WriteOutcomes writes per-item bulk outcomes followed by a summary line.
func WriteOutcomes(w io.Writer, outcomes []*models.ItemOutcome, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, outcomes)
	}
	succeeded := 0
	for _, o := range outcomes {
		if o.Status == models.StatusSuccess {
			succeeded++
			fmt.Fprintf(w, "[%d] ok    %s -> %s\n", o.Index, o.ParentID, o.EmbeddingID)
			continue
		}
		fmt.Fprintf(w, "[%d] error %s: %s (%s)\n", o.Index, o.ParentID, Truncate(o.Error, 200), o.ErrorKind)
	}
	fmt.Fprintf(w, "\n%d succeeded, %d failed\n", succeeded, len(outcomes)-succeeded)
	return nil
}

// WriteStats writes collection statistics. sizeBytes is omitted when nil.
func WriteStats(w io.Writer, stats *models.Stats, sizeBytes *int64, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, struct {
			*models.Stats
			DatabaseSizeBytes *int64 `json:"database_size_bytes,omitempty"`
		}{stats, sizeBytes})
	}
	fmt.Fprintf(w, "Embeddings:               %d\n", stats.TotalEmbeddings)
	fmt.Fprintf(w, "Entities with embeddings: %d\n", stats.EntitiesWithEmbeddings)
	fmt.Fprintf(w, "Model:                    %s (%d dims)\n", stats.Model, stats.Dimensions)
	if sizeBytes != nil {
		fmt.Fprintf(w, "Database size:            %s\n", FormatBytes(*sizeBytes))
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Truncate truncates s to maxLen and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// FormatBytes renders n using binary units.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
