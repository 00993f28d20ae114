// Package commands implements the gospadctl CLI commands.
package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// formatStatus renders a status snapshot in the requested format.
func formatStatus(status *statusResponse, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatStatusJSON(status)
	case formatTable:
		return formatStatusTable(status), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatStatusTable(s *statusResponse) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Run ID:\t%s\n", s.RunID)
	fmt.Fprintf(w, "Version:\t%s\n", s.Version)
	fmt.Fprintf(w, "Started At:\t%s\n", s.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Stanza Count:\t%d\n", s.StanzaCount)
	fmt.Fprintf(w, "Replay Store Size:\t%d\n", s.ReplayStoreSize)
	fmt.Fprintf(w, "Active Grants:\t%d\n", s.ActiveGrants)

	if err := w.Flush(); err != nil {
		return err.Error()
	}
	return buf.String()
}

func formatStatusJSON(s *statusResponse) (string, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal status to JSON: %w", err)
	}
	return string(data) + "\n", nil
}
