package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// statusView mirrors adminapi's statusResponse JSON shape.
type statusView struct {
	FedID        uint16   `json:"fed_id"`
	FederationID string   `json:"federation_id"`
	GrantedTag   int64    `json:"granted_tag"`
	TagPending   bool     `json:"tag_pending"`
	StopRequest  bool     `json:"stop_requested"`
	Inbound      []uint16 `json:"inbound_peers"`
	Outbound     []uint16 `json:"outbound_peers"`
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the runtime's identity, granted tag, and peer link state",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			view, err := fetchStatus("http://" + serverAddr + "/status")
			if err != nil {
				return err
			}

			out, err := formatStatus(view, outputFormat)
			if err != nil {
				return err
			}

			fmt.Print(out)
			return nil
		},
	}
}

func fetchStatus(url string) (*statusView, error) {
	resp, err := httpClient.Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("fetch status: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var view statusView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		return nil, fmt.Errorf("decode status response: %w", err)
	}
	return &view, nil
}

func formatStatus(v *statusView, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatStatusJSON(v)
	case formatTable:
		return formatStatusTable(v), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatStatusJSON(v *statusView) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal status to JSON: %w", err)
	}
	return string(data) + "\n", nil
}

func formatStatusTable(v *statusView) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Fed ID:\t%d\n", v.FedID)
	fmt.Fprintf(w, "Federation ID:\t%s\n", v.FederationID)
	fmt.Fprintf(w, "Granted Tag:\t%d\n", v.GrantedTag)
	fmt.Fprintf(w, "Tag Pending:\t%t\n", v.TagPending)
	fmt.Fprintf(w, "Stop Requested:\t%t\n", v.StopRequest)
	fmt.Fprintf(w, "Inbound Peers:\t%s\n", joinFedIDs(v.Inbound))
	fmt.Fprintf(w, "Outbound Peers:\t%s\n", joinFedIDs(v.Outbound))

	w.Flush()
	return buf.String()
}

func joinFedIDs(ids []uint16) string {
	if len(ids) == 0 {
		return "(none)"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, ", ")
}
