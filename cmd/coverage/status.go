package main

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/coverage.report/internal/coverage"
	"github.com/banshee-data/coverage.report/internal/httputil"
	"github.com/banshee-data/coverage.report/internal/serialmux"
)

type statusResult struct {
	Sources []coverage.SourceInfo `json:"sources"`
	Summary any                   `json:"summary"`
}

func newStatusCmd() *cobra.Command {
	var server, source string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running coverage server",
		RunE: func(cmd *cobra.Command, args []string) error {
			base := strings.TrimRight(server, "/")
			client := &http.Client{Timeout: 10 * time.Second}

			var out statusResult
			if err := httputil.GetJSON(cmd.Context(), client, base+"/sources", &out.Sources); err != nil {
				return err
			}
			q := url.Values{}
			if source != "" {
				q.Set("source", source)
			}
			if err := httputil.GetJSON(cmd.Context(), client, base+"/summary?"+q.Encode(), &out.Summary); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8090", "base URL of the coverage server")
	cmd.Flags().StringVar(&source, "source", "", "source to summarize (default all sources)")
	return cmd
}

func newPortsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports an AIS receiver may be attached to",
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := serialmux.ListPorts()
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), ports)
		},
	}
}
