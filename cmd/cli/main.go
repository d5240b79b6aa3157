// Command cli is a small operator tool for talking to a running querygate
// server: submit a query, validate text, and inspect pool state.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	protocol  string
	instance  string
	database  string
	readOnly  bool
)

func main() {
	root := &cobra.Command{
		Use:           "querygate",
		Short:         "Operator CLI for the querygate execution engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&serverURL, "server", envOr("QUERYGATE_URL", "http://localhost:8080"), "server base URL")

	queryCmd := &cobra.Command{
		Use:   "query [text]",
		Short: "Execute query text against a target instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON("/api/v1/query", map[string]any{
				"protocol":    protocol,
				"instance_id": instance,
				"database":    database,
				"query":       args[0],
				"read_only":   readOnly,
			})
		},
	}
	queryCmd.Flags().StringVar(&protocol, "protocol", "relational", "target protocol (relational or document)")
	queryCmd.Flags().StringVar(&instance, "instance", "", "target instance id")
	queryCmd.Flags().StringVar(&database, "database", "", "target database name")
	queryCmd.Flags().BoolVar(&readOnly, "read-only", false, "run in a read-only transaction")
	_ = queryCmd.MarkFlagRequired("instance")
	_ = queryCmd.MarkFlagRequired("database")

	validateCmd := &cobra.Command{
		Use:   "validate [text]",
		Short: "Validate query text without executing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postJSON("/api/v1/query/validate", map[string]any{
				"protocol": protocol,
				"query":    args[0],
			})
		},
	}
	validateCmd.Flags().StringVar(&protocol, "protocol", "relational", "target protocol (relational or document)")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show connection registry statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return getJSON("/api/v1/stats")
		},
	}

	poolCmd := &cobra.Command{
		Use:   "pool",
		Short: "Show script resource pool status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return getJSON("/api/v1/pool")
		},
	}

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return getJSON("/health")
		},
	}

	root.AddCommand(queryCmd, validateCmd, statsCmd, poolCmd, healthCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var httpClient = &http.Client{Timeout: 60 * time.Second}

func postJSON(path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := httpClient.Post(serverURL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck
	return printResponse(resp)
}

func getJSON(path string) error {
	resp, err := httpClient.Get(serverURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck
	return printResponse(resp)
}

func printResponse(resp *http.Response) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, data, "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(string(data))
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}
