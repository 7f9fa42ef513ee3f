package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// adminClientTimeout bounds admin requests against a local gateway.
// Flushes of a full buffer can take a while against remote storage.
const adminClientTimeout = 2 * time.Minute

func newFlushCmd() *cobra.Command {
	var table string

	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Flush the running gateway's buffer via its admin endpoint",
		Long: `Ask the gateway serving this configuration to drain its delta buffer
to storage now, instead of waiting for the size or age threshold.
The buffer lives in the serving process, so this talks to its admin
endpoint rather than the object store.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runFlush(table)
		},
	}

	cmd.Flags().StringVar(&table, "table", "", "flush only the named table")

	return cmd
}

func runFlush(table string) error {
	body := []byte("{}")
	if table != "" {
		var err error
		body, err = json.Marshal(map[string]string{"table": table})
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}

	url := adminURL(resolvedCfg.Server.Addr, "/v1/admin/flush")

	client := &http.Client{Timeout: adminClientTimeout}
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("is a gateway running? POST %s: %w", url, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("flush failed: %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var res struct {
		Deltas    int    `json:"deltas"`
		Bytes     int    `json:"bytes"`
		ObjectKey string `json:"objectKey"`
		Format    string `json:"format"`
	}
	if err := json.Unmarshal(payload, &res); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	if res.Deltas == 0 {
		fmt.Println("Buffer empty — nothing to flush.")
		return nil
	}

	fmt.Printf("Flushed %d deltas (%s) to %s\n", res.Deltas, formatSize(int64(res.Bytes)), res.ObjectKey)

	return nil
}

// adminURL turns a listen address like ":8080" into a dialable URL.
func adminURL(addr, path string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}

	return "http://" + addr + path
}
