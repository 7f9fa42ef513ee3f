// Pushes synthetic row deltas at a running gateway for load and
// integration testing.
//
// Usage: go run ./cmd/lakegate-seed --addr localhost:8488 --rows 1000
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/lakegate/lakegate/internal/delta"
	"github.com/lakegate/lakegate/pkg/hlc"
)

func main() {
	addr := flag.String("addr", "localhost:8488", "gateway listen address")
	table := flag.String("table", "todos", "target table")
	rows := flag.Int("rows", 100, "number of rows to insert")
	batch := flag.Int("batch", 50, "deltas per push request")
	flag.Parse()

	clientID := "seed-" + uuid.NewString()[:8]
	clock := hlc.NewClock(0)

	pushed := 0
	for pushed < *rows {
		n := *batch
		if remaining := *rows - pushed; remaining < n {
			n = remaining
		}

		deltas := make([]delta.RowDelta, 0, n)
		for i := 0; i < n; i++ {
			d := delta.RowDelta{
				Op:       delta.OpInsert,
				Table:    *table,
				RowID:    uuid.NewString(),
				ClientID: clientID,
				HLC:      clock.Now(),
				Columns: []delta.ColumnValue{
					{Column: "title", Value: delta.String(fmt.Sprintf("seed row %d", pushed+i))},
					{Column: "completed", Value: delta.Bool(false)},
				},
			}
			d.DeltaID = delta.Fingerprint(&d)
			deltas = append(deltas, d)
		}

		if err := push(*addr, clientID, deltas, 5); err != nil {
			fmt.Fprintf(os.Stderr, "push failed after %d rows: %v\n", pushed, err)
			os.Exit(1)
		}
		pushed += n
	}

	fmt.Printf("Pushed %d rows to %s as %s\n", pushed, *table, clientID)
}

func push(addr, clientID string, deltas []delta.RowDelta, retries int) error {
	body, err := json.Marshal(map[string]any{
		"clientId": clientID,
		"deltas":   deltas,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, "http://"+addr+"/v1/sync/push", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Lakegate-Client", clientID)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable && retries > 0 {
		// Backpressure: wait for a flush to drain the buffer.
		time.Sleep(time.Second)
		return push(addr, clientID, deltas, retries-1)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway returned %s", resp.Status)
	}

	return nil
}
