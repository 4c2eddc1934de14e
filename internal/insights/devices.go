package insights

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/semsmon/semsmon/internal/httputil"
)

// HTTPDevicesFetcher fetches a JSON device listing from a smart-home bridge
// endpoint. The payload is passed through raw; decoding happens in the
// recommendation rules.
func HTTPDevicesFetcher(url string) DevicesFetcher {
	client := httputil.NewClient()
	return func(ctx context.Context) (json.RawMessage, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch devices: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch devices: status %d", resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	}
}
