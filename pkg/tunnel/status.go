package tunnel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const statusPollInterval = 250 * time.Millisecond

// statusResponse is the subset of ngrok's local /api/tunnels document used
// to discover the public URL.
type statusResponse struct {
	Tunnels []struct {
		PublicURL string `json:"public_url"`
		Proto     string `json:"proto"`
		Config    struct {
			Addr string `json:"addr"`
		} `json:"config"`
	} `json:"tunnels"`
}

// pollStatus queries the tunnel client's status endpoint until it reports an
// https URL forwarding to localPort, then sends it on found.
func pollStatus(ctx context.Context, client *http.Client, statusURL string, localPort int, found chan<- string) {
	ticker := time.NewTicker(statusPollInterval)
	defer ticker.Stop()

	for {
		publicURL, err := fetchStatus(ctx, client, statusURL, localPort)
		if err != nil {
			debugLog.Debugf("Status poll for port %d: %v", localPort, err)
		} else if publicURL != "" {
			select {
			case found <- publicURL:
			default:
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func fetchStatus(ctx context.Context, client *http.Client, statusURL string, localPort int) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}

	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return "", fmt.Errorf("failed to decode status: %w", err)
	}

	suffix := ":" + strconv.Itoa(localPort)
	for _, t := range status.Tunnels {
		if !strings.HasPrefix(t.PublicURL, "https://") {
			continue
		}
		if t.Config.Addr != "" && !strings.HasSuffix(t.Config.Addr, suffix) {
			continue
		}
		return t.PublicURL, nil
	}
	return "", nil
}
