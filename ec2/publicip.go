/*
Copyright © 2025 Scalyr Team <support@scalyr.com>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/

package ec2

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/scalyr/agent-build/errors"
)

// publicIPServiceURL echoes the caller's public address in the response body.
const publicIPServiceURL = "https://api.ipify.org"

const (
	publicIPAttempts   = 10
	publicIPRetryDelay = 1 * time.Second
)

// discoverPublicIP resolves the address the allow-list entry must open when
// the caller does not know its own public IP, as on a CI runner.
func discoverPublicIP(ctx context.Context) (string, error) {
	return discoverPublicIPFrom(ctx, publicIPServiceURL, time.Sleep)
}

func discoverPublicIPFrom(ctx context.Context, serviceURL string, sleep func(time.Duration)) (string, error) {
	client := &http.Client{Timeout: 10 * time.Second}

	var lastErr error
	for attempt := 1; attempt <= publicIPAttempts; attempt++ {
		if attempt > 1 {
			sleep(publicIPRetryDelay)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, serviceURL, nil)
		if err != nil {
			return "", errors.Wrap("discover public IP", serviceURL, err)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %s", resp.Status)
			continue
		}

		ip := strings.TrimSpace(string(body))
		if net.ParseIP(ip) == nil {
			return "", errors.Wrap("discover public IP", serviceURL,
				fmt.Errorf("service returned %q instead of an address", ip))
		}
		return ip, nil
	}

	return "", errors.Wrap("discover public IP", serviceURL, lastErr)
}
