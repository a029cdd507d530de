package network

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"price-relay/src/helpers"
	"price-relay/src/logger"
	"price-relay/src/models"
)

// -----------------------------------------------------------------------------
// RetryingNetworkManager performs GET requests with exponential backoff.
// Used by the quote poller; a failed cycle surfaces as an error and the next
// scheduled poll starts from a clean slate.
// -----------------------------------------------------------------------------

type RetryingNetworkManager struct {
	Config *models.MConfig
	Client *http.Client
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewRetryingNetworkManager(cfg *models.MConfig, log *logger.Logger) *RetryingNetworkManager {
	return &RetryingNetworkManager{
		Config: cfg,
		Logger: log,
		Client: &http.Client{
			Timeout: time.Duration(cfg.Network.RequestTimeout) * time.Second,
		},
	}
}

// -----------------------------------------------------------------------------

// Get performs a GET request with retries.
func (nm *RetryingNetworkManager) Get(urlStr string, params map[string]string) ([]byte, error) {
	reqURL, err := url.Parse(urlStr)
	if err != nil {
		return nil, err
	}

	q := reqURL.Query()
	for k, v := range params {
		q.Add(k, v)
	}
	reqURL.RawQuery = q.Encode()

	finalURL := reqURL.String()

	maxRetries := nm.Config.Network.MaxRetries
	var lastErr error

	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			time.Sleep(time.Duration(i*i) * time.Second) // Exponential backoff
		}

		req, err := http.NewRequest("GET", finalURL, nil)
		if err != nil {
			return nil, err
		}

		if nm.Config.Network.UserAgent != "" {
			req.Header.Set("User-Agent", nm.Config.Network.UserAgent)
		}

		resp, err := nm.Client.Do(req)
		if err != nil {
			lastErr = err
			nm.Logger.Info("Request failed (attempt %d/%d): %v", i+1, maxRetries+1, err)
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == 429 {
			lastErr = fmt.Errorf("rate limited (status %d)", resp.StatusCode)
			nm.Logger.Info("Request rate limited, backing off before retry")
			continue
		}
		if resp.StatusCode != 200 {
			lastErr = fmt.Errorf("unexpected status %d", resp.StatusCode)
			continue
		}
		if readErr != nil {
			lastErr = readErr
			continue
		}

		return body, nil
	}

	return nil, helpers.NewTransportError(
		fmt.Sprintf("request failed after %d attempts", maxRetries+1), lastErr)
}
