package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPTracker queries a courier aggregator: GET {BaseURL}?tracking_number=...
// returning {"events":[...]}.
type HTTPTracker struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPTracker returns a tracker whose client spans every call and
// forwards the trace context to the aggregator.
func NewHTTPTracker(baseURL string, opts ...otelhttp.Option) *HTTPTracker {
	return &HTTPTracker{BaseURL: baseURL, Client: &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport, opts...),
	}}
}

func (t *HTTPTracker) Lookup(ctx context.Context, trackingNumber string) ([]orders.TrackingEvent, error) {
	u := t.BaseURL + "?tracking_number=" + url.QueryEscape(trackingNumber)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tracker returned %s", resp.Status)
	}
	var body struct {
		Events []orders.TrackingEvent `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode tracker response: %w", err)
	}
	return body.Events, nil
}
