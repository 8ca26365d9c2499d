package onvif

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

// soapContentType is the media type cameras expect for event-service requests.
const soapContentType = "application/soap+xml"

var (
	// errNoManagerAddress is returned when a subscribe response carries no
	// subscription reference.
	errNoManagerAddress = errors.New("subscribe response has no manager address")
)

// EventClient talks to one camera's event service. It implements
// monitor.EventService.
type EventClient struct {
	http     *resty.Client
	endpoint string
}

// NewEventClient builds a client for the camera event endpoint. The timeout
// bounds each request so one unreachable camera cannot stall the fleet.
func NewEventClient(endpoint string, timeout time.Duration) *EventClient {
	httpClient := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", soapContentType)

	return &EventClient{
		http:     httpClient,
		endpoint: endpoint,
	}
}

// Endpoint returns the camera event-service address this client targets.
func (c *EventClient) Endpoint() string {
	return c.endpoint
}

// Subscribe requests delivery of events matching topicFilter to the consumer
// address, with the lease encoded as an ISO-8601 duration. It returns the
// subscription manager address advertised by the camera.
func (c *EventClient) Subscribe(ctx context.Context, consumer, topicFilter string, leaseSeconds int) (string, error) {
	body := renderSubscribe(newMessageID(), consumer, topicFilter, FormatLeaseDuration(leaseSeconds))

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetDoNotParseResponse(true).
		Post(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("subscribe %s: %w", c.endpoint, err)
	}
	defer resp.RawBody().Close()

	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("subscribe %s: unexpected status %s", c.endpoint, resp.Status())
	}

	addr, err := parseSubscribeResponse(resp.RawBody())
	if err != nil {
		return "", fmt.Errorf("subscribe %s: %w", c.endpoint, err)
	}

	return addr, nil
}

// Renew extends the subscription at the manager address by a fresh lease.
func (c *EventClient) Renew(ctx context.Context, managerAddress string, leaseSeconds int) error {
	body := renderRenew(newMessageID(), FormatLeaseDuration(leaseSeconds))

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post(managerAddress)
	if err != nil {
		return fmt.Errorf("renew %s: %w", managerAddress, err)
	}

	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("renew %s: unexpected status %s", managerAddress, resp.Status())
	}

	return nil
}

// Unsubscribe cancels the subscription at the manager address.
func (c *EventClient) Unsubscribe(ctx context.Context, managerAddress string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(renderUnsubscribe(newMessageID())).
		Post(managerAddress)
	if err != nil {
		return fmt.Errorf("unsubscribe %s: %w", managerAddress, err)
	}

	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("unsubscribe %s: unexpected status %s", managerAddress, resp.Status())
	}

	return nil
}

// newMessageID returns a fresh wsa MessageID URN.
func newMessageID() string {
	return "urn:uuid:" + uuid.NewString()
}
