package onvif

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const subscribeResponseBody = `<?xml version="1.0" encoding="UTF-8"?>
<SOAP-ENV:Envelope
	xmlns:SOAP-ENV="http://www.w3.org/2003/05/soap-envelope"
	xmlns:wsnt="http://docs.oasis-open.org/wsn/b-2"
	xmlns:wsa5="http://www.w3.org/2005/08/addressing">
	<SOAP-ENV:Body>
		<wsnt:SubscribeResponse>
			<wsnt:SubscriptionReference>
				<wsa5:Address>http://10.0.0.7/onvif/Subscription?Idx=0</wsa5:Address>
			</wsnt:SubscriptionReference>
			<wsnt:CurrentTime>2026-08-30T16:00:00Z</wsnt:CurrentTime>
			<wsnt:TerminationTime>2026-08-30T16:10:00Z</wsnt:TerminationTime>
		</wsnt:SubscribeResponse>
	</SOAP-ENV:Body>
</SOAP-ENV:Envelope>`

// TestSubscribe verifies the request carries the consumer address, the
// concrete-set filter, and the encoded lease, and that the manager address
// comes back out.
func TestSubscribe(t *testing.T) {
	t.Parallel()

	var captured string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		captured = string(body)

		require.Equal(t, http.MethodPost, r.Method)
		require.Contains(t, r.Header.Get("Content-Type"), "application/soap+xml")

		_, _ = w.Write([]byte(subscribeResponseBody))
	}))
	defer srv.Close()

	client := NewEventClient(srv.URL+"/onvif/events", 2*time.Second)
	require.Equal(t, srv.URL+"/onvif/events", client.Endpoint())

	addr, err := client.Subscribe(
		context.Background(),
		"http://192.168.1.2:8089/ref_7/",
		"tns1:RuleEngine/CellMotionDetector/Motion",
		600,
	)
	require.NoError(t, err)
	require.Equal(t, "http://10.0.0.7/onvif/Subscription?Idx=0", addr)

	require.Contains(t, captured, "http://192.168.1.2:8089/ref_7/")
	require.Contains(t, captured, ConcreteSetDialect)
	require.Contains(t, captured, ">tns1:RuleEngine/CellMotionDetector/Motion<")
	require.Contains(t, captured, "<wsnt:InitialTerminationTime>PT10M</wsnt:InitialTerminationTime>")
	require.Contains(t, captured, "urn:uuid:")
}

// TestSubscribeRejections covers camera-side failures the caller must treat
// as non-fatal.
func TestSubscribeRejections(t *testing.T) {
	t.Parallel()

	// Protocol rejection.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewEventClient(srv.URL, time.Second)
	_, err := client.Subscribe(context.Background(), "http://cb/ref_1/", "tns1:Topic", 60)
	require.Error(t, err)

	// Response without a manager address.
	srv2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<Envelope><Body><SubscribeResponse></SubscribeResponse></Body></Envelope>`))
	}))
	defer srv2.Close()

	client = NewEventClient(srv2.URL, time.Second)
	_, err = client.Subscribe(context.Background(), "http://cb/ref_1/", "tns1:Topic", 60)
	require.ErrorIs(t, err, errNoManagerAddress)

	// Transport failure.
	client = NewEventClient("http://127.0.0.1:1/onvif/events", 200*time.Millisecond)
	_, err = client.Subscribe(context.Background(), "http://cb/ref_1/", "tns1:Topic", 60)
	require.Error(t, err)
}

// TestRenewAndUnsubscribe verifies both hit the manager address and honor the
// status code.
func TestRenewAndUnsubscribe(t *testing.T) {
	t.Parallel()

	var bodies []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(body))

		require.Equal(t, "/onvif/Subscription", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	manager := srv.URL + "/onvif/Subscription"
	client := NewEventClient(srv.URL+"/onvif/events", time.Second)

	require.NoError(t, client.Renew(context.Background(), manager, 90))
	require.NoError(t, client.Unsubscribe(context.Background(), manager))

	require.Len(t, bodies, 2)
	require.Contains(t, bodies[0], "<wsnt:TerminationTime>PT1M30S</wsnt:TerminationTime>")
	require.Contains(t, bodies[1], "<wsnt:Unsubscribe>")

	// A rejected renew must surface as an error so the caller can retry.
	rejecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer rejecting.Close()

	require.Error(t, client.Renew(context.Background(), rejecting.URL, 90))
}
