package subscription

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bradnewfield/zmonvif/internal/domain/monitor"
)

// fakeEventService records calls and can be told to fail.
type fakeEventService struct {
	subscribeErr   error
	renewErr       error
	unsubscribeErr error

	consumers   []string
	filters     []string
	leases      []int
	renews      []string
	unsubcribed []string
}

func (s *fakeEventService) Subscribe(_ context.Context, consumer, topicFilter string, leaseSeconds int) (string, error) {
	s.consumers = append(s.consumers, consumer)
	s.filters = append(s.filters, topicFilter)
	s.leases = append(s.leases, leaseSeconds)

	if s.subscribeErr != nil {
		return "", s.subscribeErr
	}

	return "http://cam/onvif/Subscription?Idx=0", nil
}

func (s *fakeEventService) Renew(_ context.Context, managerAddress string, leaseSeconds int) error {
	s.renews = append(s.renews, managerAddress)
	s.leases = append(s.leases, leaseSeconds)

	return s.renewErr
}

func (s *fakeEventService) Unsubscribe(_ context.Context, managerAddress string) error {
	s.unsubcribed = append(s.unsubcribed, managerAddress)
	return s.unsubscribeErr
}

// TestConsumerAddress verifies the reference id is embedded in the callback path.
func TestConsumerAddress(t *testing.T) {
	t.Parallel()

	mgr := NewManager("http://192.168.1.2:8089/", "tns1:Topic", 600)
	require.Equal(t, "http://192.168.1.2:8089/ref_7/", mgr.ConsumerAddress(7))
	require.Equal(t, 600, mgr.LeaseSeconds())
}

// TestSubscribeStoresHandle verifies a successful subscribe writes the handle
// back onto the monitor.
func TestSubscribeStoresHandle(t *testing.T) {
	t.Parallel()

	svc := &fakeEventService{}
	m := &monitor.Monitor{ID: 7, Events: svc}

	mgr := NewManager("http://192.168.1.2:8089", "tns1:RuleEngine/CellMotionDetector/Motion", 600)

	before := time.Now()
	require.NoError(t, mgr.Subscribe(context.Background(), m))

	sub := m.Subscription()
	require.NotNil(t, sub)
	require.Equal(t, "http://cam/onvif/Subscription?Idx=0", sub.ManagerAddress)
	require.Equal(t, 7, sub.MonitorID)
	require.Equal(t, 10*time.Minute, sub.Lease)
	require.False(t, sub.CreatedAt.Before(before))

	require.Equal(t, []string{"http://192.168.1.2:8089/ref_7/"}, svc.consumers)
	require.Equal(t, []string{"tns1:RuleEngine/CellMotionDetector/Motion"}, svc.filters)
}

// TestSubscribeFailureLeavesUnsubscribed verifies failure is surfaced but the
// monitor simply stays without a subscription.
func TestSubscribeFailureLeavesUnsubscribed(t *testing.T) {
	t.Parallel()

	svc := &fakeEventService{subscribeErr: errors.New("connection refused")}
	m := &monitor.Monitor{ID: 7, Events: svc}

	mgr := NewManager("http://cb", "tns1:Topic", 600)
	require.Error(t, mgr.Subscribe(context.Background(), m))
	require.Nil(t, m.Subscription())
}

// TestRenew verifies renewal refreshes the creation time and targets the
// manager address.
func TestRenew(t *testing.T) {
	t.Parallel()

	svc := &fakeEventService{}
	m := &monitor.Monitor{ID: 7, Events: svc}

	mgr := NewManager("http://cb", "tns1:Topic", 600)
	require.NoError(t, mgr.Subscribe(context.Background(), m))

	stale := time.Now().Add(-9 * time.Minute)
	mgr.now = func() time.Time { return stale }
	require.NoError(t, mgr.Subscribe(context.Background(), m))
	require.Equal(t, stale, m.Subscription().CreatedAt)

	mgr.now = time.Now
	require.NoError(t, mgr.Renew(context.Background(), m))
	require.Equal(t, []string{"http://cam/onvif/Subscription?Idx=0"}, svc.renews)
	require.True(t, m.Subscription().CreatedAt.After(stale))

	// Renewing without a handle is an explicit error.
	m.SetSubscription(nil)
	require.ErrorIs(t, mgr.Renew(context.Background(), m), ErrNotSubscribed)
}

// TestUnsubscribeClearsHandle verifies the handle is dropped even when the
// remote call fails; the result is ignored by design.
func TestUnsubscribeClearsHandle(t *testing.T) {
	t.Parallel()

	svc := &fakeEventService{unsubscribeErr: errors.New("timeout")}
	m := &monitor.Monitor{ID: 7, Events: svc}

	mgr := NewManager("http://cb", "tns1:Topic", 600)
	require.NoError(t, mgr.Subscribe(context.Background(), m))

	mgr.Unsubscribe(context.Background(), m)
	require.Nil(t, m.Subscription())
	require.Len(t, svc.unsubcribed, 1)

	// Unsubscribing an unsubscribed monitor is a no-op.
	mgr.Unsubscribe(context.Background(), m)
	require.Len(t, svc.unsubcribed, 1)
}

// TestSubscribeAll verifies one bad camera does not stop the fleet.
func TestSubscribeAll(t *testing.T) {
	t.Parallel()

	good := &fakeEventService{}
	bad := &fakeEventService{subscribeErr: errors.New("unreachable")}

	monitors := []*monitor.Monitor{
		{ID: 1, Events: good},
		{ID: 2, Events: bad},
		{ID: 3, Events: good},
	}

	mgr := NewManager("http://cb", "tns1:Topic", 600)
	require.Equal(t, 2, mgr.SubscribeAll(context.Background(), monitors))
	require.NotNil(t, monitors[0].Subscription())
	require.Nil(t, monitors[1].Subscription())
	require.NotNil(t, monitors[2].Subscription())

	mgr.UnsubscribeAll(context.Background(), monitors)
	for _, m := range monitors {
		require.Nil(t, m.Subscription())
	}
}
