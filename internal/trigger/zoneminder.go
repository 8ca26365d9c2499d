package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/bradnewfield/zmonvif/internal/config"
	"github.com/bradnewfield/zmonvif/internal/domain/monitor"
	"github.com/bradnewfield/zmonvif/internal/logger"
)

// ZoneMinder alarm states as reported by the monitor alarm status command.
const (
	stateIdle     = 0
	statePrealarm = 1
	stateAlarm    = 2
	stateAlert    = 3
)

var (
	// errMonitorNotFound is returned when the platform does not know the monitor.
	errMonitorNotFound = errors.New("monitor not known to the platform")
	// errLoginFailed is returned when API authentication is rejected.
	errLoginFailed = errors.New("platform API login failed")
)

// ZoneMinder drives alarms through zmtrigger's pipe-delimited TCP protocol
// and reads alarm state through the JSON API. A single TCP connection is
// shared by all monitors and re-dialed on demand.
type ZoneMinder struct {
	triggerAddr string
	apiURL      string
	user        string
	password    string
	timeout     time.Duration
	api         *resty.Client

	mu   sync.Mutex // guards conn
	conn net.Conn

	tokenMu sync.Mutex
	token   string
}

// NewZoneMinder builds the platform backend from configuration. No network
// activity happens until the first command or Verify call.
func NewZoneMinder(cfg config.ZoneMinderConfig, timeout time.Duration) *ZoneMinder {
	return &ZoneMinder{
		triggerAddr: cfg.TriggerAddress,
		apiURL:      strings.TrimRight(cfg.APIURL, "/"),
		user:        cfg.User,
		password:    cfg.Password,
		timeout:     timeout,
		api:         resty.New().SetTimeout(timeout),
	}
}

// Verify checks that the trigger channel can be established and that the
// platform knows the monitor. Monitors failing verification are excluded from
// the active set by the registry.
func (z *ZoneMinder) Verify(ctx context.Context, m *monitor.Monitor) error {
	z.mu.Lock()
	_, err := z.connection()
	z.mu.Unlock()

	if err != nil {
		return fmt.Errorf("trigger channel: %w", err)
	}

	var out monitorResponse
	if err := z.get(ctx, fmt.Sprintf("/monitors/%d.json", m.ID), nil, &out); err != nil {
		return fmt.Errorf("monitor %d lookup: %w", m.ID, err)
	}

	if out.Monitor.Monitor.ID == "" {
		return errMonitorNotFound
	}

	return nil
}

// Open starts an alarm on the monitor with the given score, cause, and text.
func (z *ZoneMinder) Open(ctx context.Context, m *monitor.Monitor, score int, cause, text string) error {
	return z.send(ctx, command(m.ID, "on", fmt.Sprintf("%d", score), cause, text, ""))
}

// SetShowtext updates the overlay text on the monitor.
func (z *ZoneMinder) SetShowtext(ctx context.Context, m *monitor.Monitor, text string) error {
	return z.send(ctx, command(m.ID, "show", "", "", "", text))
}

// Close requests the alarm on the monitor to stop.
func (z *ZoneMinder) Close(ctx context.Context, m *monitor.Monitor) error {
	return z.send(ctx, command(m.ID, "off", "", "", "", ""))
}

// Cancel clears any trigger-originated alarm condition on the monitor.
func (z *ZoneMinder) Cancel(ctx context.Context, m *monitor.Monitor) error {
	return z.send(ctx, command(m.ID, "cancel", "", "", "", ""))
}

// IsInAlarm reports whether the platform currently holds the monitor in an
// alarm or alert state.
func (z *ZoneMinder) IsInAlarm(ctx context.Context, m *monitor.Monitor) (bool, error) {
	var out alarmStatusResponse
	if err := z.get(ctx, fmt.Sprintf("/monitors/alarm/id:%d/command:status.json", m.ID), nil, &out); err != nil {
		return false, err
	}

	state, err := out.Status.value()
	if err != nil {
		return false, fmt.Errorf("alarm status: %w", err)
	}

	return state == stateAlarm || state == stateAlert, nil
}

// LastEventID returns the id of the monitor's most recent event, or zero when
// it has none yet.
func (z *ZoneMinder) LastEventID(ctx context.Context, m *monitor.Monitor) (uint64, error) {
	var out eventListResponse

	params := map[string]string{
		"sort":      "Id",
		"direction": "desc",
		"limit":     "1",
	}
	if err := z.get(ctx, fmt.Sprintf("/events/index/MonitorId:%d.json", m.ID), params, &out); err != nil {
		return 0, err
	}

	if len(out.Events) == 0 {
		return 0, nil
	}

	id, err := out.Events[0].Event.ID.value()
	if err != nil {
		return 0, fmt.Errorf("event id: %w", err)
	}

	if id < 0 {
		return 0, fmt.Errorf("event id: unexpected negative value %d", id)
	}

	return uint64(id), nil
}

// Release closes the trigger channel.
func (z *ZoneMinder) Release() {
	z.mu.Lock()
	defer z.mu.Unlock()

	if z.conn != nil {
		_ = z.conn.Close()
		z.conn = nil
	}
}

// command assembles one zmtrigger line: id|action|score|cause|text|showtext.
// Field values must not carry the delimiter.
func command(id int, action, score, cause, text, showtext string) string {
	fields := []string{fmt.Sprintf("%d", id), action, score, cause, text, showtext}
	for i, f := range fields {
		fields[i] = strings.ReplaceAll(f, "|", "/")
	}

	return strings.Join(fields, "|")
}

// send writes one command line on the shared trigger connection, re-dialing
// once when the peer has gone away since the last command.
func (z *ZoneMinder) send(ctx context.Context, line string) error {
	z.mu.Lock()
	defer z.mu.Unlock()

	for attempt := 0; attempt < 2; attempt++ {
		conn, err := z.connection()
		if err != nil {
			return fmt.Errorf("trigger channel: %w", err)
		}

		_ = conn.SetWriteDeadline(time.Now().Add(z.timeout))

		if _, err = fmt.Fprintf(conn, "%s\n", line); err == nil {
			return nil
		}

		logger.DebugKV(ctx, "Trigger write failed, re-dialing", "error", err)
		_ = conn.Close()
		z.conn = nil
	}

	return fmt.Errorf("trigger channel: write failed after reconnect")
}

// connection returns the shared trigger connection, dialing when absent.
// Callers must hold z.mu.
func (z *ZoneMinder) connection() (net.Conn, error) {
	if z.conn != nil {
		return z.conn, nil
	}

	conn, err := net.DialTimeout("tcp", z.triggerAddr, z.timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", z.triggerAddr, err)
	}

	z.conn = conn

	return conn, nil
}

// get performs an authenticated API read, re-authenticating once when the
// token has expired.
func (z *ZoneMinder) get(ctx context.Context, path string, params map[string]string, out any) error {
	for attempt := 0; attempt < 2; attempt++ {
		token, err := z.ensureToken(ctx)
		if err != nil {
			return err
		}

		req := z.api.R().SetContext(ctx).SetResult(out)
		if len(params) > 0 {
			req.SetQueryParams(params)
		}

		if token != "" {
			req.SetQueryParam("token", token)
		}

		resp, err := req.Get(z.apiURL + path)
		if err != nil {
			return fmt.Errorf("GET %s: %w", path, err)
		}

		if resp.StatusCode() == http.StatusUnauthorized && token != "" {
			z.clearToken(token)
			continue
		}

		if resp.IsError() {
			return fmt.Errorf("GET %s: unexpected status %s", path, resp.Status())
		}

		return nil
	}

	return fmt.Errorf("GET %s: %w", path, errLoginFailed)
}

// ensureToken logs in lazily; unauthenticated installations skip it entirely.
func (z *ZoneMinder) ensureToken(ctx context.Context) (string, error) {
	if z.user == "" {
		return "", nil
	}

	z.tokenMu.Lock()
	defer z.tokenMu.Unlock()

	if z.token != "" {
		return z.token, nil
	}

	var out loginResponse

	resp, err := z.api.R().
		SetContext(ctx).
		SetFormData(map[string]string{"user": z.user, "pass": z.password}).
		SetResult(&out).
		Post(z.apiURL + "/host/login.json")
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}

	if resp.IsError() || out.AccessToken == "" {
		return "", errLoginFailed
	}

	z.token = out.AccessToken

	return z.token, nil
}

// clearToken invalidates the cached token unless another call already
// replaced it.
func (z *ZoneMinder) clearToken(stale string) {
	z.tokenMu.Lock()
	defer z.tokenMu.Unlock()

	if z.token == stale {
		z.token = ""
	}
}

// API response shapes, trimmed to the fields this daemon reads.

// flexibleInt decodes integers the API emits either bare or quoted.
type flexibleInt struct {
	raw json.RawMessage
}

func (f *flexibleInt) UnmarshalJSON(data []byte) error {
	f.raw = append(f.raw[:0], data...)
	return nil
}

func (f *flexibleInt) value() (int64, error) {
	s := strings.Trim(strings.TrimSpace(string(f.raw)), `"`)
	if s == "" || s == "null" {
		return 0, nil
	}

	return strconv.ParseInt(s, 10, 64)
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
}

type alarmStatusResponse struct {
	Status flexibleInt `json:"status"`
}

type monitorResponse struct {
	Monitor struct {
		Monitor struct {
			ID   string `json:"Id"`
			Name string `json:"Name"`
		} `json:"Monitor"`
	} `json:"monitor"`
}

type eventListResponse struct {
	Events []struct {
		Event struct {
			ID flexibleInt `json:"Id"`
		} `json:"Event"`
	} `json:"events"`
}
