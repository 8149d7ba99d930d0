package robot

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ot2-calibration/pkg/api"
)

type fakeRobot struct {
	name         string
	instruments  []api.Instrument
	unhealthyFor int32
	healthCalls  atomic.Int32

	mu       sync.Mutex
	versions []string
}

func (f *fakeRobot) router() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.versions = append(f.versions, r.Header.Get("opentrons-version"))
		f.mu.Unlock()
		if f.healthCalls.Add(1) <= f.unhealthyFor {
			http.Error(w, "robot server is still starting", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, api.Health{Name: f.name, ApiVersion: "7.0.0", RobotModel: "OT-2 Standard"})
	})
	r.Get("/instruments", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, api.InstrumentsResponse{Data: f.instruments})
	})
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func startFakeRobot(t *testing.T, f *fakeRobot) (string, ClientConfig) {
	t.Helper()
	server := httptest.NewServer(f.router())
	t.Cleanup(server.Close)

	host, port, err := net.SplitHostPort(strings.TrimPrefix(server.URL, "http://"))
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return host, ClientConfig{Port: p, ApiVersion: "2", Timeout: 2 * time.Second}
}

func TestClientHealthSendsVersionHeader(t *testing.T) {
	robot := &fakeRobot{name: "ot2-bench"}
	host, cfg := startFakeRobot(t, robot)

	health, err := NewClient(host, cfg).Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ot2-bench", health.Name)
	assert.Equal(t, []string{"2"}, robot.versions)
}

func TestClientStatusError(t *testing.T) {
	robot := &fakeRobot{unhealthyFor: 1}
	host, cfg := startFakeRobot(t, robot)

	_, err := NewClient(host, cfg).Health(context.Background())
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.True(t, strings.HasPrefix(err.Error(), "HTTP 503: robot server is still starting"))
}

func TestStatusErrorTruncatesBody(t *testing.T) {
	err := &StatusError{StatusCode: 500, Body: strings.Repeat("x", 500)}
	assert.Equal(t, "HTTP 500: "+strings.Repeat("x", 200), err.Error())
}

func TestAttachedPipettes(t *testing.T) {
	robot := &fakeRobot{instruments: []api.Instrument{
		{Mount: "left", InstrumentType: "pipette", SerialNumber: "P300L123", Ok: true},
		{Mount: "right", InstrumentType: "pipette", SerialNumber: "P20R456", Ok: false},
		{Mount: "extension", InstrumentType: "gripper", SerialNumber: "G1", Ok: true},
	}}
	host, cfg := startFakeRobot(t, robot)

	bindings, err := NewClient(host, cfg).AttachedPipettes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "P300L123", bindings.Left())
	assert.Empty(t, bindings.Right())
	assert.Equal(t, []Binding{{Mount: "left", Serial: "P300L123"}}, bindings.Mounts())
	assert.Equal(t, "P300L123", bindings.DefaultSerial())
}

func TestBindingsFromInstruments(t *testing.T) {
	tests := []struct {
		name        string
		instruments []api.Instrument
		left, right string
	}{
		{
			name:        "empty serial is ineligible",
			instruments: []api.Instrument{{Mount: "left", InstrumentType: "pipette", SerialNumber: "  ", Ok: true}},
		},
		{
			name: "both mounts",
			instruments: []api.Instrument{
				{Mount: "right", InstrumentType: "pipette", SerialNumber: "R1", Ok: true},
				{Mount: "left", InstrumentType: "pipette", SerialNumber: "L1", Ok: true},
			},
			left:  "L1",
			right: "R1",
		},
		{
			name: "mount is case insensitive",
			instruments: []api.Instrument{
				{Mount: "LEFT", InstrumentType: "pipette", SerialNumber: "L1", Ok: true},
				{Mount: " Right", InstrumentType: "pipette", SerialNumber: "R1", Ok: true},
			},
			left:  "L1",
			right: "R1",
		},
		{
			name:        "non pipette",
			instruments: []api.Instrument{{Mount: "left", InstrumentType: "module", SerialNumber: "M1", Ok: true}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := BindingsFromInstruments(tc.instruments)
			assert.Equal(t, tc.left, b.Left())
			assert.Equal(t, tc.right, b.Right())
			assert.Equal(t, tc.left == "" && tc.right == "", b.Empty())
		})
	}
}

func TestDefaultSerialPrefersRight(t *testing.T) {
	assert.Equal(t, "R1", NewBindings("L1", "R1").DefaultSerial())
	assert.Equal(t, "L1", NewBindings("L1", "").DefaultSerial())
	assert.Equal(t, map[string]string{"left": "L1", "right": "R1"}, NewBindings("L1", "R1").Serials())
}

func TestWaiterReadyAfterTransientFailures(t *testing.T) {
	robot := &fakeRobot{unhealthyFor: 2}
	host, cfg := startFakeRobot(t, robot)

	waiter := NewWaiter(NewClient(host, cfg), 10*time.Millisecond)
	require.NoError(t, waiter.WaitUntilReady(context.Background(), 2*time.Second))
	assert.Equal(t, int32(3), robot.healthCalls.Load())
}

func TestWaiterTimeout(t *testing.T) {
	robot := &fakeRobot{unhealthyFor: 1 << 20}
	host, cfg := startFakeRobot(t, robot)

	waiter := NewWaiter(NewClient(host, cfg), 10*time.Millisecond)
	err := waiter.WaitUntilReady(context.Background(), 100*time.Millisecond)

	var timeoutErr *ReadinessTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 100*time.Millisecond, timeoutErr.Timeout)
	assert.True(t, strings.HasSuffix(timeoutErr.Endpoint, "/health"))
	assert.Contains(t, timeoutErr.LastDetail, "HTTP 503")
}

func TestWaiterProbesAtDeadline(t *testing.T) {
	readyAt := time.Now().Add(250 * time.Millisecond)
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if time.Now().Before(readyAt) {
			http.Error(w, "starting", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, api.Health{Name: "OT2CEP01"})
	})
	server := httptest.NewServer(r)
	defer server.Close()

	host, port, err := net.SplitHostPort(strings.TrimPrefix(server.URL, "http://"))
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)

	// Probes run at 0ms and 200ms; only the probe at the 400ms deadline sees
	// the server ready.
	waiter := NewWaiter(NewClient(host, ClientConfig{Port: p, Timeout: time.Second}), 200*time.Millisecond)
	require.NoError(t, waiter.WaitUntilReady(context.Background(), 400*time.Millisecond))
}

func TestWaiterDoesNotGiveUpEarly(t *testing.T) {
	robot := &fakeRobot{unhealthyFor: 1 << 20}
	host, cfg := startFakeRobot(t, robot)

	waiter := NewWaiter(NewClient(host, cfg), 200*time.Millisecond)
	start := time.Now()
	err := waiter.WaitUntilReady(context.Background(), 300*time.Millisecond)

	var timeoutErr *ReadinessTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
	assert.Contains(t, timeoutErr.LastDetail, "HTTP 503")
}

func TestWaiterConnectionErrorsAreTransient(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	waiter := NewWaiter(NewClient("127.0.0.1", ClientConfig{Port: port, Timeout: time.Second}), 10*time.Millisecond)
	err = waiter.WaitUntilReady(context.Background(), 100*time.Millisecond)

	var timeoutErr *ReadinessTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.NotEmpty(t, timeoutErr.LastDetail)
}

func TestResolverExplicitHost(t *testing.T) {
	host, cfg := startFakeRobot(t, &fakeRobot{name: "ot2-a"})

	resolver := &Resolver{Client: cfg}
	target, err := resolver.Resolve(context.Background(), host)
	require.NoError(t, err)
	assert.Equal(t, host, target.Host)
	assert.Equal(t, "ot2-a", target.Name())
}

func TestResolverCandidates(t *testing.T) {
	host, cfg := startFakeRobot(t, &fakeRobot{name: "ot2-a"})

	// nothing listens on 127.0.0.2
	resolver := &Resolver{Client: cfg, Candidates: []string{"127.0.0.2", host}}
	target, err := resolver.Resolve(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, host, target.Host)

	resolver = &Resolver{Client: cfg, Candidates: []string{host, host}}
	_, err = resolver.Resolve(context.Background(), "")
	var ambiguous *AmbiguousHostError
	require.ErrorAs(t, err, &ambiguous)
	assert.Len(t, ambiguous.Hosts, 2)

	resolver.PickFirst = true
	target, err = resolver.Resolve(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, host, target.Host)
}

func TestResolverNothingReachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	resolver := &Resolver{Client: ClientConfig{Port: port, Timeout: time.Second}, Candidates: []string{"127.0.0.1"}}
	_, err = resolver.Resolve(context.Background(), "")
	var unreachable *UnreachableError
	require.ErrorAs(t, err, &unreachable)
	assert.Equal(t, []string{"127.0.0.1"}, unreachable.Hosts)
}
