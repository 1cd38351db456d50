package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/argus-sec/toolgate/internal/health"
	"github.com/argus-sec/toolgate/internal/metrics"
	"github.com/argus-sec/toolgate/internal/registry"
	"github.com/argus-sec/toolgate/internal/sse"
	"github.com/argus-sec/toolgate/internal/supervisor"
	"github.com/argus-sec/toolgate/internal/toolspec"
)

type noopCheck struct{}

func (noopCheck) Name() string                          { return "noop" }
func (noopCheck) Priority() int                          { return 2 }
func (noopCheck) Run(ctx context.Context) health.CheckResult {
	return health.CheckResult{Name: "noop", Priority: 2, Status: health.Healthy}
}

func testGateway(t *testing.T) *Gateway {
	t.Helper()
	catalog := []toolspec.ToolDescriptor{
		{
			Name:                  "echotool",
			Command:               "true",
			ConcurrencyLimit:      1,
			DefaultTimeoutSeconds: 5,
			CircuitBreaker:        toolspec.DefaultCircuitBreakerConfig(),
		},
	}
	m := metrics.New(10)
	reg := registry.New(catalog, nil, nil, m)
	sup := supervisor.New()
	mon := health.New(health.DefaultConfig(), noopCheck{})
	mon.Start()
	t.Cleanup(mon.Stop)
	return New(reg, sup, m, nil, mon, sse.NewBroker())
}

func TestDispatchUnknownTool(t *testing.T) {
	gw := testGateway(t)
	_, status := gw.Dispatch(context.Background(), Request{Tool: "ghost", Target: "127.0.0.1"})
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", status)
	}
}

func TestDispatchDisabledTool(t *testing.T) {
	gw := testGateway(t)
	if err := gw.Registry.Disable("echotool"); err != nil {
		t.Fatal(err)
	}
	_, status := gw.Dispatch(context.Background(), Request{Tool: "echotool", Target: "127.0.0.1"})
	if status != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", status)
	}
}

func TestDispatchValidationError(t *testing.T) {
	gw := testGateway(t)
	_, status := gw.Dispatch(context.Background(), Request{Tool: "echotool", Target: "8.8.8.8"})
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
}

func TestDispatchSuccess(t *testing.T) {
	gw := testGateway(t)
	resp, status := gw.Dispatch(context.Background(), Request{Tool: "echotool", Target: "127.0.0.1"})
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if resp.ReturnCode != 0 {
		t.Fatalf("returncode = %d, want 0", resp.ReturnCode)
	}
	if resp.CorrelationID == "" {
		t.Fatal("expected a generated correlation id")
	}
}

func TestHTTPExecuteRoundTrip(t *testing.T) {
	gw := testGateway(t)
	srv := httptest.NewServer(NewServer(gw))
	defer srv.Close()

	body := strings.NewReader(`{"target":"127.0.0.1"}`)
	resp, err := http.Post(srv.URL+"/tools/echotool/execute", "application/json", body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.ReturnCode != 0 {
		t.Fatalf("returncode = %d, want 0", out.ReturnCode)
	}
}

func TestHTTPHealthStatusCode(t *testing.T) {
	gw := testGateway(t)
	srv := httptest.NewServer(NewServer(gw))
	defer srv.Close()

	deadline := time.Now().Add(2 * time.Second)
	var resp *http.Response
	for time.Now().Before(deadline) {
		r, err := http.Get(srv.URL + "/health")
		if err != nil {
			t.Fatal(err)
		}
		if r.StatusCode == http.StatusOK {
			resp = r
			break
		}
		r.Body.Close()
		time.Sleep(20 * time.Millisecond)
	}
	if resp == nil {
		t.Fatal("expected a healthy response within the deadline")
	}
	resp.Body.Close()
}

func TestStdioLoopRoundTrip(t *testing.T) {
	gw := testGateway(t)
	in := strings.NewReader(`{"tool":"echotool","target":"127.0.0.1"}` + "\n")
	var out strings.Builder
	if err := StdioLoop(context.Background(), gw, in, &out); err != nil {
		t.Fatal(err)
	}
	var resp Response
	if err := json.Unmarshal([]byte(strings.TrimSpace(out.String())), &resp); err != nil {
		t.Fatalf("invalid JSON response line: %v", err)
	}
	if resp.ReturnCode != 0 {
		t.Fatalf("returncode = %d, want 0", resp.ReturnCode)
	}
}
