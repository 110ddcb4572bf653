package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/AlexSDem/trade-bot/internal/config"
	"github.com/AlexSDem/trade-bot/internal/domain"
	_ "github.com/AlexSDem/trade-bot/internal/metrics"
	"github.com/AlexSDem/trade-bot/internal/state"
)

type fakeState struct {
	ready bool
	last  time.Time
	view  state.View
}

func (f *fakeState) View() state.View { return f.view }
func (f *fakeState) Ready() bool { return f.ready }
func (f *fakeState) LastCycle() time.Time { return f.last }

type fakeJournal struct {
	days    map[string][]domain.JournalRecord
	lastDay string
	feed    chan domain.JournalRecord
}

func (f *fakeJournal) ReadDay(_ context.Context, day string) ([]domain.JournalRecord, error) {
	f.lastDay = day
	return f.days[day], nil
}

func (f *fakeJournal) Subscribe(int) (int, <-chan domain.JournalRecord) { return 1, f.feed }
func (f *fakeJournal) Unsubscribe(int) {}

var t0 = time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*Server, *fakeState, *fakeJournal) {
	t.Helper()
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	src := &fakeState{
		last: t0,
		view: state.View{
			Day:      state.DaySnapshot{Day: "2025-03-10", TradesToday: 2},
			Currency: "USD",
			Cash:     9000,
			Instruments: []state.Instrument{
				{VenueID: "AAPL", Symbol: "AAPL", LotSize: 1, PositionLots: 3},
			},
		},
	}
	j := &fakeJournal{
		days: map[string][]domain.JournalRecord{
			"2025-03-10": {{Timestamp: t0, Event: domain.EventFill, Symbol: "AAPL", Lots: 3, Price: 170}},
		},
		feed: make(chan domain.JournalRecord, 4),
	}
	s := NewServer(config.Server{}, src, j, ny, nil)
	s.now = func() time.Time { return t0 }
	return s, src, j
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestProbes(t *testing.T) {
	s, src, _ := newTestServer(t)
	h := s.Handler()

	if rec := get(t, h, "/livez"); rec.Code != http.StatusOK {
		t.Errorf("/livez = %d, want 200", rec.Code)
	}
	if rec := get(t, h, "/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/readyz before ready = %d, want 503", rec.Code)
	}
	src.ready = true
	if rec := get(t, h, "/readyz"); rec.Code != http.StatusOK {
		t.Errorf("/readyz after ready = %d, want 200", rec.Code)
	}

	rec := get(t, h, "/healthz")
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding /healthz: %v", err)
	}
	if !resp.Ready || resp.LastCycleUnix != t0.Unix() || resp.Day != "2025-03-10" {
		t.Errorf("/healthz = %+v", resp)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := get(t, s.Handler(), "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "tradebot_open_positions") {
		t.Error("/metrics does not expose tradebot_open_positions")
	}
}

func TestStateEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := get(t, s.Handler(), "/api/v1/state")
	if rec.Code != http.StatusOK {
		t.Fatalf("/api/v1/state = %d, want 200", rec.Code)
	}
	var v state.View
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decoding state: %v", err)
	}
	if v.Day.TradesToday != 2 || len(v.Instruments) != 1 || v.Instruments[0].PositionLots != 3 {
		t.Errorf("state = %+v", v)
	}
}

func TestJournalEndpoint(t *testing.T) {
	s, _, j := newTestServer(t)
	h := s.Handler()

	// 15:00 UTC is 11:00 in New York, still the 10th.
	rec := get(t, h, "/api/v1/journal")
	if rec.Code != http.StatusOK {
		t.Fatalf("/api/v1/journal = %d, want 200", rec.Code)
	}
	if j.lastDay != "2025-03-10" {
		t.Errorf("default day = %s, want 2025-03-10", j.lastDay)
	}
	var resp JournalResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding journal: %v", err)
	}
	if len(resp.Records) != 1 || resp.Records[0].Event != domain.EventFill {
		t.Errorf("records = %+v, want the one FILL", resp.Records)
	}

	rec = get(t, h, "/api/v1/journal?day=2025-01-01")
	if !strings.Contains(rec.Body.String(), `"records":[]`) {
		t.Errorf("empty day body = %s, want an empty records array", rec.Body.String())
	}

	if rec := get(t, h, "/api/v1/journal?day=yesterday"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad day = %d, want 400", rec.Code)
	}
}

func TestWebSocketJournalFeed(t *testing.T) {
	s, _, j := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Hub().Run(ctx, j.feed)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/journal"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.Hub().Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	j.feed <- domain.JournalRecord{Timestamp: t0, Event: domain.EventSubmit, Symbol: "MSFT", Lots: 2}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got domain.JournalRecord
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got.Event != domain.EventSubmit || got.Symbol != "MSFT" || got.Lots != 2 {
		t.Errorf("received %+v, want the SUBMIT for MSFT", got)
	}
}

func TestGRPCHealth(t *testing.T) {
	s, _, _ := newTestServer(t)

	lis := bufconn.Listen(1 << 20)
	gs := s.NewGRPCServer()
	go func() { _ = gs.Serve(lis) }()
	defer gs.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)
	ctx := context.Background()

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		t.Helper()
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		return resp.GetStatus()
	}

	if got := check(); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("status before ready = %v, want NOT_SERVING", got)
	}
	s.SetServing(true)
	if got := check(); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status after ready = %v, want SERVING", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s, _, _ := newTestServer(t)
	s.httpAddr = "127.0.0.1:0"
	s.grpcAddr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
