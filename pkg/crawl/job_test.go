package crawl

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/Sternrassler/bike-crawler/internal/testutil"
	"github.com/Sternrassler/bike-crawler/pkg/archive"
	"github.com/Sternrassler/bike-crawler/pkg/client"
	"github.com/Sternrassler/bike-crawler/pkg/pagination"
	"github.com/Sternrassler/bike-crawler/pkg/status"
	"github.com/rs/zerolog"
)

var fixedTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.Local)

type recordingReporter struct {
	heartbeats []status.Heartbeat
	err        error
}

func (r *recordingReporter) Report(ctx context.Context, hb status.Heartbeat) error {
	r.heartbeats = append(r.heartbeats, hb)
	return r.err
}

type setup struct {
	mock *testutil.MockAPI
	run  *archive.Run
	job  *Job
	root string
}

func newSetup(t *testing.T, opts ...Option) *setup {
	t.Helper()

	mock := testutil.NewMockAPI(`{"items":[]}`)
	t.Cleanup(mock.Close)

	cfg := client.DefaultConfig("ABC")
	cfg.BaseURL = mock.URL()
	apiClient, err := client.New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	root := filepath.Join(t.TempDir(), "out")
	run, err := archive.NewRun(root, fixedTime)
	if err != nil {
		t.Fatalf("Failed to create run: %v", err)
	}

	opts = append([]Option{WithClock(func() time.Time { return fixedTime })}, opts...)
	job, err := New(apiClient, run, Config{Pages: 10}, zerolog.Nop(), opts...)
	if err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}

	return &setup{mock: mock, run: run, job: job, root: root}
}

func listFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

// stubFetcher serves empty pages of a fixed size and records the offsets.
type stubFetcher struct {
	limit   int
	offsets []int
}

func (f *stubFetcher) FetchPage(ctx context.Context, offset int) (pagination.Page, error) {
	f.offsets = append(f.offsets, offset)
	return pagination.Page{Offset: offset, StatusCode: 200, Body: []byte("{}")}, nil
}

func (f *stubFetcher) Limit() int { return f.limit }

func TestNew_Validation(t *testing.T) {
	run, _ := archive.NewRun(t.TempDir(), fixedTime)

	tests := []struct {
		name    string
		fetcher Fetcher
		run     *archive.Run
		cfg     Config
	}{
		{"nil fetcher", nil, run, Config{Pages: 10}},
		{"nil run", &stubFetcher{limit: 50}, nil, Config{Pages: 10}},
		{"zero pages", &stubFetcher{limit: 50}, run, Config{Pages: 0}},
		{"zero limit", &stubFetcher{limit: 0}, run, Config{Pages: 10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.fetcher, tt.run, tt.cfg, zerolog.Nop())
			if !errors.Is(err, ErrInvalidJob) {
				t.Errorf("New() error = %v, want ErrInvalidJob", err)
			}
		})
	}
}

func TestRunCycle_OffsetsFollowFetcherLimit(t *testing.T) {
	run, err := archive.NewRun(t.TempDir(), fixedTime)
	if err != nil {
		t.Fatalf("Failed to create run: %v", err)
	}
	fetcher := &stubFetcher{limit: 20}

	job, err := New(fetcher, run, Config{Pages: 3}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := job.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	if want := []int{0, 20, 40}; !reflect.DeepEqual(fetcher.offsets, want) {
		t.Errorf("offsets = %v, want %v", fetcher.offsets, want)
	}
}

func TestRunCycle_WritesAllPages(t *testing.T) {
	s := newSetup(t)

	cycle, err := s.job.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	runDir := filepath.Join(s.root, "2024-01-01-120000")
	var want []string
	for i := 0; i < 10; i++ {
		want = append(want, "2024-01-01-120000-"+string(rune('0'+i))+".json")
	}
	sort.Strings(want)

	if got := listFiles(t, runDir); !reflect.DeepEqual(got, want) {
		t.Errorf("files = %v\nwant %v", got, want)
	}

	for _, name := range want {
		content, err := os.ReadFile(filepath.Join(runDir, name))
		if err != nil {
			t.Fatalf("ReadFile(%s) error = %v", name, err)
		}
		if string(content) != `{"items":[]}` {
			t.Errorf("%s content = %q", name, content)
		}
	}

	if len(cycle.Files) != 10 {
		t.Errorf("cycle.Files = %d, want 10", len(cycle.Files))
	}
	if cycle.Bytes != int64(10*len(`{"items":[]}`)) {
		t.Errorf("cycle.Bytes = %d", cycle.Bytes)
	}
	if cycle.ID == "" {
		t.Error("cycle.ID is empty")
	}
}

func TestRunCycle_OffsetsInOrder(t *testing.T) {
	s := newSetup(t)

	if _, err := s.job.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	want := []int{0, 50, 100, 150, 200, 250, 300, 350, 400, 450}
	if got := s.mock.Offsets(); !reflect.DeepEqual(got, want) {
		t.Errorf("offsets = %v, want %v", got, want)
	}
	for _, req := range s.mock.Requests() {
		if req.Authorization != "Bearer ABC" {
			t.Errorf("Authorization = %q", req.Authorization)
		}
	}
}

func TestRunCycle_ArchivesErrorPayloads(t *testing.T) {
	s := newSetup(t)
	unauthorized := testutil.NewUnauthorizedResponse()
	s.mock.SetResponse(100, unauthorized)
	s.mock.SetResponse(450, testutil.NewServerErrorResponse())

	cycle, err := s.job.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if cycle.NonSuccess != 2 {
		t.Errorf("NonSuccess = %d, want 2", cycle.NonSuccess)
	}

	content, err := os.ReadFile(s.run.PagePath(fixedTime, 2))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(content) != unauthorized.Body {
		t.Errorf("page 2 content = %q, want %q", content, unauthorized.Body)
	}
}

func TestRunCycle_TransportFailureHalts(t *testing.T) {
	reporter := &recordingReporter{}
	s := newSetup(t, WithReporter(reporter))
	s.mock.FailRequest(4)

	cycle, err := s.job.RunCycle(context.Background())
	if err == nil {
		t.Fatal("Expected error from failed request")
	}

	var reqErr *client.RequestError
	if !errors.As(err, &reqErr) {
		t.Errorf("Expected wrapped *client.RequestError, got %v", err)
	}
	var pageErr *pagination.PageError
	if !errors.As(err, &pageErr) || pageErr.Index != 3 {
		t.Errorf("Expected page index 3 to fail, got %v", err)
	}

	if got := s.mock.GetRequestCount(); got != 4 {
		t.Errorf("requests = %d, want 4", got)
	}

	want := []string{
		"2024-01-01-120000-0.json",
		"2024-01-01-120000-1.json",
		"2024-01-01-120000-2.json",
	}
	if got := listFiles(t, s.run.Dir()); !reflect.DeepEqual(got, want) {
		t.Errorf("files = %v, want %v", got, want)
	}
	if len(cycle.Files) != 3 {
		t.Errorf("cycle.Files = %d, want 3", len(cycle.Files))
	}

	if len(reporter.heartbeats) != 1 {
		t.Fatalf("heartbeats = %d, want 1", len(reporter.heartbeats))
	}
	if hb := reporter.heartbeats[0]; hb.OK() || hb.Pages != 3 {
		t.Errorf("heartbeat = %+v, want failed with 3 pages", hb)
	}
}

func TestRunCycle_WriteFailureHalts(t *testing.T) {
	s := newSetup(t)
	if err := os.RemoveAll(s.run.Dir()); err != nil {
		t.Fatalf("RemoveAll() error = %v", err)
	}

	_, err := s.job.RunCycle(context.Background())
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("RunCycle() error = %v, want os.ErrNotExist", err)
	}
	if got := s.mock.GetRequestCount(); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
}

func TestRunCycle_ReportsHeartbeat(t *testing.T) {
	reporter := &recordingReporter{err: errors.New("redis down")}
	s := newSetup(t, WithReporter(reporter))

	cycle, err := s.job.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v, reporter errors must not fail the cycle", err)
	}

	if len(reporter.heartbeats) != 1 {
		t.Fatalf("heartbeats = %d, want 1", len(reporter.heartbeats))
	}
	hb := reporter.heartbeats[0]
	if hb.CycleID != cycle.ID {
		t.Errorf("CycleID = %q, want %q", hb.CycleID, cycle.ID)
	}
	if !hb.OK() || hb.Pages != 10 || hb.RunDir != s.run.Dir() {
		t.Errorf("heartbeat = %+v", hb)
	}
	if !hb.CycleTime.Equal(fixedTime) {
		t.Errorf("CycleTime = %v, want %v", hb.CycleTime, fixedTime)
	}
}

func TestRunCycle_CancelledContext(t *testing.T) {
	s := newSetup(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.job.RunCycle(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("RunCycle() error = %v, want context.Canceled", err)
	}
	if got := s.mock.GetRequestCount(); got != 0 {
		t.Errorf("requests = %d, want 0", got)
	}
}

func TestName(t *testing.T) {
	s := newSetup(t)
	if s.job.Name() != JobName {
		t.Errorf("Name() = %q, want %q", s.job.Name(), JobName)
	}
}
