package source

import (
	"context"
	"errors"
	"net/http"
	"os"
	"testing"

	"github.com/Sternrassler/bulk-ingest/internal/testutil"
	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func newTestSource(t *testing.T, remote *testutil.MockRemote) *HTTPSource {
	t.Helper()

	src, err := NewHTTP(DefaultHTTPConfig(remote.URL()), testLogger())
	if err != nil {
		t.Fatalf("NewHTTP failed: %v", err)
	}
	return src
}

func TestNewHTTP_Validation(t *testing.T) {
	if _, err := NewHTTP(HTTPConfig{}, testLogger()); err == nil {
		t.Error("NewHTTP with empty base URL expected error, got nil")
	}
}

func TestFetch_Success(t *testing.T) {
	remote := testutil.NewMockRemote()
	defer remote.Close()
	remote.SetResponse("42", testutil.NewRecordResponse("42", "Alpha Corp"))

	src := newTestSource(t, remote)

	rec, err := src.Fetch(context.Background(), "42", "token-abc")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if rec == nil {
		t.Fatal("Fetch returned nil record for existing id")
	}
	if rec.ID != "42" {
		t.Errorf("Record.ID = %q, want %q", rec.ID, "42")
	}
	if rec.Name != "Alpha Corp" {
		t.Errorf("Record.Name = %q, want %q", rec.Name, "Alpha Corp")
	}
	if rec.FetchedAt.IsZero() {
		t.Error("Record.FetchedAt not set")
	}
	if remote.LastAuthorization != "Bearer token-abc" {
		t.Errorf("Authorization = %q, want bearer credential", remote.LastAuthorization)
	}
}

func TestFetch_NoData(t *testing.T) {
	remote := testutil.NewMockRemote()
	defer remote.Close()
	remote.SetResponse("X", testutil.NewNoDataResponse())

	src := newTestSource(t, remote)

	rec, err := src.Fetch(context.Background(), "X", "token")
	if err != nil {
		t.Fatalf("Fetch of no-data id returned error: %v", err)
	}
	if rec != nil {
		t.Errorf("Fetch of no-data id returned record %+v, want nil", rec)
	}
}

func TestFetch_ErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		expected ErrorClass
	}{
		{name: "forbidden", status: http.StatusForbidden, expected: ErrorClassClient},
		{name: "rate limited", status: http.StatusTooManyRequests, expected: ErrorClassRateLimit},
		{name: "server error", status: http.StatusInternalServerError, expected: ErrorClassServer},
		{name: "bad gateway", status: http.StatusBadGateway, expected: ErrorClassServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote := testutil.NewMockRemote()
			defer remote.Close()
			remote.SetResponse("err", testutil.NewErrorResponse(tt.status))

			src := newTestSource(t, remote)

			_, err := src.Fetch(context.Background(), "err", "token")
			if err == nil {
				t.Fatal("Expected error, got nil")
			}

			var fe *FetchError
			if !errors.As(err, &fe) {
				t.Fatalf("Expected *FetchError, got %T", err)
			}
			if fe.Class != tt.expected {
				t.Errorf("Class = %v, want %v", fe.Class, tt.expected)
			}
			if fe.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", fe.StatusCode, tt.status)
			}
		})
	}
}

func TestFetch_NetworkError(t *testing.T) {
	remote := testutil.NewMockRemote()
	remote.Close() // server down

	src := newTestSource(t, remote)

	_, err := src.Fetch(context.Background(), "42", "token")
	if err == nil {
		t.Fatal("Expected network error, got nil")
	}

	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("Expected *FetchError, got %T: %v", err, err)
	}
	if fe.Class != ErrorClassNetwork {
		t.Errorf("Class = %v, want %v", fe.Class, ErrorClassNetwork)
	}
}

func TestFetch_ContextCancelled(t *testing.T) {
	remote := testutil.NewMockRemote()
	defer remote.Close()

	src := newTestSource(t, remote)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := src.Fetch(ctx, "42", "token")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Fetch with cancelled context = %v, want context.Canceled", err)
	}
}
