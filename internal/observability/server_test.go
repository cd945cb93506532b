package observability

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRouter(t *testing.T) {
	collector := NewCollector()
	collector.CommandHandled("group-list", "ok")
	router := NewRouter(collector)

	tests := []struct {
		name            string
		path            string
		wantStatus      int
		wantContentType string
		wantBody        string
	}{
		{
			name:            "root reports running",
			path:            "/",
			wantStatus:      http.StatusOK,
			wantContentType: "text/plain",
			wantBody:        "rollcall is running",
		},
		{
			name:            "health check",
			path:            "/healthz",
			wantStatus:      http.StatusOK,
			wantContentType: "application/json",
			wantBody:        `{"status":"ok"}`,
		},
		{
			name:       "metrics exposition",
			path:       "/metrics",
			wantStatus: http.StatusOK,
			wantBody:   `rollcall_commands_total{command="group-list",outcome="ok"} 1`,
		},
		{
			name:       "unknown path",
			path:       "/nope",
			wantStatus: http.StatusNotFound,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			recorder := httptest.NewRecorder()
			router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, testCase.path, nil))

			if recorder.Code != testCase.wantStatus {
				t.Fatalf("status = %d, want %d", recorder.Code, testCase.wantStatus)
			}
			if testCase.wantContentType != "" &&
				!strings.HasPrefix(recorder.Header().Get("Content-Type"), testCase.wantContentType) {
				t.Fatalf("content type = %q, want %q", recorder.Header().Get("Content-Type"), testCase.wantContentType)
			}
			if !strings.Contains(recorder.Body.String(), testCase.wantBody) {
				t.Fatalf("body = %q, want substring %q", recorder.Body.String(), testCase.wantBody)
			}
		})
	}
}

func TestServerServesUntilCanceled(t *testing.T) {
	t.Parallel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server := NewServer(listener.Addr().String(), NewRouter(NewCollector()), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.serve(ctx, listener)
	}()

	response, err := http.Get("http://" + listener.Addr().String() + "/healthz")
	if err != nil {
		cancel()
		t.Fatalf("get healthz: %v", err)
	}
	body, _ := io.ReadAll(response.Body)
	_ = response.Body.Close()
	if string(body) != `{"status":"ok"}` {
		t.Fatalf("body = %q", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after cancel")
	}
}

func TestServerRunFailsOnBadAddress(t *testing.T) {
	t.Parallel()

	server := NewServer("256.0.0.1:bad", http.NotFoundHandler(), nil)
	if err := server.Run(context.Background()); err == nil {
		t.Fatal("expected listen error")
	}
}
