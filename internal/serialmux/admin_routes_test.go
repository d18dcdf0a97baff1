package serialmux

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

// localHostRequest creates an httptest request that appears to come from localhost.
// This passes tsweb.AllowDebugAccess which checks for loopback IPs.
func localHostRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func postForm(path string, form url.Values) *http.Request {
	req := localHostRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestAttachAdminRoutes_SendCommandAPI(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	tests := []struct {
		name       string
		req        *http.Request
		wantStatus int
		wantQueued []byte
	}{
		{
			name:       "inject aim command",
			req:        postForm("/debug/send-command-api", url.Values{"command": {"A1"}}),
			wantStatus: http.StatusOK,
			wantQueued: []byte{0xA1},
		},
		{
			name:       "inject several bytes",
			req:        postForm("/debug/send-command-api", url.Values{"command": {"a2 a3"}}),
			wantStatus: http.StatusOK,
			wantQueued: []byte{0xA2, 0xA3},
		},
		{
			name:       "empty command",
			req:        postForm("/debug/send-command-api", url.Values{"command": {"  "}}),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "bad hex",
			req:        postForm("/debug/send-command-api", url.Values{"command": {"xyz"}}),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "wrong method",
			req:        localHostRequest(http.MethodGet, "/debug/send-command-api", nil),
			wantStatus: http.StatusMethodNotAllowed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			httpMux.ServeHTTP(w, tt.req)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %q)", w.Code, tt.wantStatus, w.Body.String())
			}
			if got := mux.ReadAvailable(); !bytes.Equal(got, tt.wantQueued) {
				t.Errorf("queued % X, want % X", got, tt.wantQueued)
			}
		})
	}
}

func TestAttachAdminRoutes_SendCommandPage(t *testing.T) {
	httpMux := http.NewServeMux()
	NewDisabledSerialMux().AttachAdminRoutes(httpMux)

	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/send-command", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "/debug/tail.js") {
		t.Error("console page should load tail.js")
	}

	w = httptest.NewRecorder()
	httpMux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/tail.js", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "EventSource") {
		t.Errorf("tail.js status = %d", w.Code)
	}
}

func TestAttachAdminRoutes_SerialStats(t *testing.T) {
	d := NewDisabledSerialMux()
	d.Write([]byte{1, 2, 3})
	httpMux := http.NewServeMux()
	d.AttachAdminRoutes(httpMux)

	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/serial-stats", nil))

	var st Stats
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode stats: %v (body %q)", err, w.Body.String())
	}
	if st.BytesOut != 3 {
		t.Errorf("BytesOut = %d, want 3", st.BytesOut)
	}
}

func TestAttachAdminRoutes_TailStreamsTraffic(t *testing.T) {
	d := NewDisabledSerialMux()
	httpMux := http.NewServeMux()
	d.AttachAdminRoutes(httpMux)

	ctx, cancel := context.WithCancel(context.Background())
	req := localHostRequest(http.MethodGet, "/debug/tail", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		httpMux.ServeHTTP(w, req)
		close(done)
	}()

	// wait for the handler to subscribe before producing traffic
	waitFor(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return len(d.subscribers) == 1
	})
	d.Inject([]byte{0xA2})
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	if body := w.Body.String(); !strings.Contains(body, "data: inject A2") {
		t.Errorf("tail body = %q", body)
	}
}
