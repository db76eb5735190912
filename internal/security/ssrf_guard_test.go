package security

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewSafeClient_SetsTimeoutAndTransport(t *testing.T) {
	guard := NewSSRFGuard()
	client := guard.NewSafeClient(5 * time.Second)

	if client.Timeout != 5*time.Second {
		t.Errorf("timeout = %v, want 5s", client.Timeout)
	}
	if client.Transport == nil || client.Transport == http.DefaultTransport {
		t.Fatal("expected custom Transport")
	}
}

// httptestサーバーは127.0.0.1で起動するため、safeurlにブロックされる。
func TestNewSafeClient_BlocksLoopback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewSSRFGuard().NewSafeClient(5 * time.Second)
	if _, err := client.Get(ts.URL); err == nil {
		t.Fatal("expected error for loopback address request, got nil")
	}
}

func TestValidateURL_Public(t *testing.T) {
	guard := NewSSRFGuard()
	for _, u := range []string{
		"https://example.com/avatar.png",
		"http://img.example.org/a.jpg",
		"https://93.184.216.34/a.png",
	} {
		t.Run(u, func(t *testing.T) {
			if err := guard.ValidateURL(u); err != nil {
				t.Errorf("ValidateURL(%q) returned error: %v", u, err)
			}
		})
	}
}

func TestValidateURL_Blocked(t *testing.T) {
	guard := NewSSRFGuard()
	for _, u := range []string{
		"http://10.0.0.1/a.png",
		"http://172.31.255.255/a.png",
		"http://192.168.1.100/a.png",
		"http://127.0.0.2/a.png",
		"http://localhost/a.png",
		"http://LOCALHOST/a.png",
		"http://169.254.169.254/latest/meta-data/",
		"http://metadata.google.internal/computeMetadata/v1/",
		"http://0.0.0.0/a.png",
		"http://[::1]/a.png",
		"http://[::ffff:127.0.0.1]/a.png",
		"http://100.64.0.1/a.png",
		"ftp://example.com/a.png",
		"file:///etc/passwd",
	} {
		t.Run(u, func(t *testing.T) {
			err := guard.ValidateURL(u)
			if err == nil {
				t.Fatalf("ValidateURL(%q) should have returned error", u)
			}
			if !errors.Is(err, ErrBlockedURL) {
				t.Errorf("ValidateURL(%q) = %v, want ErrBlockedURL", u, err)
			}
		})
	}
}

func TestValidateURL_Malformed(t *testing.T) {
	guard := NewSSRFGuard()
	for _, u := range []string{"", "http://", "://bad"} {
		t.Run(u, func(t *testing.T) {
			if err := guard.ValidateURL(u); err == nil {
				t.Errorf("ValidateURL(%q) should have returned error", u)
			}
		})
	}
}
