package panelclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func testClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse test server url: %v", err)
	}
	host, port, err := splitHostPort(u.Host)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	return New(Config{Hostname: host, Port: port, Username: "admin", Password: "secret", SSL: false, VerifySSL: false})
}

func splitHostPort(hostport string) (string, int, error) {
	parts := strings.SplitN(hostport, ":", 2)
	if len(parts) != 2 {
		return hostport, 0, nil
	}
	var port int
	_, err := fmt.Sscanf(parts[1], "%d", &port)
	return parts[0], port, err
}

func TestListDomainsSinglePageJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"0":{"domain":"Example.com"},"1":{"domain":"other.net"},"info":{"total_pages":1}}`)
	}))
	defer srv.Close()

	c := testClient(t, srv)
	domains, err := c.ListDomains(context.Background(), 1000)
	if err != nil {
		t.Fatalf("ListDomains: %v", err)
	}
	if len(domains) != 2 {
		t.Fatalf("expected 2 domains, got %v", domains)
	}
}

func TestListDomainsRejectsHTMLResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html>nope</html>")
	}))
	defer srv.Close()

	c := testClient(t, srv)
	if _, err := c.ListDomains(context.Background(), 1000); err == nil {
		t.Fatal("expected error for HTML response")
	}
}

func TestListDomainsHTTPErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(t, srv)
	if _, err := c.ListDomains(context.Background(), 1000); err == nil {
		t.Fatal("expected error for HTTP 500 response")
	}
}

func TestParseLegacyDomainList(t *testing.T) {
	got := parseLegacyDomainList("list[]=Example.com&list[]=Other.net\nlist[]=third.org")
	if len(got) != 3 {
		t.Fatalf("expected 3 domains, got %v", got)
	}
}
