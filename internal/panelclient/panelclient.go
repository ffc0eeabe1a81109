// Package panelclient implements the control-panel HTTP client (spec.md
// section 4.F): one instance per upstream DirectAdmin-style server,
// responsible only for listing domains and registering this node as an
// extra DNS server. Grounded on original_source's app/da/client.py almost
// verbatim.
package panelclient

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const requestTimeout = 30 * time.Second

// Config is everything needed to reach and authenticate against one panel.
type Config struct {
	Hostname  string
	Port      int
	Username  string
	Password  string
	SSL       bool
	VerifySSL bool
}

// Client talks to a single DirectAdmin-style control panel, transparently
// upgrading from HTTP Basic to a session cookie when the server redirects
// (DA Evolution's login flow).
type Client struct {
	cfg         Config
	scheme      string
	httpClient  *http.Client
	retryClient *retryablehttp.Client
	usingCookie bool
}

func New(cfg Config) *Client {
	scheme := "http"
	if cfg.SSL {
		scheme = "https"
	}

	jar, _ := cookiejar.New(nil)
	httpClient := &http.Client{
		Jar:     jar,
		Timeout: requestTimeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: !cfg.VerifySSL},
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = httpClient
	retryClient.RetryMax = 2
	retryClient.RetryWaitMin = 100 * time.Millisecond
	retryClient.RetryWaitMax = 500 * time.Millisecond
	retryClient.Logger = nil

	return &Client{cfg: cfg, scheme: scheme, httpClient: httpClient, retryClient: retryClient}
}

func (c *Client) baseURL(command string) string {
	return fmt.Sprintf("%s://%s:%d/%s", c.scheme, c.cfg.Hostname, c.cfg.Port, command)
}

func isRedirectStatus(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// get issues an authenticated GET against command, using the session
// cookie once one has been established, otherwise HTTP Basic.
func (c *Client) get(ctx context.Context, command string, params url.Values) (*http.Response, error) {
	u := c.baseURL(command)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if !c.usingCookie {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}
	return c.retryClient.Do(req)
}

// postForm issues an authenticated form-encoded POST against command,
// using the same cookie-or-Basic auth selection as get.
func (c *Client) postForm(ctx context.Context, command string, form url.Values) (*http.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL(command), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if !c.usingCookie {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}
	return c.retryClient.Do(req)
}

// login performs the CMD_LOGIN session-cookie exchange; not wrapped in
// retryablehttp since a failed login should not be silently retried.
func (c *Client) login(ctx context.Context) error {
	form := url.Values{
		"username": {c.cfg.Username},
		"password": {c.cfg.Password},
		"referer":  {"/CMD_DNS_ADMIN?json=yes&page=1&ipp=500"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL("CMD_LOGIN"), strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("session login request failed: %w", err)
	}
	defer resp.Body.Close()

	if len(resp.Cookies()) == 0 {
		return fmt.Errorf("CMD_LOGIN returned no session cookie — check username/password")
	}
	c.usingCookie = true
	slog.Debug("panel session login succeeded", "host", c.cfg.Hostname)
	return nil
}

// ListDomains fetches every domain registered on this panel via
// CMD_DNS_ADMIN (JSON, paginated), falling back to the legacy URL-encoded
// response format. Every failure mode — connection, timeout, TLS, HTTP
// error, HTML body, redirect loop — collapses to a single (nil, error)
// outcome; there is no partial success.
func (c *Client) ListDomains(ctx context.Context, itemsPerPage int) ([]string, error) {
	page := 1
	totalPages := 1
	domains := make(map[string]struct{})

	for page <= totalPages {
		resp, err := c.get(ctx, "CMD_DNS_ADMIN", url.Values{
			"json": {"yes"},
			"page": {strconv.Itoa(page)},
			"ipp":  {strconv.Itoa(itemsPerPage)},
		})
		if err != nil {
			return nil, fmt.Errorf("list domains: %w", err)
		}
		body, closeErr := readAndClose(resp)
		if closeErr != nil {
			return nil, closeErr
		}

		if isRedirectStatus(resp.StatusCode) {
			if c.usingCookie {
				return nil, fmt.Errorf("still redirecting after session login — check %q has admin-level access", c.cfg.Username)
			}
			if err := c.login(ctx); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("http %d from %s", resp.StatusCode, c.cfg.Hostname)
		}
		if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
			return nil, fmt.Errorf("returned HTML instead of an API response — check credentials and admin-level access")
		}

		var data struct {
			Info struct {
				TotalPages int `json:"total_pages"`
			} `json:"info"`
		}
		raw := map[string]json.RawMessage{}
		if err := json.Unmarshal(body, &raw); err != nil {
			for _, d := range parseLegacyDomainList(string(body)) {
				domains[d] = struct{}{}
			}
			break // no paging in legacy mode
		}
		if err := json.Unmarshal(body, &data); err != nil {
			return nil, fmt.Errorf("decode paging info: %w", err)
		}
		for k, v := range raw {
			if !isDigits(k) {
				continue
			}
			var entry struct {
				Domain string `json:"domain"`
			}
			if err := json.Unmarshal(v, &entry); err != nil || entry.Domain == "" {
				continue
			}
			domains[strings.ToLower(strings.TrimSpace(entry.Domain))] = struct{}{}
		}
		if data.Info.TotalPages > 0 {
			totalPages = data.Info.TotalPages
		}
		page++
	}

	out := make([]string, 0, len(domains))
	for d := range domains {
		out = append(out, d)
	}
	return out, nil
}

func readAndClose(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// parseLegacyDomainList parses DA's legacy CMD_API_SHOW_ALL_DOMAINS
// response: list[]=a&list[]=b, optionally newline-separated.
func parseLegacyDomainList(body string) []string {
	normalized := strings.Trim(strings.ReplaceAll(body, "\n", "&"), "&")
	values, err := url.ParseQuery(normalized)
	if err != nil {
		return nil
	}
	var out []string
	for _, d := range values["list[]"] {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}
