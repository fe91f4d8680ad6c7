package llm

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"spellcast/internal/domain"
)

// maxErrorBody bounds how much of a failed response is read into an error.
const maxErrorBody = 4096

// NewHTTPClient builds the client used by the HTTP brains. connect bounds
// dialing, read bounds the wait for response headers and call bounds the whole
// exchange including the streamed body. Zero values disable the timeout.
// proxy, when non-empty, is an http(s) proxy URL.
func NewHTTPClient(t domain.TimeoutConfig, proxy string) (*http.Client, error) {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   seconds(t.Connect),
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: seconds(t.Read),
		TLSHandshakeTimeout:   seconds(t.Connect),
		IdleConnTimeout:       90 * time.Second,
		Proxy:                 http.ProxyFromEnvironment,
	}
	if proxy != "" {
		u, err := url.Parse(proxy)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("llm: invalid proxy %q", proxy)
		}
		transport.Proxy = http.ProxyURL(u)
	}
	return &http.Client{Transport: transport, Timeout: seconds(t.Call)}, nil
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

// chatMessage is the wire form shared by OpenAI-compatible and Ollama chat APIs.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// toChatMessages maps conversation messages to the wire form. Tool results
// are sent with the system role.
func toChatMessages(msgs []domain.Message) []chatMessage {
	out := make([]chatMessage, 0, len(msgs))
	for _, m := range msgs {
		role := string(m.Role)
		if m.Role == domain.RoleSystemResult {
			role = string(domain.RoleSystem)
		}
		out = append(out, chatMessage{Role: role, Content: m.Content})
	}
	return out
}

// statusError reads a bounded slice of a failed response body into a
// *domain.ProviderError.
func statusError(provider string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &domain.ProviderError{
		Provider:   provider,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       strings.TrimSpace(string(body)),
	}
}

// transientStatus reports whether a status should fail the open so retry and
// fallbacks can take over, rather than reach the scanner as an error envelope.
func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
