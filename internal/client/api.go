package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dexporter/dexporter/internal/dex"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// PageSize is the number of messages requested per page
const PageSize = 100

// HTTPError is a non-2xx response from the remote API
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether retrying the request may help
func (e *HTTPError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client is the HTTP client for the remote chat API
type Client struct {
	config     *Config
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      RetryPolicy
	version    string

	// downloads stream for as long as they need; only the wait for response
	// headers is bounded, the context cancels the rest
	downloadClient *http.Client
}

// NewClient creates a new API client
func NewClient(config *Config, version string) *Client {
	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}
	burst := int(math.Ceil(config.RequestsPerSecond))
	if burst < 1 {
		burst = 1
	}
	timeout := time.Duration(config.TimeoutSeconds) * time.Second
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		downloadClient: &http.Client{
			Transport: transport,
		},
		limiter: rate.NewLimiter(limit, burst),
		retry:   DefaultRetryPolicy(),
		version: version,
	}
}

// WithRetryPolicy replaces the retry policy, mostly for tests
func (c *Client) WithRetryPolicy(p RetryPolicy) *Client {
	c.retry = p
	return c
}

// FetchMessages returns one page of at most PageSize messages posted after
// the given id. An empty page means there is nothing newer.
func (c *Client) FetchMessages(ctx context.Context, channelID, after dex.Snowflake) ([]dex.Message, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(PageSize))
	q.Set("after", after.String())

	var messages []dex.Message
	path := fmt.Sprintf("/channels/%s/messages?%s", channelID, q.Encode())
	if err := c.getJSON(ctx, path, &messages); err != nil {
		return nil, fmt.Errorf("fetch messages in %s after %s: %w", channelID, after, err)
	}
	return messages, nil
}

// FetchChannel returns the header of a single channel
func (c *Client) FetchChannel(ctx context.Context, channelID dex.Snowflake) (dex.Channel, error) {
	var ch dex.Channel
	err := c.getJSON(ctx, "/channels/"+channelID.String(), &ch)
	return ch, err
}

// FetchDMs lists the direct channels of the current user
func (c *Client) FetchDMs(ctx context.Context) ([]dex.Channel, error) {
	var channels []dex.Channel
	err := c.getJSON(ctx, "/users/@me/channels", &channels)
	return channels, err
}

// FetchGuilds lists the guilds the current user belongs to
func (c *Client) FetchGuilds(ctx context.Context) ([]dex.Guild, error) {
	var guilds []dex.Guild
	err := c.getJSON(ctx, "/users/@me/guilds", &guilds)
	return guilds, err
}

// FetchGuildChannels lists every channel of a guild. Callers filter with
// Channel.IsText.
func (c *Client) FetchGuildChannels(ctx context.Context, guildID dex.Snowflake) ([]dex.Channel, error) {
	var channels []dex.Channel
	err := c.getJSON(ctx, "/guilds/"+guildID.String()+"/channels", &channels)
	return channels, err
}

// CurrentUser returns the account the token belongs to
func (c *Client) CurrentUser(ctx context.Context) (dex.User, error) {
	var user dex.User
	err := c.getJSON(ctx, "/users/@me", &user)
	return user, err
}

// Download streams the body at rawURL into w. Attachment URLs are absolute
// and do not carry the token.
func (c *Client) Download(ctx context.Context, rawURL string, w io.Writer) (int64, error) {
	var written int64
	err := c.retry.Do(ctx, "download", func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return Permanent(err)
		}
		req.Header.Set("User-Agent", c.userAgent())

		resp, err := c.downloadClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return classify(resp)
		}
		// partial writes cannot be undone, so a broken body is final
		n, err := io.Copy(w, resp.Body)
		written = n
		if err != nil {
			return Permanent(err)
		}
		return nil
	})
	return written, err
}

// getJSON performs a GET against the API and decodes the JSON body into
// out. Transport failures, 429/5xx responses and undecodable bodies are
// retried by the client's retry policy.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.retry.Do(ctx, path, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(c.config.APIURL, "/")+path, nil)
		if err != nil {
			return Permanent(err)
		}
		c.setHeaders(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return classify(resp)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	})
}

func classify(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	httpErr := &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	if httpErr.Transient() {
		return httpErr
	}
	return Permanent(httpErr)
}

// setHeaders sets common HTTP headers
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", c.config.Token)
	req.Header.Set("User-Agent", c.userAgent())
	req.Header.Set("X-Request-Id", uuid.NewString())
}

func (c *Client) userAgent() string {
	return fmt.Sprintf("dexporter/%s", c.version)
}
