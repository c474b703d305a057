package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"
)

// FetchedObject is a remote image body with the content type the server declared
type FetchedObject struct {
	Data        []byte
	ContentType string
}

type ImageFetcher interface {
	FetchImage(ctx context.Context, imageURL string) (*FetchedObject, error)
}

// ErrTooLarge is returned when a response body exceeds the fetcher's limit
var ErrTooLarge = errors.New("response body exceeds size limit")

// ErrBlockedAddress is returned when the policy refuses a URL or the address
// it resolves to
var ErrBlockedAddress = errors.New("destination not allowed")

// URLPolicy vets the requested URL, every redirect target and every dialed
// address of a fetch
type URLPolicy interface {
	ValidateImageURL(imageURL string) error
	DialControl(network, address string, c syscall.RawConn) error
}

const maxAttempts = 3

// HTTPImageFetcher downloads image bytes with bounded retries
type HTTPImageFetcher struct {
	client   *http.Client
	policy   URLPolicy
	maxBytes int64
	backoff  time.Duration
}

// NewHTTPImageFetcher creates an HTTP image fetcher that reads at most
// maxBytes of any response
func NewHTTPImageFetcher(timeout time.Duration, maxBytes int64) *HTTPImageFetcher {
	h := &HTTPImageFetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
		backoff:  time.Second,
	}
	h.client.Transport = newTransport(nil)
	h.client.CheckRedirect = h.checkRedirect
	return h
}

// WithPolicy makes every request, redirect and connection pass p
func (h *HTTPImageFetcher) WithPolicy(p URLPolicy) *HTTPImageFetcher {
	h.policy = p
	h.client.Transport = newTransport(func(network, address string, c syscall.RawConn) error {
		if err := p.DialControl(network, address, c); err != nil {
			return fmt.Errorf("%w: %v", ErrBlockedAddress, err)
		}
		return nil
	})
	return h
}

func newTransport(control func(network, address string, c syscall.RawConn) error) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   control,
	}
	return &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		MaxResponseHeaderBytes: 4096,
	}
}

func (h *HTTPImageFetcher) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 3 {
		return fmt.Errorf("too many redirects (limit: 3)")
	}
	return h.allow(req.URL.String())
}

func (h *HTTPImageFetcher) allow(imageURL string) error {
	if h.policy == nil {
		return nil
	}
	if err := h.policy.ValidateImageURL(imageURL); err != nil {
		return fmt.Errorf("%w: %v", ErrBlockedAddress, err)
	}
	return nil
}

// WithBackoff overrides the base delay between attempts
func (h *HTTPImageFetcher) WithBackoff(d time.Duration) *HTTPImageFetcher {
	h.backoff = d
	return h
}

// FetchImage retries transport errors and 5xx responses; 4xx responses fail
// immediately
func (h *HTTPImageFetcher) FetchImage(ctx context.Context, imageURL string) (*FetchedObject, error) {
	if err := h.allow(imageURL); err != nil {
		return nil, err
	}
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * h.backoff):
			}
		}

		obj, retry, err := h.attempt(ctx, imageURL)
		if err == nil {
			return obj, nil
		}
		lastErr = err
		if !retry {
			break
		}
	}

	return nil, fmt.Errorf("failed to fetch image after %d attempts: %w", maxAttempts, lastErr)
}

func (h *HTTPImageFetcher) attempt(ctx context.Context, imageURL string) (*FetchedObject, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("Accept", "image/jpeg, image/png, image/webp, image/gif")
	req.Header.Set("User-Agent", "Dimension-Detective/1.0")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil && !errors.Is(err, ErrBlockedAddress), err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("server error: status code %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, false, fmt.Errorf("client error: status code %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, false, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	if h.maxBytes > 0 && resp.ContentLength > h.maxBytes {
		return nil, false, ErrTooLarge
	}

	data, err := readLimited(resp.Body, h.maxBytes)
	if err != nil {
		return nil, false, err
	}
	return &FetchedObject{Data: data, ContentType: resp.Header.Get("Content-Type")}, false, nil
}

// readLimited reads r fully, failing with ErrTooLarge past limit bytes
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, ErrTooLarge
	}
	return data, nil
}
