// Package outbound performs HTTP requests on behalf of events and records
// them as exchanges.
package outbound

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"fdp-index/internal/models"
)

// MaxBodySize caps how much of a response body is kept on an exchange
const MaxBodySize = 5 << 20

type Request struct {
	Method  string
	URL     string
	Header  http.Header
	Body    []byte
	Timeout time.Duration
}

// Client executes requests and records the outcome on an exchange. Transport
// failures end up in the exchange state and are not returned.
type Client struct {
	HTTP *http.Client
	Now  func() time.Time
}

func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		HTTP: httpClient,
		Now:  func() time.Time { return time.Now().UTC() },
	}
}

// Do sends req and fills ex. The returned response has its body already
// consumed into the exchange; it is nil when no response arrived.
func (c *Client) Do(ctx context.Context, req Request, ex *models.Exchange) *http.Response {
	ex.Request = models.ExchangeRequest{
		Method:    req.Method,
		URL:       req.URL,
		Headers:   req.Header.Clone(),
		Body:      string(req.Body),
		Timestamp: c.Now(),
	}

	target, err := url.Parse(req.URL)
	if err == nil && (target.Scheme != "http" && target.Scheme != "https" || target.Host == "") {
		err = fmt.Errorf("unsupported URL %q", req.URL)
	}
	if err != nil {
		ex.Fail(models.ExchangeFailed, "Invalid URI: "+err.Error())
		return nil
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target.String(), bytes.NewReader(req.Body))
	if err != nil {
		ex.Fail(models.ExchangeFailed, "Invalid URI: "+err.Error())
		return nil
	}
	for k, v := range req.Header {
		httpReq.Header[k] = v
	}

	ex.State = models.ExchangeRequested
	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			ex.Fail(models.ExchangeTimeout, "Timeout")
		} else {
			ex.Fail(models.ExchangeFailed, "IO error: "+err.Error())
		}
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize))
	if err != nil {
		if isTimeout(err) {
			ex.Fail(models.ExchangeTimeout, "Timeout")
		} else {
			ex.Fail(models.ExchangeFailed, "IO error: "+err.Error())
		}
		return nil
	}

	received := c.Now()
	ex.Response = models.ExchangeResponse{
		Code:      resp.StatusCode,
		Headers:   resp.Header.Clone(),
		Body:      string(body),
		Timestamp: &received,
	}
	ex.State = models.ExchangeRetrieved
	return resp
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
