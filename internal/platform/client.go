// Package platform is the HTTP client for a job-board API: it lists open
// postings and delivers applications. It classifies response codes so the
// submission layer knows which failures are worth retrying.
package platform

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/jobhunter/internal/jobfeed"
	"github.com/spigell/jobhunter/internal/submit"
)

const (
	defaultAPIURL = "https://api.jobhunter.dev"
	userAgent     = "spigell/jobhunter"

	apiPostingsPath     = "/postings"
	apiApplicationsPath = "/applications"

	contentType     = "application/json"
	contentEncoding = "gzip, deflate, br"

	// Max page size the board allows.
	perPage = "100"
)

type Client struct {
	token       string
	logger      *zap.Logger
	HTTPClient  *http.Client
	UserAgent   string
	APIURL      string
	CandidateID string
}

func New(logger *zap.Logger, token, candidateID string) *Client {
	return &Client{
		token:  token,
		APIURL: defaultAPIURL,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger:      logger,
		UserAgent:   userAgent,
		CandidateID: candidateID,
	}
}

var _ submit.Executor = (*Client)(nil)
var _ jobfeed.Feed = (*Client)(nil)

type pageResponse struct {
	Items   []map[string]any
	Found   int
	Pages   int
	Page    int
	PerPage int `json:"per_page"`
}

// Fetch lists all open postings, walking every page.
func (c *Client) Fetch(ctx context.Context) (*jobfeed.Postings, error) {
	postingsURL := fmt.Sprintf("%s%s", c.APIURL, apiPostingsPath)

	q := url.Values{}
	q.Add("status", "open")
	// Set per_page max as possible. It should be faster.
	q.Add("per_page", perPage)

	items, err := c.getItems(ctx, postingsURL, q)
	if err != nil {
		return nil, fmt.Errorf("listing postings: %w", err)
	}

	postings, err := jobfeed.DecodePostings(items)
	if err != nil {
		return nil, fmt.Errorf("decoding postings: %w", err)
	}

	fetched := time.Now().UTC()
	for _, posting := range postings.Items {
		posting.FetchedAt = fetched
	}

	return postings, nil
}

// Submit delivers one application as multipart form data. Response codes map
// to the retry policy: auth and validation failures are final, throttling
// and server errors are not.
func (c *Client) Submit(ctx context.Context, jobID, artifact string) error {
	applicationsURL := fmt.Sprintf("%s%s", c.APIURL, apiApplicationsPath)

	data := map[string]string{
		"candidate_id": c.CandidateID,
		"posting_id":   jobID,
		"resume":       artifact,
	}

	return c.postFormData(ctx, applicationsURL, data)
}

func (c *Client) getItems(ctx context.Context, rawURL string, q url.Values) ([]map[string]any, error) {
	var items []map[string]any

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}

	req = c.setHeaders(req)
	// Additional headers. For GET requests only
	req.Header.Set("Content-Type", contentType)
	req.URL.RawQuery = q.Encode()

	resp, err := c.request(req)
	if err != nil {
		return nil, err
	}

	response, err := c.parsePageResponse(resp)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("got postings page", zap.Int("pages", response.Pages), zap.Int("max items per page", response.PerPage))

	items = append(items, response.Items...)

	for response.Page < (response.Pages - 1) {
		c.logger.Debug("additional request needed", zap.String("reason", fmt.Sprintf(
			"current page (%d) < all page count (%d)", response.Page+1, response.Pages),
		))

		resp, err = c.request(addPage(req, response.Page+1))
		if err != nil {
			return nil, err
		}

		response, err = c.parsePageResponse(resp)
		if err != nil {
			return nil, err
		}

		items = append(items, response.Items...)
	}

	return items, nil
}

func (c *Client) parsePageResponse(resp *http.Response) (*pageResponse, error) {
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bad status: %s", resp.Status)
	}

	var body io.ReadCloser
	var err error
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		body, err = gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer body.Close()
	default:
		body = resp.Body
		defer body.Close()
	}

	var response *pageResponse
	if err := json.NewDecoder(body).Decode(&response); err != nil {
		return nil, err
	}

	return response, nil
}

func (c *Client) postFormData(ctx context.Context, rawURL string, data map[string]string) error {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	for key, val := range data {
		field, err := w.CreateFormField(key)
		if err != nil {
			return submit.Fatal("building request form", err)
		}

		if _, err := io.Copy(field, strings.NewReader(val)); err != nil {
			return submit.Fatal("building request form", err)
		}
	}
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, &b)
	if err != nil {
		return submit.Fatal("building request", err)
	}

	req = c.setHeaders(req)
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.request(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return submit.Retryable("sending application", err)
	}
	defer resp.Body.Close()

	return classifyStatus(resp.StatusCode, resp.Status)
}

// classifyStatus maps an application POST status code to the retry policy.
func classifyStatus(code int, status string) error {
	switch {
	case code == http.StatusCreated || code == http.StatusOK:
		return nil
	case code == http.StatusConflict:
		return submit.Fatal("application already exists", fmt.Errorf("bad status: %s", status))
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return submit.Fatal("authentication rejected", fmt.Errorf("bad status: %s", status))
	case code == http.StatusNotFound || code == http.StatusGone:
		return submit.Fatal("posting no longer accepts applications", fmt.Errorf("bad status: %s", status))
	case code >= http.StatusBadRequest && code < http.StatusInternalServerError && code != http.StatusTooManyRequests:
		return submit.Fatal("application rejected", fmt.Errorf("bad status: %s", status))
	default:
		// 429 and 5xx.
		return submit.Retryable("transient platform failure", fmt.Errorf("bad status: %s", status))
	}
}

func (c *Client) request(req *http.Request) (*http.Response, error) {
	c.logger.Debug("make request", zap.String("url", req.URL.String()))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}

	return resp, nil
}

func (c *Client) setHeaders(req *http.Request) *http.Request {
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept-Encoding", contentEncoding)

	return req
}

// addPage adds page parameter to request URL.
func addPage(req *http.Request, page int) *http.Request {
	q := req.URL.Query()
	q.Set("page", strconv.Itoa(page))
	req.URL.RawQuery = q.Encode()

	return req
}
