package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"archivision/internal/domain"
	imageprovider "archivision/internal/providers/image"
)

const (
	providerName        = "replicate"
	defaultBaseURL      = "https://api.replicate.com/v1"
	defaultModel        = "davisbrown/designer-architecture"
	defaultPollInterval = time.Second
	defaultTimeout      = 180 * time.Second
	requestTimeout      = 60 * time.Second
	// syncWait stays below requestTimeout so a slow prediction falls through
	// to polling instead of failing the create call.
	syncWait = 50 * time.Second
)

// Options configures the Replicate predictions client.
type Options struct {
	APIToken string
	BaseURL  string
	// Model is "owner/name" or "owner/name:version".
	Model        string
	PollInterval time.Duration
	// Timeout bounds one GenerateImages call including polling.
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

// Client runs one prediction per GenerateImages call and waits for it to
// reach a terminal status. It never retries.
type Client struct {
	token        string
	baseURL      string
	owner        string
	name         string
	version      string
	pollInterval time.Duration
	timeout      time.Duration
	httpClient   *http.Client
	logger       zerolog.Logger
}

type predictionInput struct {
	Prompt        string  `json:"prompt"`
	NumOutputs    int     `json:"num_outputs"`
	AspectRatio   string  `json:"aspect_ratio,omitempty"`
	GuidanceScale float64 `json:"guidance_scale,omitempty"`
	OutputQuality int     `json:"output_quality,omitempty"`
}

type predictionRequest struct {
	Version string          `json:"version,omitempty"`
	Input   predictionInput `json:"input"`
}

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  json.RawMessage `json:"error"`
	URLs   struct {
		Get string `json:"get"`
	} `json:"urls"`
}

type errorResponse struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// NewClient validates the credentials and model reference.
func NewClient(opts Options) (*Client, error) {
	token := strings.TrimSpace(opts.APIToken)
	if token == "" {
		return nil, domain.NewFailure(domain.KindConfiguration, providerName, "missing_api_token", errors.New("replicate api token is required"))
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}
	owner, name, version, err := parseModelRef(model)
	if err != nil {
		return nil, domain.NewFailure(domain.KindConfiguration, providerName, "invalid_model", err)
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	logger := zerolog.New(io.Discard)
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Client{
		token:        token,
		baseURL:      baseURL,
		owner:        owner,
		name:         name,
		version:      version,
		pollInterval: poll,
		timeout:      timeout,
		httpClient:   httpClient,
		logger:       logger,
	}, nil
}

// Model returns the model reference, including the version pin if any.
func (c *Client) Model() string {
	ref := c.owner + "/" + c.name
	if c.version != "" {
		ref += ":" + c.version
	}
	return ref
}

// GenerateImages creates a prediction and returns its output locations in
// provider order. The number of locations may differ from req.Count.
func (c *Client) GenerateImages(ctx context.Context, req domain.GenerationRequest) ([]string, error) {
	if err := req.Validate(); err != nil {
		return nil, domain.NewFailure(domain.KindImageService, providerName, "invalid_input", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload := predictionRequest{
		Input: predictionInput{
			Prompt:        req.Prompt,
			NumOutputs:    req.Count,
			AspectRatio:   string(req.AspectRatio),
			GuidanceScale: req.GuidanceScale,
			OutputQuality: req.Quality,
		},
	}
	endpoint := c.baseURL + "/models/" + c.owner + "/" + c.name + "/predictions"
	if c.version != "" {
		endpoint = c.baseURL + "/predictions"
		payload.Version = c.version
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, domain.NewFailure(domain.KindImageService, providerName, "encode_request", err)
	}

	start := time.Now()
	pred, err := c.do(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, err
	}
	pred, err = c.wait(ctx, pred)
	if err != nil {
		return nil, err
	}
	urls, err := parseOutput(pred.Output)
	if err != nil {
		return nil, domain.NewFailure(domain.KindImageService, providerName, "decode_output", err)
	}
	if len(urls) == 0 {
		return nil, domain.Failuref(domain.KindImageService, providerName, "empty_output", "prediction %s returned no output", pred.ID)
	}
	c.logger.Debug().
		Str("model", c.Model()).
		Str("prediction_id", pred.ID).
		Int("requested", req.Count).
		Int("returned", len(urls)).
		Dur("elapsed", time.Since(start)).
		Msg("replicate: prediction succeeded")
	return urls, nil
}

var _ imageprovider.Generator = (*Client)(nil)

func (c *Client) wait(ctx context.Context, pred *prediction) (*prediction, error) {
	for {
		switch pred.Status {
		case "succeeded":
			return pred, nil
		case "failed", "canceled":
			return nil, domain.Failuref(domain.KindImageService, providerName, "prediction_"+pred.Status, "prediction %s %s: %s", pred.ID, pred.Status, errorText(pred.Error))
		case "starting", "processing", "":
		default:
			return nil, domain.Failuref(domain.KindImageService, providerName, "unknown_status", "prediction %s has unknown status %q", pred.ID, pred.Status)
		}
		if pred.ID == "" {
			return nil, domain.Failuref(domain.KindImageService, providerName, "missing_id", "prediction has no id")
		}
		select {
		case <-ctx.Done():
			reason := "canceled"
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				reason = "timeout"
			}
			return nil, domain.NewFailure(domain.KindImageService, providerName, reason, ctx.Err())
		case <-time.After(c.pollInterval):
		}
		next, err := c.do(ctx, http.MethodGet, c.baseURL+"/predictions/"+pred.ID, nil)
		if err != nil {
			return nil, err
		}
		pred = next
	}
}

func preferWait() string {
	return fmt.Sprintf("wait=%d", int(syncWait/time.Second))
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) (*prediction, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, domain.NewFailure(domain.KindImageService, providerName, "build_request", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Prefer", preferWait())
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		reason := "http_request"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}
		return nil, domain.NewFailure(domain.KindImageService, providerName, reason, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewFailure(domain.KindImageService, providerName, "read_response", err)
	}
	if resp.StatusCode >= 300 {
		reason := fmt.Sprintf("http_%d", resp.StatusCode)
		var detail errorResponse
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Detail != "" {
			return nil, domain.Failuref(domain.KindImageService, providerName, reason, "%s", detail.Detail)
		}
		return nil, domain.Failuref(domain.KindImageService, providerName, reason, "status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var pred prediction
	if err := json.Unmarshal(raw, &pred); err != nil {
		return nil, domain.NewFailure(domain.KindImageService, providerName, "decode_response", err)
	}
	if msg := errorText(pred.Error); msg != "" && pred.Status != "failed" && pred.Status != "canceled" {
		return nil, domain.Failuref(domain.KindImageService, providerName, "provider_error", "%s", msg)
	}
	return &pred, nil
}

func parseModelRef(ref string) (owner, name, version string, err error) {
	path := ref
	if i := strings.IndexByte(ref, ':'); i >= 0 {
		path, version = ref[:i], strings.TrimSpace(ref[i+1:])
		if version == "" {
			return "", "", "", fmt.Errorf("model reference %q has an empty version", ref)
		}
	}
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", fmt.Errorf("model reference %q must be owner/name[:version]", ref)
	}
	return parts[0], parts[1], version, nil
}

func parseOutput(raw json.RawMessage) ([]string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(trimmed, &list); err == nil {
		// Blank entries are kept so later positions do not shift.
		for i := range list {
			list[i] = strings.TrimSpace(list[i])
		}
		return list, nil
	}
	var single string
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return nil, fmt.Errorf("output is neither a url nor a list of urls: %w", err)
	}
	if single = strings.TrimSpace(single); single == "" {
		return nil, nil
	}
	return []string{single}, nil
}

func errorText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return string(trimmed)
}
