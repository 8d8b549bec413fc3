// Package qgis is the client for the remote QGIS geoprocessing worker:
// algorithm-id resolution, layer-reference input marshalling into presigned
// URLs, output-kind inference, and upload-result validation, per spec.md
// §4.8. Grounded on the teacher's MCP tool-call HTTP client shape
// (pkg/mcp), adapted from a persistent MCP session to a single-shot POST
// per invocation with cenkalti/backoff/v4 retry.
package qgis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mundiai/agent-runtime/internal/dag"
)

const callTimeout = 30 * time.Second

// Client invokes the QGIS worker's processing endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a Client against the worker's base URL
// (QGIS_PROCESSING_URL).
func NewClient(baseURL string) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: &http.Client{Timeout: callTimeout}}
}

// AlgorithmID resolves a tool name like "native_buffer" to the QGIS
// algorithm id "native:buffer" by replacing the first underscore with a colon.
func AlgorithmID(toolName string) string {
	return strings.Replace(toolName, "_", ":", 1)
}

// InferOutputKind decides whether an algorithm's declared output is vector
// or raster by counting keyword occurrences in its description — the same
// heuristic used to choose a file extension and MIME kind for the presigned
// PUT target.
func InferOutputKind(description string) (kind string, extension string) {
	lower := strings.ToLower(description)
	if strings.Count(lower, "raster") > strings.Count(lower, "vector") {
		return "raster", "tif"
	}
	return "vector", "gpkg"
}

// LayerResolver presigns a short-lived GET URL for a layer's cached object
// store file, used to marshal layer-id-shaped tool arguments into inputs
// the QGIS worker can fetch over HTTP.
type LayerResolver func(ctx context.Context, layerID string) (presignedURL string, err error)

// MarshalInputs replaces every argument whose value looks like a layer id
// with a presigned read URL (via resolve); every other scalar value passes
// through as its string form, per spec.md §4.8.
func MarshalInputs(ctx context.Context, rawArgs map[string]any, resolve LayerResolver) (inputs map[string]string, inputURLs map[string]string, err error) {
	inputs = make(map[string]string, len(rawArgs))
	inputURLs = make(map[string]string)
	for name, v := range rawArgs {
		s, ok := v.(string)
		if ok && dag.LooksLikeLayerID(s) {
			url, rerr := resolve(ctx, s)
			if rerr != nil {
				return nil, nil, fmt.Errorf("qgis: resolving layer input %s (%s): %w", name, s, rerr)
			}
			inputs[name] = s
			inputURLs[name] = url
			continue
		}
		inputs[name] = fmt.Sprintf("%v", v)
	}
	return inputs, inputURLs, nil
}

// Request is the body POSTed to the worker's processing endpoint.
type Request struct {
	AlgorithmID          string            `json:"algorithm_id"`
	QGISInputs           map[string]string `json:"qgis_inputs"`
	InputURLs            map[string]string `json:"input_urls"`
	OutputPresignedPutURLs map[string]string `json:"output_presigned_put_urls"`
}

// UploadResult describes what the worker did with one requested output.
type UploadResult struct {
	Uploaded bool   `json:"uploaded"`
	Error    string `json:"error,omitempty"`
}

// Response is the worker's processing result.
type Response struct {
	UploadResults map[string]UploadResult `json:"upload_results"`
	Error         string                  `json:"error,omitempty"`
}

// Run invokes the worker, retrying transient (network/5xx) failures with
// exponential backoff bounded by the overall 30-second call timeout.
func (c *Client) Run(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("qgis: marshaling request: %w", err)
	}

	var resp *Response
	bo := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	op := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/process", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("qgis: building request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")

		httpResp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("qgis: calling worker: %w", err)
		}
		defer httpResp.Body.Close()

		data, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return fmt.Errorf("qgis: reading worker response: %w", err)
		}

		if httpResp.StatusCode >= 500 {
			return fmt.Errorf("qgis: worker returned %d: %s", httpResp.StatusCode, string(data))
		}
		if httpResp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("qgis: worker rejected request (%d): %s", httpResp.StatusCode, string(data)))
		}

		var parsed Response
		if err := json.Unmarshal(data, &parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("qgis: parsing worker response: %w", err))
		}
		resp = &parsed
		return nil
	}

	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}
	return resp, nil
}

// ValidateUploads checks that every requested output name appears in the
// response's upload_results with uploaded=true, per spec.md §4.8's
// "validation on return" contract.
func ValidateUploads(resp *Response, wantOutputs []string) error {
	for _, name := range wantOutputs {
		result, ok := resp.UploadResults[name]
		if !ok || !result.Uploaded {
			return fmt.Errorf("qgis: output %q was not uploaded: %+v", name, resp.UploadResults)
		}
	}
	return nil
}
