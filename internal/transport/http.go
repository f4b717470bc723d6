package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const apiVersion = "2023-11-01"

// HTTPTransport is the default Transport implementation, talking to a
// configuration-service endpoint that speaks the same REST shape as Azure
// App Configuration's `/kv`, `/snapshots`, and `/snapshots/{name}/kv`
// endpoints. Retry and per-request timeout are the responsibility of the
// injected http.Client.
type HTTPTransport struct {
	endpoint string
	client   *http.Client
	// Headers is invoked per request to obtain additional headers (e.g. the
	// Correlation-Context header); may be nil.
	Headers func() http.Header
}

// NewHTTPTransport constructs a transport against the given endpoint
// (scheme+host, no path). httpClient may be nil to use http.DefaultClient.
func NewHTTPTransport(endpoint string, httpClient *http.Client) *HTTPTransport {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPTransport{endpoint: strings.TrimRight(endpoint, "/"), client: httpClient}
}

func (t *HTTPTransport) Endpoint() string { return t.endpoint }

func (t *HTTPTransport) newRequest(ctx context.Context, method, path string, query url.Values) (*http.Request, error) {
	u := t.endpoint + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, err
	}

	if t.Headers != nil {
		for k, vals := range t.Headers() {
			for _, v := range vals {
				req.Header.Add(k, v)
			}
		}
	}
	req.Header.Set("Accept", "application/vnd.microsoft.appconfig.kvset+json")

	return req, nil
}

func (t *HTTPTransport) do(req *http.Request) (*http.Response, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (t *HTTPTransport) List(ctx context.Context, filter Filter) ([]Page, error) {
	query := url.Values{}
	query.Set("key", orStar(filter.KeyFilter))
	query.Set("label", filter.LabelFilter)
	query.Set("api-version", apiVersion)
	for _, tf := range filter.TagFilters {
		query.Add("tags", tf)
	}

	req, err := t.newRequest(ctx, http.MethodGet, "/kv", query)
	if err != nil {
		return nil, err
	}

	if len(filter.PriorPageETags) > 0 {
		req.Header.Set("If-None-Match", strings.Join(filter.PriorPageETags, ", "))
	}

	resp, err := t.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return []Page{{ETag: firstETag(filter.PriorPageETags), Changed: false}}, nil
	case resp.StatusCode == http.StatusOK:
		var body struct {
			Items []wireSetting `json:"items"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, fmt.Errorf("transport: decode list response: %w", err)
		}

		settings := make([]Setting, 0, len(body.Items))
		for _, item := range body.Items {
			settings = append(settings, item.toSetting())
		}

		return []Page{{
			Settings: settings,
			ETag:     resp.Header.Get("ETag"),
			Changed:  true,
		}}, nil
	default:
		return nil, t.statusErr(resp)
	}
}

func (t *HTTPTransport) Get(ctx context.Context, key, label string) (*Setting, bool, error) {
	query := url.Values{"label": {label}, "api-version": {apiVersion}}
	req, err := t.newRequest(ctx, http.MethodGet, "/kv/"+url.PathEscape(key), query)
	if err != nil {
		return nil, false, err
	}

	resp, err := t.do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var ws wireSetting
		if err := json.NewDecoder(resp.Body).Decode(&ws); err != nil {
			return nil, false, fmt.Errorf("transport: decode get response: %w", err)
		}
		s := ws.toSetting()
		return &s, true, nil
	case http.StatusNotFound:
		return nil, false, nil
	default:
		return nil, false, t.statusErr(resp)
	}
}

func (t *HTTPTransport) GetConditional(ctx context.Context, key, label, ifETagChanged string) (PointResult, error) {
	query := url.Values{"label": {label}, "api-version": {apiVersion}}
	req, err := t.newRequest(ctx, http.MethodGet, "/kv/"+url.PathEscape(key), query)
	if err != nil {
		return PointResult{}, err
	}

	if ifETagChanged != "" {
		req.Header.Set("If-None-Match", ifETagChanged)
	}

	resp, err := t.do(req)
	if err != nil {
		return PointResult{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var ws wireSetting
		if err := json.NewDecoder(resp.Body).Decode(&ws); err != nil {
			return PointResult{}, fmt.Errorf("transport: decode conditional get response: %w", err)
		}
		s := ws.toSetting()
		return PointResult{Setting: &s, Status: http.StatusOK}, nil
	case http.StatusNotModified:
		return PointResult{Status: http.StatusNotModified}, nil
	case http.StatusNotFound:
		return PointResult{Status: http.StatusNotFound}, nil
	default:
		return PointResult{}, t.statusErr(resp)
	}
}

func (t *HTTPTransport) GetSnapshot(ctx context.Context, name string) (*SnapshotMetadata, error) {
	query := url.Values{"api-version": {apiVersion}}
	req, err := t.newRequest(ctx, http.MethodGet, "/snapshots/"+url.PathEscape(name), query)
	if err != nil {
		return nil, err
	}

	resp, err := t.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, t.statusErr(resp)
	}

	var meta struct {
		Name        string `json:"name"`
		Composition string `json:"composition_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("transport: decode snapshot metadata: %w", err)
	}

	return &SnapshotMetadata{Name: meta.Name, Composition: strings.ToLower(meta.Composition)}, nil
}

func (t *HTTPTransport) ListSnapshotSettings(ctx context.Context, name string) ([]Setting, error) {
	query := url.Values{"api-version": {apiVersion}}
	req, err := t.newRequest(ctx, http.MethodGet, "/snapshots/"+url.PathEscape(name)+"/kv", query)
	if err != nil {
		return nil, err
	}

	resp, err := t.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, t.statusErr(resp)
	}

	var body struct {
		Items []wireSetting `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("transport: decode snapshot contents: %w", err)
	}

	settings := make([]Setting, 0, len(body.Items))
	for _, item := range body.Items {
		settings = append(settings, item.toSetting())
	}

	return settings, nil
}

func (t *HTTPTransport) statusErr(resp *http.Response) error {
	return &HTTPError{
		StatusCode: resp.StatusCode,
		Endpoint:   t.endpoint,
		Err:        fmt.Errorf("transport: %s returned %d", resp.Request.URL, resp.StatusCode),
	}
}

type wireSetting struct {
	Key          string            `json:"key"`
	Label        string            `json:"label"`
	Value        *string           `json:"value"`
	ContentType  string            `json:"content_type"`
	ETag         string            `json:"etag"`
	Tags         map[string]string `json:"tags"`
	LastModified time.Time         `json:"last_modified"`
}

func (w wireSetting) toSetting() Setting {
	return Setting{
		Key:          w.Key,
		Label:        w.Label,
		Value:        w.Value,
		ContentType:  w.ContentType,
		ETag:         w.ETag,
		Tags:         w.Tags,
		LastModified: w.LastModified,
	}
}

func orStar(s string) string {
	if s == "" {
		return "*"
	}
	return s
}

func firstETag(etags []string) string {
	if len(etags) == 0 {
		return ""
	}
	return etags[0]
}
