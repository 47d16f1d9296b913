package providers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
)

// bodyExtrasClient returns an HTTP client whose transport injects extra
// top-level fields into every JSON request body. Used for vendor-specific
// fields the SDK request type does not model.
func bodyExtrasClient(extras map[string]any) *http.Client {
	return &http.Client{
		Transport: &bodyExtrasTransport{extras: extras, next: http.DefaultTransport},
	}
}

type bodyExtrasTransport struct {
	extras map[string]any
	next   http.RoundTripper
}

func (t *bodyExtrasTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body == nil || req.Method != http.MethodPost {
		return t.next.RoundTrip(req)
	}
	raw, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, err
	}

	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		// Not a JSON body; pass through untouched.
		req.Body = io.NopCloser(bytes.NewReader(raw))
		return t.next.RoundTrip(req)
	}
	for k, v := range t.extras {
		if _, present := body[k]; !present {
			body[k] = v
		}
	}
	patched, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req.Body = io.NopCloser(bytes.NewReader(patched))
	req.ContentLength = int64(len(patched))
	req.Header.Del("Content-Length")
	return t.next.RoundTrip(req)
}
