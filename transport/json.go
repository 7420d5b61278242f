package transport

import (
	"context"
	"encoding/json"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

// JSONCall describes a JSON request/response exchange with a provider API.
type JSONCall struct {
	Operation string
	Method    string
	URL       string
	Token     string
	Headers   map[string]string
	In        any
	Out       any
}

// DoJSON encodes In, performs the call and decodes a 2xx body into Out.
// Non-2xx responses come back as StatusError envelopes.
func (a *RESTAdapter) DoJSON(ctx context.Context, call JSONCall) (Response, error) {
	headers := map[string]string{"Accept": "application/json"}
	for key, value := range call.Headers {
		headers[key] = value
	}
	if call.Token != "" {
		headers["Authorization"] = "Bearer " + call.Token
	}

	var body []byte
	if call.In != nil {
		encoded, err := json.Marshal(call.In)
		if err != nil {
			return Response{}, transportWrapError(err, goerrors.CategoryBadInput, "transport: encode request", http.StatusBadRequest,
				map[string]any{"operation": call.Operation})
		}
		body = encoded
		headers["Content-Type"] = "application/json"
	}

	res, err := a.Do(ctx, Request{
		Method:  call.Method,
		URL:     call.URL,
		Headers: headers,
		Body:    body,
	})
	if err != nil {
		return Response{}, err
	}
	if err := StatusError(res, call.Operation); err != nil {
		return res, err
	}
	if call.Out != nil && len(res.Body) > 0 {
		if err := json.Unmarshal(res.Body, call.Out); err != nil {
			return res, transportWrapError(err, goerrors.CategoryExternal, "transport: decode response", http.StatusBadGateway,
				map[string]any{"operation": call.Operation, "status_code": res.StatusCode})
		}
	}
	return res, nil
}
