package api

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
)

const (
	headerContentType   = "Content-Type"
	headerAuthorization = "Authorization"

	contentTypeJSON = "application/json"
)

// Request describes one logical API call. The client rebuilds headers and body
// from it on every attempt, so a retry after refresh carries the new token.
type Request struct {
	Method  string
	Path    string
	Version string
	Headers map[string]string
	Query   url.Values
	Data    []byte
	JSON    any
}

func (c *Client) buildURL(req *Request) string {
	version := req.Version
	if version == "" {
		version = c.version
	}

	u := c.url + "/" + version + "/" + strings.TrimPrefix(req.Path, "/")

	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}

	return u
}

func buildHeaders(req *Request, accessToken string) http.Header {
	headers := make(http.Header, len(req.Headers)+2)

	for k, v := range req.Headers {
		headers.Set(k, v)
	}

	if headers.Get(headerContentType) == "" {
		headers.Set(headerContentType, contentTypeJSON)
	}

	if headers.Get(headerAuthorization) == "" {
		headers.Set(headerAuthorization, "Bearer "+accessToken)
	}

	return headers
}

func buildBody(req *Request, headers http.Header) (io.Reader, error) {
	if req.JSON != nil {
		payload := req.JSON

		if headers.Get(headerContentType) == contentTypeJSON {
			payload = nullEmptyStrings(payload)
		}

		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}

		return bytes.NewReader(data), nil
	}

	if req.Data != nil {
		return bytes.NewReader(req.Data), nil
	}

	return nil, nil
}

// nullEmptyStrings sends "" fields as null; the backend treats them as unset.
func nullEmptyStrings(payload any) any {
	fields, ok := payload.(map[string]any)
	if !ok {
		return payload
	}

	out := make(map[string]any, len(fields))

	for k, v := range fields {
		if s, isString := v.(string); isString && s == "" {
			out[k] = nil
		} else {
			out[k] = v
		}
	}

	return out
}

// decodeBody returns structured data when the body is JSON and the raw text
// otherwise. It never fails.
func decodeBody(raw []byte) any {
	if len(bytes.TrimSpace(raw)) == 0 {
		return string(raw)
	}

	var data any

	err := json.Unmarshal(raw, &data)
	if err != nil {
		return string(raw)
	}

	return data
}

// decodeInto converts a decoded payload into a typed value.
func decodeInto(payload any, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, out)
}
