package proxy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"
)

const (
	contentTypeForm = "application/x-www-form-urlencoded"
	contentTypeJSON = "application/json"
)

// encodeBody normalizes the inbound body for the upstream. GET and HEAD never
// carry one; forms and JSON are parsed and re-serialized so a malformed body
// is caught here rather than by the backend.
func encodeBody(method, contentType string, body []byte) ([]byte, string, error) {
	if method == http.MethodGet || method == http.MethodHead || len(body) == 0 {
		return nil, "", nil
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return body, contentType, nil
	}

	switch mediaType {
	case contentTypeForm:
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, "", fmt.Errorf("invalid form body: %w", err)
		}
		return []byte(values.Encode()), contentTypeForm, nil

	case contentTypeJSON:
		var payload interface{}
		decoder := json.NewDecoder(bytes.NewReader(body))
		decoder.UseNumber()
		if err := decoder.Decode(&payload); err != nil {
			return nil, "", fmt.Errorf("invalid json body: %w", err)
		}
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, "", err
		}
		return encoded, contentTypeJSON, nil
	}

	return body, contentType, nil
}
