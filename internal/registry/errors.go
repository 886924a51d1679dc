package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrNotFound     = errors.New("registry: not found")
	ErrUnauthorized = errors.New("registry: unauthorized")
	ErrConflict     = errors.New("registry: conflict")

	ErrResponseTooLarge = errors.New("registry: response too large")
)

// APIError is a non-2xx registry response.
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	// ErrorCode and Message come from the registry's error document when the
	// body carries one.
	ErrorCode int
	Message   string
	Body      []byte
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = strings.TrimSpace(string(e.Body))
	}
	if e.ErrorCode != 0 {
		return fmt.Sprintf("http %s %s: status=%d code=%d: %s", e.Method, e.URL, e.StatusCode, e.ErrorCode, msg)
	}
	return fmt.Sprintf("http %s %s: status=%d: %s", e.Method, e.URL, e.StatusCode, msg)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case ErrConflict:
		return e.StatusCode == http.StatusConflict
	}
	return false
}

// IsAPIError reports whether err carries a registry response.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

type errorDocument struct {
	ErrorCode int    `json:"errorCode"`
	ErrorMsg  string `json:"errorMsg"`
	UsrMsg    string `json:"usrMsg"`
	DevMsg    string `json:"devMsg"`
	Message   string `json:"message"`
}

const maxErrorBody = 4 << 10

func newAPIError(method, url string, status int, body []byte) *APIError {
	apiErr := &APIError{Method: method, URL: url, StatusCode: status}
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	apiErr.Body = body

	var doc errorDocument
	if err := json.Unmarshal(body, &doc); err == nil {
		apiErr.ErrorCode = doc.ErrorCode
		parts := make([]string, 0, 2)
		for _, s := range []string{doc.ErrorMsg, doc.Message} {
			if s = strings.TrimSpace(s); s != "" {
				parts = append(parts, s)
				break
			}
		}
		if s := strings.TrimSpace(doc.UsrMsg); s != "" {
			parts = append(parts, s)
		}
		apiErr.Message = strings.Join(parts, ": ")
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
