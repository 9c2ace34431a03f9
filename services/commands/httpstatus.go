package commands

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
)

// HTTPStatus describes HTTP status codes, e.g. "!http 418"
type HTTPStatus struct{}

func NewHTTPStatus() *HTTPStatus {
	return &HTTPStatus{}
}

func (h *HTTPStatus) Name() string        { return "http" }
func (h *HTTPStatus) Usage() string       { return "http <code>" }
func (h *HTTPStatus) Description() string { return "describe an HTTP status code" }

func (h *HTTPStatus) Run(ctx context.Context, args string) (string, error) {
	code, err := strconv.Atoi(args)
	if err != nil || code < 100 || code > 599 {
		return "", ErrUsage
	}

	text := http.StatusText(code)
	if text == "" {
		return fmt.Sprintf("%d is not a known status code (%s)", code, statusClass(code)), nil
	}
	return fmt.Sprintf("%d %s (%s)", code, text, statusClass(code)), nil
}

func statusClass(code int) string {
	switch code / 100 {
	case 1:
		return "informational"
	case 2:
		return "success"
	case 3:
		return "redirection"
	case 4:
		return "client error"
	default:
		return "server error"
	}
}
