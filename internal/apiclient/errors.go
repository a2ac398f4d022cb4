package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
)

// Error is a non-2xx API response.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

func readError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload struct {
		Error string `json:"error"`
	}
	msg := ""
	if json.Unmarshal(data, &payload) == nil {
		msg = payload.Error
	}
	if msg == "" {
		msg = strings.TrimSpace(string(data))
	}
	return &Error{Status: resp.StatusCode, Message: msg}
}

// UserMessage turns err into text fit to show a person. Validation and
// conflict messages from the API are passed through since they name the
// field at fault.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return "Could not reach the server. Check your connection and try again."
	}
	switch apiErr.Status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		if apiErr.Message != "" {
			return capitalize(apiErr.Message) + "."
		}
		return "Some of the information entered is invalid."
	case http.StatusUnauthorized:
		return "Your session has expired. Please sign in again."
	case http.StatusForbidden:
		return "You do not have permission to do that."
	case http.StatusNotFound:
		return "That record no longer exists."
	case http.StatusConflict:
		if apiErr.Message != "" {
			return capitalize(apiErr.Message) + "."
		}
		return "That conflicts with an existing record."
	case http.StatusRequestEntityTooLarge:
		return "The file is too large. Uploads are limited to 10 MB."
	case http.StatusTooManyRequests:
		return "Too many attempts. Wait a minute and try again."
	default:
		if apiErr.Status >= 500 {
			return "Something went wrong on our side. Please try again."
		}
		return "The request could not be completed."
	}
}

func capitalize(s string) string {
	s = strings.TrimRight(strings.TrimSpace(s), ".")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func mimeParams(header string) (string, map[string]string, error) {
	return mime.ParseMediaType(header)
}
