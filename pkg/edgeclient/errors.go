package edgeclient

import (
	"errors"
	"fmt"
	"net/http"
)

type APIError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("edge api error (%d): %s", e.Status, e.Message)
}

// IsNotFound reports whether err is an edge 404. Deletes treat it as success
// so teardown retries stay idempotent.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}
