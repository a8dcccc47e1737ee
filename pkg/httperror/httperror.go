package httperror

import (
	"fmt"
	"net/http"
)

// HTTPError is an error with the status code the handler wants to answer with
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e HTTPError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

// BadRequest returns a 400 error
func BadRequest(format string, args ...any) HTTPError {
	return HTTPError{StatusCode: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

