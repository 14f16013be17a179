package voice

import "fmt"

// Error is a backend-reported error.
type Error struct {
	Type    string `json:"type,omitzero"`
	Code    string `json:"code,omitzero"`
	Message string `json:"message,omitzero"`

	// HTTPStatus is set for connection-time failures.
	HTTPStatus int `json:"-"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("voice: %s: %s", e.Code, e.Message)
	}
	if e.Type != "" {
		return fmt.Sprintf("voice: %s: %s", e.Type, e.Message)
	}
	return fmt.Sprintf("voice: %s", e.Message)
}
