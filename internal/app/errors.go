package app

import "fmt"

// DomainError is an error the HTTP layer maps straight onto the API error
// envelope: Status becomes the response code, Code and Message the body, and
// Details optional structured context such as the allowed category list.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}
