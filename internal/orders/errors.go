package orders

import (
	"errors"
	"fmt"
)

// ErrorCode enumerates the caller-fixable failures of placement and status updates.
type ErrorCode string

const (
	CodeInvalidRequest    ErrorCode = "INVALID_REQUEST"
	CodeInvalidProducts   ErrorCode = "INVALID_PRODUCTS"
	CodeMixedCompanies    ErrorCode = "MIXED_COMPANIES"
	CodeOutOfStock        ErrorCode = "OUT_OF_STOCK"
	CodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
)

var (
	// ErrNotFound indicates the order does not exist.
	ErrNotFound = errors.New("orders: not found")
	// ErrForbidden indicates the caller may not act on the order.
	ErrForbidden = errors.New("orders: forbidden")
	// ErrNoCompany indicates a company user could not be mapped to a company.
	ErrNoCompany = errors.New("orders: no company for user")
)

// Error is a validation failure with a machine readable code.
type Error struct {
	Op          string
	Code        ErrorCode
	ProductName string
	Message     string
	Err         error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = e.Wire()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Wire renders the code the way clients receive it, e.g. OUT_OF_STOCK:Widget.
func (e *Error) Wire() string {
	if e == nil {
		return ""
	}
	if e.Code == CodeOutOfStock && e.ProductName != "" {
		return string(e.Code) + ":" + e.ProductName
	}
	return string(e.Code)
}

func newError(op string, code ErrorCode, message string) *Error {
	return &Error{Op: op, Code: code, Message: message}
}

func outOfStock(op, productName string) *Error {
	return &Error{Op: op, Code: CodeOutOfStock, ProductName: productName}
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	var oe *Error
	return errors.As(err, &oe) && oe.Code == code
}
