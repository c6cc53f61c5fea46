package protocol

import (
	"errors"
	"fmt"
)

// Code identifies the kind of a protocol error.
type Code string

const (
	CodeInvalidMsg                    Code = "InvalidMsg"
	CodeMRNChanged                    Code = "MRNChanged"
	CodeShouldBeImplementedBySubclass Code = "ShouldBeImplementedBySubclass"
	CodeUnknownMsg                    Code = "UnknownMsg"
	CodeNoSender                      Code = "NoSender"
	CodeInvalidSignature              Code = "InvalidSignature"
	CodeInvalidMessage                Code = "InvalidMessage"
)

var codeText = map[Code]string{
	CodeInvalidMsg:                    "Protocol message content is invalid",
	CodeMRNChanged:                    "MRN changed",
	CodeShouldBeImplementedBySubclass: "Should be implemented by subclass",
	CodeUnknownMsg:                    "Protocol message is not known",
	CodeNoSender:                      "Sender of message could not be determined",
	CodeInvalidSignature:              "Message signature could not be validated",
	CodeInvalidMessage:                "Message is not valid",
}

// Text returns the fixed description of the code.
func (c Code) Text() string {
	if text, ok := codeText[c]; ok {
		return text
	}
	return string(c)
}

// Error is a protocol error of a known kind.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Sentinels usable with errors.Is; matching is by code only.
var (
	ErrInvalidMsg                    = &Error{Code: CodeInvalidMsg, Message: CodeInvalidMsg.Text()}
	ErrMRNChanged                    = &Error{Code: CodeMRNChanged, Message: CodeMRNChanged.Text()}
	ErrShouldBeImplementedBySubclass = &Error{Code: CodeShouldBeImplementedBySubclass, Message: CodeShouldBeImplementedBySubclass.Text()}
	ErrUnknownMsg                    = &Error{Code: CodeUnknownMsg, Message: CodeUnknownMsg.Text()}
	ErrNoSender                      = &Error{Code: CodeNoSender, Message: CodeNoSender.Text()}
	ErrInvalidSignature              = &Error{Code: CodeInvalidSignature, Message: CodeInvalidSignature.Text()}
	ErrInvalidMessage                = &Error{Code: CodeInvalidMessage, Message: CodeInvalidMessage.Text()}
)

// NewError creates an error of the given kind. An empty message falls back to the code text.
func NewError(code Code, message string) *Error {
	if message == "" {
		message = code.Text()
	}
	return &Error{Code: code, Message: message}
}

// Errorf creates an error of the given kind with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// Wrap re-classifies err as the given kind, keeping err for diagnostics.
func Wrap(code Code, err error) *Error {
	if err == nil {
		return NewError(code, "")
	}
	return &Error{Code: code, Message: err.Error(), Err: err}
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a protocol error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the code of the outermost protocol error in err's chain, or "" if there is none.
func CodeOf(err error) Code {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Code
	}
	return ""
}
