package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrConfigRequired  = sterrors.New("ipcflow: configuration is required")
	ErrLoggerRequired  = sterrors.New("ipcflow: logger is required")
	ErrTopicRequired   = sterrors.New("ipcflow: topic is required")
	ErrHandlerRequired = sterrors.New("ipcflow: handler function is required")

	ErrInvalidSocketFile = sterrors.New("ipcflow: invalid socket file")
	ErrDecode            = sterrors.New("ipcflow: decode failed")
	ErrHandler           = sterrors.New("ipcflow: message handler failed")
	ErrClosed            = sterrors.New("ipcflow: closed")
	ErrRetriesExhausted  = sterrors.New("ipcflow: connect retries exhausted")

	ErrSend           = sterrors.New("ipcflow: send failed")
	ErrSendAfterClose = sterrors.New("ipcflow: send after close")
	ErrNoServer       = sterrors.New("ipcflow: no server connection")
	ErrBadClient      = sterrors.New("ipcflow: unknown client id")
	ErrEncode         = sterrors.New("ipcflow: encode failed")
)

// ConfigValidationError wraps the joined validation failures of a config value.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "ipcflow: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}

// ValidationError reports an unusable construction option such as a socket
// file that is empty or looks like a TCP port.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ipcflow: invalid value for %q (%s): %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidSocketFile }

// DecodeError is produced when an inbound frame cannot be turned into a
// message wrapper. Raw holds the offending frame.
type DecodeError struct {
	Reason   string
	Raw      []byte
	ClientID string
	Err      error
}

func (e *DecodeError) Error() string {
	msg := "ipcflow: failed to decode: " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// HandlerError wraps a failure (returned error or panic) raised by an
// observer while a decoded message was being dispatched.
type HandlerError struct {
	Event    string
	ClientID string
	Err      error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("ipcflow: handler for %q failed: %v", e.Event, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

func (e *HandlerError) Is(target error) bool { return target == ErrHandler }

// SendError is the common shape of every error that prevents an outbound
// message from being written.
type SendError struct {
	Reason  string
	Topic   string
	Message any
}

func (e *SendError) Error() string {
	return fmt.Sprintf("ipcflow: cannot send %q: %s", e.Topic, e.Reason)
}

func (e *SendError) Is(target error) bool { return target == ErrSend }

// SendAfterCloseError is reported when Send or Broadcast runs after Close.
type SendAfterCloseError struct {
	SendError
}

func NewSendAfterCloseError(topic string, message any) *SendAfterCloseError {
	return &SendAfterCloseError{SendError{Reason: "already closed", Topic: topic, Message: message}}
}

func (e *SendAfterCloseError) Is(target error) bool {
	return target == ErrSendAfterClose || target == ErrSend
}

// NoServerError is reported when a client sends without an active connection.
type NoServerError struct {
	SendError
}

func NewNoServerError(topic string, message any) *NoServerError {
	return &NoServerError{SendError{Reason: "no active server connection", Topic: topic, Message: message}}
}

func (e *NoServerError) Is(target error) bool {
	return target == ErrNoServer || target == ErrSend
}

// BadClientError is reported when a server sends to an unregistered client.
type BadClientError struct {
	SendError
	ClientID string
}

func NewBadClientError(topic string, message any, clientID string) *BadClientError {
	return &BadClientError{
		SendError: SendError{Reason: "invalid client id " + clientID, Topic: topic, Message: message},
		ClientID:  clientID,
	}
}

func (e *BadClientError) Is(target error) bool {
	return target == ErrBadClient || target == ErrSend
}

// EncodeError is reported when the transcoder cannot serialize a message.
type EncodeError struct {
	SendError
	Err error
}

func NewEncodeError(topic string, message any, err error) *EncodeError {
	reason := "failed to encode"
	if err != nil {
		reason += ", caused by: " + err.Error()
	}
	return &EncodeError{
		SendError: SendError{Reason: reason, Topic: topic, Message: message},
		Err:       err,
	}
}

func (e *EncodeError) Unwrap() error { return e.Err }

func (e *EncodeError) Is(target error) bool {
	return target == ErrEncode || target == ErrSend
}
