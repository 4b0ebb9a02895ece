package billing

import (
	"errors"
	"fmt"
)

// StatusCode classifies the outcome of a billing engine operation. Codes are
// carried both on per-line results and on raised business errors.
type StatusCode int

const (
	StatusValid StatusCode = iota + 1
	StatusInvalidRequest
	StatusInvalidFinancialStatus
	StatusInvalidTransactionID
	StatusEmptyVisitServiceID
	StatusTransactionIDNotExist
	StatusCantEditProductOrQuantity
	StatusUnexpectedError
)

func (c StatusCode) String() string {
	switch c {
	case StatusValid:
		return "Valid"
	case StatusInvalidRequest:
		return "InvalidRequest"
	case StatusInvalidFinancialStatus:
		return "InvalidFinancialStatus"
	case StatusInvalidTransactionID:
		return "InvalidTransactionID"
	case StatusEmptyVisitServiceID:
		return "EmptyVisitServiceID"
	case StatusTransactionIDNotExist:
		return "TransactionIDNotExist"
	case StatusCantEditProductOrQuantity:
		return "CantEditProductOrQuantity"
	case StatusUnexpectedError:
		return "UnexpectedError"
	default:
		return fmt.Sprintf("StatusCode(%d)", int(c))
	}
}

// Canned result messages.
const (
	msgInvalidRequest            = "invalid request"
	msgInvalidFinancialStatus    = "invalid financial status"
	msgInvalidTransactionID      = "invalid transaction id"
	msgCantEditProductOrQuantity = "cannot edit product or quantity of a package transaction"
	msgRemainingTransaction      = "transaction %d of visit %d"
)

// EngineError is a recognized business failure. It propagates unchanged
// through every layer and aborts the enclosing unit of work.
type EngineError struct {
	Code    StatusCode
	Message string
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newEngineError(code StatusCode, format string, args ...interface{}) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func errTransactionNotExist(id int64) *EngineError {
	return newEngineError(StatusTransactionIDNotExist, "transaction of id %d does not exist", id)
}

// AsEngineError extracts an EngineError from err, if any.
func AsEngineError(err error) (*EngineError, bool) {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

// wrapUnexpected converts any non-business failure into the generic engine
// error raised at operation boundaries. Business errors pass through
// untouched.
func wrapUnexpected(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := AsEngineError(err); ok {
		return err
	}
	return &EngineError{Code: StatusUnexpectedError, Message: err.Error()}
}
