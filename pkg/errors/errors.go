package errors

import (
	stdErrors "errors"
	"fmt"
)

type Code string

const (
	CodePrecondition        Code = "PRECONDITION_FAILED"
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeNegotiation         Code = "NEGOTIATION_ERROR"
	CodeInitiation          Code = "INITIATION_ERROR"
	CodePayment             Code = "PAYMENT_ERROR"
	CodeConfirmation        Code = "CONFIRMATION_ERROR"
	CodeConfirmationPending Code = "CONFIRMATION_PENDING"
	CodeCancelled           Code = "CANCELLED"
	CodeTimeout             Code = "TIMEOUT"
	CodeDependency          Code = "DEPENDENCY_ERROR"
	CodeInternal            Code = "INTERNAL_ERROR"
)

// Metadata drives how a code is surfaced to the user.
type Metadata struct {
	Retryable     bool
	PublicMessage string
	// FundsSafe marks outcomes where the payment already succeeded and the
	// user must not be told the payment failed.
	FundsSafe bool
}

var metadataByCode = map[Code]Metadata{
	CodePrecondition: {
		Retryable:     false,
		PublicMessage: "checkout cannot start",
	},
	CodeValidation: {
		Retryable:     false,
		PublicMessage: "please review your cart",
	},
	CodeNegotiation: {
		Retryable:     false,
		PublicMessage: "could not fetch a quote from the seller",
	},
	CodeInitiation: {
		Retryable:     false,
		PublicMessage: "could not lock your order with the seller",
	},
	CodePayment: {
		Retryable:     true,
		PublicMessage: "payment did not complete",
	},
	CodeConfirmation: {
		Retryable:     false,
		PublicMessage: "seller confirmation is pending, your payment is safe",
		FundsSafe:     true,
	},
	CodeConfirmationPending: {
		Retryable:     false,
		PublicMessage: "seller confirmation is pending, your payment is safe",
		FundsSafe:     true,
	},
	CodeCancelled: {
		Retryable:     false,
		PublicMessage: "checkout cancelled",
	},
	CodeTimeout: {
		Retryable:     true,
		PublicMessage: "the seller took too long to respond",
	},
	CodeDependency: {
		Retryable:     true,
		PublicMessage: "a required service is unavailable",
	},
	CodeInternal: {
		Retryable:     true,
		PublicMessage: "something went wrong",
	},
}

// MetadataFor returns the surfacing rules for a code, defaulting to internal.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf extracts the code from any error, defaulting to internal.
func CodeOf(err error) Code {
	if typed := As(err); typed != nil {
		return typed.Code()
	}
	return CodeInternal
}
