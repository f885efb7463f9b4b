package response

var errors = map[ErrCode]string{
	ErrCodeMalformedJSON:    "The JSON you provided was not well-formed or did not validate against our published format.",
	ErrCodeRequestBody:      "Request body error",
	ErrCodeResourceExists:   "Resource %s already exists.",
	ErrCodeResourceNotFound: "Resource %s not found.",
	ErrCodeInvalidAddress:   "Invalid PLC address: %s",
	ErrCodeInvalidTagName:   "Tag name must not be empty.",
	ErrCodeTypeMismatch:     "Value does not match the tag data type: %s",
	ErrCodeNotConnected:     "PLC is not connected.",
	ErrCodeTimeout:          "PLC did not answer in time.",
	ErrCodeConnectFailed:    "Failed to connect PLC: %s",
	ErrCodeInvalidRange:     "Invalid range: %s",
	ErrCodeInternal:         "Internal error: %s",
	ErrCodeBusy:             "PLC session is busy, retry later.",
}

// !!! IMPORTANT PLEASE READ FIRST !!!
// You SHOULD add new code at the end of enum firstly.

var ErrMalformedJSON = &responseError{
	Code:    ErrCodeMalformedJSON,
	Message: errors[ErrCodeMalformedJSON],
}

var ErrRequestBody = &responseError{
	Code:    ErrCodeRequestBody,
	Message: errors[ErrCodeRequestBody],
}

var ErrInvalidTagName = &responseError{
	Code:    ErrCodeInvalidTagName,
	Message: errors[ErrCodeInvalidTagName],
}

var ErrNotConnected = &responseError{
	Code:    ErrCodeNotConnected,
	Message: errors[ErrCodeNotConnected],
}

var ErrTimeout = &responseError{
	Code:    ErrCodeTimeout,
	Message: errors[ErrCodeTimeout],
}

var ErrBusy = &responseError{
	Code:    ErrCodeBusy,
	Message: errors[ErrCodeBusy],
}
