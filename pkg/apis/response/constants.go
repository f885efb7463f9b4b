package response

import "net/http"

type ErrCode int

const (
	_                          ErrCode = 10000 + iota
	ErrCodeMalformedJSON               // 10001
	ErrCodeRequestBody                 // 10002
	ErrCodeResourceExists              // 10003
	ErrCodeResourceNotFound            // 10004
	ErrCodeInvalidAddress              // 10005
	ErrCodeInvalidTagName              // 10006
	ErrCodeTypeMismatch                // 10007
	ErrCodeNotConnected                // 10008
	ErrCodeTimeout                     // 10009
	ErrCodeConnectFailed               // 10010
	ErrCodeInvalidRange                // 10011
	ErrCodeInternal                    // 10012
	ErrCodeBusy                        // 10013
)

// !!! IMPORTANT PLEASE READ FIRST !!!
// You SHOULD add new code at the end, and append comment of number
// Meanwhile, the corresponding error message SHOULD be appended in response.errors
// The order MUST be consistent between them

var statusCodes = map[ErrCode]int{
	ErrCodeMalformedJSON:    http.StatusBadRequest,
	ErrCodeRequestBody:      http.StatusBadRequest,
	ErrCodeResourceExists:   http.StatusConflict,
	ErrCodeResourceNotFound: http.StatusNotFound,
	ErrCodeInvalidAddress:   http.StatusBadRequest,
	ErrCodeInvalidTagName:   http.StatusBadRequest,
	ErrCodeTypeMismatch:     http.StatusBadRequest,
	ErrCodeNotConnected:     http.StatusServiceUnavailable,
	ErrCodeTimeout:          http.StatusGatewayTimeout,
	ErrCodeConnectFailed:    http.StatusBadGateway,
	ErrCodeInvalidRange:     http.StatusBadRequest,
	ErrCodeInternal:         http.StatusInternalServerError,
	ErrCodeBusy:             http.StatusServiceUnavailable,
}
