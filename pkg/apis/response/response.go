package response

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

type responseError struct {
	Code    ErrCode `json:"code"`
	Message string  `json:"message"`
	Err     error   `json:"-"`
}

func (re *responseError) Error() string {
	if re == nil {
		return ""
	}
	return fmt.Sprintf("%d: %s", re.Code, re.Message)
}

// Status is the HTTP status the code is served with.
func (re *responseError) Status() int {
	if re == nil {
		return http.StatusOK
	}
	if status, ok := statusCodes[re.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func (re *responseError) GetCode() ErrCode {
	if re == nil {
		return 0
	}
	return re.Code
}

func (re *responseError) Unwrap() error {
	return re.Err
}

func IsResponseError(err error) bool {
	var re *responseError
	return stderrors.As(err, &re)
}

// StatusOf returns the HTTP status of the first coded error found in err.
func StatusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var me *MultiError
	if stderrors.As(err, &me) {
		errs := me.Errors()
		if len(errs) == 0 {
			return http.StatusOK
		}
		return StatusOf(errs[0])
	}
	var re *responseError
	if stderrors.As(err, &re) {
		return re.Status()
	}
	return http.StatusInternalServerError
}

// MultiError contains multiple errors and implements the error interface. Its
// zero value is ready to use. All its methods are goroutine safe.
type MultiError struct {
	mtx    sync.Mutex
	errors []error
}

func NewMultiError(err ...error) *MultiError {
	return &MultiError{
		errors: err,
	}
}

// Add adds an error to the MultiError.
func (e *MultiError) Add(err ...error) {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	e.errors = append(e.errors, err...)
}

// Len returns the number of errors added to the MultiError.
func (e *MultiError) Len() int {
	if e == nil {
		return 0
	}
	e.mtx.Lock()
	defer e.mtx.Unlock()

	return len(e.errors)
}

// MultiError returns the errors added to the MuliError. The returned slice is a
// copy of the internal slice of errors.
func (e *MultiError) Errors() []error {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	return append(make([]error, 0, len(e.errors)), e.errors...)
}

func (e *MultiError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Errors []error `json:"errors"`
	}{
		Errors: e.errors,
	})
}

func (e *MultiError) UnmarshalJSON(bytes []byte) error {
	errs := struct {
		Errors []*responseError `json:"errors"`
	}{}
	if err := json.Unmarshal(bytes, &errs); err != nil {
		return err
	}
	for _, err := range errs.Errors {
		e.Add(err)
	}
	return nil
}

func (e *MultiError) Error() string {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	es := make([]string, 0, len(e.errors))
	for _, err := range e.errors {
		es = append(es, err.Error())
	}
	return strings.Join(es, "; ")
}

func generateError(code ErrCode, s ...interface{}) *responseError {
	return &responseError{
		Code:    code,
		Message: fmt.Sprintf(errors[code], s...),
	}
}

func generateErrorWrapper(code ErrCode, err error, s ...interface{}) *responseError {
	return &responseError{
		Code:    code,
		Message: fmt.Sprintf(errors[code], s...),
		Err:     err,
	}
}

func ErrResourceExists(resource string) *responseError {
	return generateError(ErrCodeResourceExists, resource)
}

func ErrResourceNotFound(resource string) *responseError {
	return generateError(ErrCodeResourceNotFound, resource)
}

func ErrInvalidAddress(err error) *responseError {
	return generateErrorWrapper(ErrCodeInvalidAddress, err, err.Error())
}

func ErrTypeMismatch(err error) *responseError {
	return generateErrorWrapper(ErrCodeTypeMismatch, err, err.Error())
}

func ErrConnectFailed(err error) *responseError {
	return generateErrorWrapper(ErrCodeConnectFailed, err, err.Error())
}

func ErrInvalidRange(err error) *responseError {
	return generateErrorWrapper(ErrCodeInvalidRange, err, err.Error())
}

func ErrInternal(err error) *responseError {
	return generateErrorWrapper(ErrCodeInternal, err, err.Error())
}
