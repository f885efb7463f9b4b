package response

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"malformed json", ErrMalformedJSON, http.StatusBadRequest},
		{"exists", ErrResourceExists("Temperature"), http.StatusConflict},
		{"not found", ErrResourceNotFound("Temperature"), http.StatusNotFound},
		{"not connected", ErrNotConnected, http.StatusServiceUnavailable},
		{"timeout", ErrTimeout, http.StatusGatewayTimeout},
		{"busy", ErrBusy, http.StatusServiceUnavailable},
		{"connect failed", ErrConnectFailed(fmt.Errorf("dial tcp: refused")), http.StatusBadGateway},
		{"wrapped", pkgerrors.Wrap(ErrTimeout, "write"), http.StatusGatewayTimeout},
		{"multi", NewMultiError(ErrNotConnected, ErrInternal(fmt.Errorf("boom"))), http.StatusServiceUnavailable},
		{"empty multi", NewMultiError(), http.StatusOK},
		{"plain error", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusOf(tt.err))
		})
	}
}

func TestEveryCodeHasMessageAndStatus(t *testing.T) {
	for code := ErrCodeMalformedJSON; code <= ErrCodeBusy; code++ {
		assert.NotEmpty(t, errors[code], "message for %d", code)
		assert.NotZero(t, statusCodes[code], "status for %d", code)
	}
}

func TestMultiErrorJSON(t *testing.T) {
	cause := fmt.Errorf("address holds bool, not int16")
	me := NewMultiError(ErrInvalidAddress(cause), ErrInvalidTagName)

	data, err := json.Marshal(me)
	require.NoError(t, err)

	var decoded MultiError
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, 2, decoded.Len())
	first := decoded.Errors()[0].(*responseError)
	assert.Equal(t, ErrCodeInvalidAddress, first.GetCode())
	assert.Equal(t, "Invalid PLC address: address holds bool, not int16", first.Message)
	assert.Equal(t, "10005: Invalid PLC address: address holds bool, not int16", first.Error())

	assert.True(t, IsResponseError(pkgerrors.Wrap(ErrInvalidTagName, "add")))
	assert.ErrorIs(t, ErrInvalidAddress(cause), cause)
}
