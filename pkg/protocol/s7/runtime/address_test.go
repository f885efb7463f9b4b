package runtime

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"s7panel/pkg/runtime/constant"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		input string
		want  AddressDescriptor
	}{
		{"DB1.DBX0.0", AddressDescriptor{Area: DB, BlockNumber: 1, ByteOffset: 0, BitOffset: 0, DataType: constant.BOOL}},
		{"DB1.DBD2", AddressDescriptor{Area: DB, BlockNumber: 1, ByteOffset: 2, BitOffset: NoBit, DataType: constant.REAL32}},
		{"DB1.DBW6", AddressDescriptor{Area: DB, BlockNumber: 1, ByteOffset: 6, BitOffset: NoBit, DataType: constant.INT16}},
		{"DB1.DBX8.0", AddressDescriptor{Area: DB, BlockNumber: 1, ByteOffset: 8, BitOffset: 0, DataType: constant.BOOL}},
		{"db12.dbx3.7", AddressDescriptor{Area: DB, BlockNumber: 12, ByteOffset: 3, BitOffset: 7, DataType: constant.BOOL}},
		{"  DB65535.DBW65534 ", AddressDescriptor{Area: DB, BlockNumber: 65535, ByteOffset: 65534, BitOffset: NoBit, DataType: constant.INT16}},
		{"M10.1", AddressDescriptor{Area: M, ByteOffset: 10, BitOffset: 1, DataType: constant.BOOL}},
		{"MX10.1", AddressDescriptor{Area: M, ByteOffset: 10, BitOffset: 1, DataType: constant.BOOL}},
		{"MW4", AddressDescriptor{Area: M, ByteOffset: 4, BitOffset: NoBit, DataType: constant.INT16}},
		{"ID8", AddressDescriptor{Area: I, ByteOffset: 8, BitOffset: NoBit, DataType: constant.REAL32}},
		{"Q0.5", AddressDescriptor{Area: Q, ByteOffset: 0, BitOffset: 5, DataType: constant.BOOL}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAddress(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestParseAddressErrors(t *testing.T) {
	tests := []struct {
		input string
		kind  error
	}{
		{"DB1.DBX0.9", ErrOutOfRange},
		{"DB1.DBX0.-1", ErrOutOfRange},
		{"DB0.DBW0", ErrOutOfRange},
		{"DB65536.DBW0", ErrOutOfRange},
		{"DB1.DBW-2", ErrOutOfRange},
		{"DB1.DBW65536", ErrOutOfRange},
		{"DB1.DBW3", ErrOutOfRange},
		{"DB1.DBD5", ErrOutOfRange},
		{"DB1.DBW99999999999999999999", ErrOutOfRange},
		{"DB1.DBX0", ErrInvalidFormat},
		{"DB1.DBW2.1", ErrInvalidFormat},
		{"DB1.DBB0", ErrInvalidFormat},
		{"DB1.DBZ0", ErrInvalidFormat},
		{"DBX0.0", ErrInvalidFormat},
		{"M10", ErrInvalidFormat},
		{"", ErrInvalidFormat},
		{"Motor_Running", ErrInvalidFormat},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAddress(tt.input)
			require.Error(t, err)
			assert.Nil(t, got)
			assert.True(t, errors.Is(err, tt.kind), "got %v", err)

			var pe *ParseError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.input, pe.Input)
		})
	}
}

func TestAddressRoundTrip(t *testing.T) {
	for _, input := range []string{"DB1.DBX0.0", "DB1.DBD2", "DB1.DBW6", "DB1.DBX8.0", "M10.1", "QW4", "ID8"} {
		d, err := ParseAddress(input)
		require.NoError(t, err)
		assert.Equal(t, input, d.String())

		again, err := ParseAddress(d.String())
		require.NoError(t, err)
		assert.Equal(t, d, again)
	}
}

func TestAddressValidate(t *testing.T) {
	d := AddressDescriptor{Area: M, BlockNumber: 3, ByteOffset: 0, BitOffset: 0, DataType: constant.BOOL}
	assert.ErrorIs(t, d.Validate(), ErrInvalidFormat)

	d = AddressDescriptor{Area: DB, BlockNumber: 1, ByteOffset: 2, BitOffset: 1, DataType: constant.REAL32}
	assert.ErrorIs(t, d.Validate(), ErrInvalidFormat)

	d = AddressDescriptor{Area: DB, BlockNumber: 1, ByteOffset: 2, BitOffset: NoBit, DataType: constant.REAL32}
	assert.NoError(t, d.Validate())
	assert.Equal(t, 4, d.Size())
}
