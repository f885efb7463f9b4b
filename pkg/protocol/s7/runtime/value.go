package runtime

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"s7panel/pkg/runtime/constant"
	"s7panel/pkg/utils/binutil"
)

// Value holds exactly one of Bool, Int16 or Real32, selected by Type.
type Value struct {
	Type   constant.DataType
	Bool   bool
	Int16  int16
	Real32 float32
}

func BoolValue(b bool) Value {
	return Value{Type: constant.BOOL, Bool: b}
}

func Int16Value(i int16) Value {
	return Value{Type: constant.INT16, Int16: i}
}

func Real32Value(f float32) Value {
	return Value{Type: constant.REAL32, Real32: f}
}

func (v Value) Interface() interface{} {
	switch v.Type {
	case constant.BOOL:
		return v.Bool
	case constant.INT16:
		return v.Int16
	case constant.REAL32:
		return v.Real32
	default:
		return nil
	}
}

// Equal compares bit patterns for Real32 so a NaN equals itself.
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type {
		return false
	}
	switch v.Type {
	case constant.BOOL:
		return v.Bool == o.Bool
	case constant.INT16:
		return v.Int16 == o.Int16
	case constant.REAL32:
		return math.Float32bits(v.Real32) == math.Float32bits(o.Real32)
	default:
		return true
	}
}

func (v Value) String() string {
	switch v.Type {
	case constant.BOOL:
		return strconv.FormatBool(v.Bool)
	case constant.INT16:
		return strconv.FormatInt(int64(v.Int16), 10)
	case constant.REAL32:
		return strconv.FormatFloat(float64(v.Real32), 'g', -1, 32)
	default:
		return "<invalid>"
	}
}

// MarshalJSON encodes the bare scalar. NaN and infinities become strings.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.Type == constant.REAL32 {
		f := float64(v.Real32)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return json.Marshal(v.String())
		}
	}
	return json.Marshal(v.Interface())
}

// DecodeValue converts the raw bytes read at d into a Value.
func DecodeValue(d AddressDescriptor, buf []byte) (Value, error) {
	if len(buf) < d.Size() {
		return Value{}, fmt.Errorf("short buffer for %s: %d bytes", d, len(buf))
	}
	switch d.DataType {
	case constant.BOOL:
		return BoolValue(binutil.TestBit(buf[0], uint8(d.BitOffset))), nil
	case constant.INT16:
		return Int16Value(binutil.ParseInt16BigEndian(buf)), nil
	case constant.REAL32:
		return Real32Value(binutil.ParseFloat32BigEndian(buf)), nil
	default:
		return Value{}, fmt.Errorf("unknown data type %d", d.DataType)
	}
}

// EncodeValue writes v into buf as stored at d. For bools buf must hold the
// current byte, only the addressed bit is changed.
func EncodeValue(d AddressDescriptor, v Value, buf []byte) error {
	if v.Type != d.DataType {
		return &WriteError{Kind: ErrTypeMismatch, Address: d.String(),
			Err: fmt.Errorf("%s value for %s address", v.Type, d.DataType)}
	}
	if len(buf) < d.Size() {
		return fmt.Errorf("short buffer for %s: %d bytes", d, len(buf))
	}
	switch v.Type {
	case constant.BOOL:
		buf[0] = binutil.SetBit(buf[0], uint8(d.BitOffset), v.Bool)
	case constant.INT16:
		binutil.WriteUint16(buf, uint16(v.Int16))
	case constant.REAL32:
		binutil.WriteFloat32(buf, v.Real32)
	}
	return nil
}

// ValueFromInterface coerces decoded JSON, YAML or MQTT input into a Value of
// type dt. Inputs the type cannot represent fail with ErrTypeMismatch.
func ValueFromInterface(dt constant.DataType, raw interface{}) (Value, error) {
	mismatch := func() (Value, error) {
		return Value{}, &WriteError{Kind: ErrTypeMismatch, Err: fmt.Errorf("cannot use %v (%T) as %s", raw, raw, dt)}
	}

	if s, ok := raw.(string); ok {
		parsed, ok := parseScalar(dt, s)
		if !ok {
			return mismatch()
		}
		raw = parsed
	}
	if n, ok := raw.(json.Number); ok {
		f, err := n.Float64()
		if err != nil {
			return mismatch()
		}
		raw = f
	}

	switch dt {
	case constant.BOOL:
		b, ok := raw.(bool)
		if !ok {
			return mismatch()
		}
		return BoolValue(b), nil
	case constant.INT16:
		f, ok := toFloat64(raw)
		if !ok || f != math.Trunc(f) || f < math.MinInt16 || f > math.MaxInt16 {
			return mismatch()
		}
		return Int16Value(int16(f)), nil
	case constant.REAL32:
		f, ok := toFloat64(raw)
		if !ok || (!math.IsInf(f, 0) && math.Abs(f) > math.MaxFloat32) {
			return mismatch()
		}
		return Real32Value(float32(f)), nil
	default:
		return mismatch()
	}
}

func parseScalar(dt constant.DataType, s string) (interface{}, bool) {
	s = strings.TrimSpace(s)
	if dt == constant.BOOL {
		b, err := strconv.ParseBool(s)
		return b, err == nil
	}
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

func toFloat64(raw interface{}) (float64, bool) {
	switch n := raw.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
