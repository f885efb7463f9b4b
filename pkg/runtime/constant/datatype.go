package constant

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DataType is the type of value stored behind a tag address.
type DataType int8

const (
	BOOL DataType = iota
	INT16
	REAL32
)

var DataTypeToString = map[DataType]string{
	BOOL:   "bool",
	INT16:  "int16",
	REAL32: "real32",
}

// StringToDataType also accepts the aliases used by older tag lists.
var StringToDataType = map[string]DataType{
	"bool":    BOOL,
	"int16":   INT16,
	"int":     INT16,
	"real32":  REAL32,
	"real":    REAL32,
	"float32": REAL32,
}

// DataTypeSize is the number of bytes a value occupies in PLC memory.
var DataTypeSize = map[DataType]int{
	BOOL:   1,
	INT16:  2,
	REAL32: 4,
}

func ParseDataType(s string) (DataType, error) {
	dt, ok := StringToDataType[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("unknown data type %q", s)
	}
	return dt, nil
}

func (dt DataType) String() string {
	if s, ok := DataTypeToString[dt]; ok {
		return s
	}
	return fmt.Sprintf("DataType(%d)", int8(dt))
}

func (dt DataType) Size() int {
	return DataTypeSize[dt]
}

func (dt DataType) MarshalJSON() ([]byte, error) {
	if s, ok := DataTypeToString[dt]; ok {
		return json.Marshal(s)
	}
	return nil, fmt.Errorf("unknown data type %d", dt)
}

func (dt *DataType) UnmarshalJSON(bytes []byte) error {
	var s string
	if err := json.Unmarshal(bytes, &s); err != nil {
		return err
	}

	v, err := ParseDataType(s)
	if err != nil {
		return err
	}
	*dt = v
	return nil
}
