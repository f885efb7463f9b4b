package runtime

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"s7panel/pkg/runtime/constant"
)

// AddressDescriptor locates one typed value in PLC memory.
type AddressDescriptor struct {
	Area        S7StoreArea       `json:"area"`
	BlockNumber int               `json:"blockNumber,omitempty"` // DB only
	ByteOffset  int               `json:"byteOffset"`
	BitOffset   int               `json:"bitOffset"` // -1 unless bool
	DataType    constant.DataType `json:"dataType"`
}

var (
	// DB1.DBX0.0  DB1.DBW6  DB1.DBD2
	dbAddressPattern = regexp.MustCompile(`^DB(-?\d+)\.DB([XWD])(-?\d+)(?:\.(-?\d+))?$`)
	// M0.0  MX0.0  MW6  MD2, same for I and Q
	globalAddressPattern = regexp.MustCompile(`^([MIQ])([XWD]?)(-?\d+)(?:\.(-?\d+))?$`)
)

var sizeLetterToDataType = map[string]constant.DataType{
	"":  constant.BOOL,
	"X": constant.BOOL,
	"W": constant.INT16,
	"D": constant.REAL32,
}

var dataTypeToSizeLetter = map[constant.DataType]string{
	constant.BOOL:   "X",
	constant.INT16:  "W",
	constant.REAL32: "D",
}

// ParseAddress parses S7 absolute addressing text such as "DB1.DBX0.0",
// "DB1.DBW6", "DB1.DBD2", "M10.1" or "QW4".
func ParseAddress(text string) (*AddressDescriptor, error) {
	input := strings.ToUpper(strings.TrimSpace(text))

	var area S7StoreArea
	var letter, byteText, bitText string
	block := "0"
	if m := dbAddressPattern.FindStringSubmatch(input); m != nil {
		area = DB
		block, letter, byteText, bitText = m[1], m[2], m[3], m[4]
	} else if m := globalAddressPattern.FindStringSubmatch(input); m != nil {
		area = StringToStoreAddress[m[1]]
		letter, byteText, bitText = m[2], m[3], m[4]
	} else {
		return nil, &ParseError{Kind: ErrInvalidFormat, Input: text}
	}

	dt := sizeLetterToDataType[letter]
	if dt == constant.BOOL && bitText == "" {
		return nil, &ParseError{Kind: ErrInvalidFormat, Input: text, Reason: "missing bit offset"}
	}
	if dt != constant.BOOL && bitText != "" {
		return nil, &ParseError{Kind: ErrInvalidFormat, Input: text, Reason: "bit offset on a word address"}
	}

	d := &AddressDescriptor{Area: area, BitOffset: NoBit, DataType: dt}
	var err error
	if d.BlockNumber, err = strconv.Atoi(block); err != nil {
		return nil, &ParseError{Kind: ErrOutOfRange, Input: text, Reason: "block number"}
	}
	if d.ByteOffset, err = strconv.Atoi(byteText); err != nil {
		return nil, &ParseError{Kind: ErrOutOfRange, Input: text, Reason: "byte offset"}
	}
	if bitText != "" {
		if d.BitOffset, err = strconv.Atoi(bitText); err != nil {
			return nil, &ParseError{Kind: ErrOutOfRange, Input: text, Reason: "bit offset"}
		}
	}

	if err := d.Validate(); err != nil {
		err.(*ParseError).Input = text
		return nil, err
	}
	return d, nil
}

// Validate returns a *ParseError when d breaks an addressing rule.
func (d *AddressDescriptor) Validate() error {
	fail := func(kind error, format string, args ...interface{}) error {
		return &ParseError{Kind: kind, Input: d.String(), Reason: fmt.Sprintf(format, args...)}
	}

	if _, ok := constant.DataTypeToString[d.DataType]; !ok {
		return fail(ErrInvalidFormat, "unknown data type %d", d.DataType)
	}
	if _, ok := StoreAddressToString[d.Area]; !ok {
		return fail(ErrInvalidFormat, "unknown area %d", d.Area)
	}

	if d.Area == DB {
		if d.BlockNumber < 1 || d.BlockNumber > MaxBlockNumber {
			return fail(ErrOutOfRange, "block number %d not in [1,%d]", d.BlockNumber, MaxBlockNumber)
		}
	} else if d.BlockNumber != 0 {
		return fail(ErrInvalidFormat, "block number on %s area", d.Area)
	}

	if d.ByteOffset < 0 || d.ByteOffset > MaxByteOffset {
		return fail(ErrOutOfRange, "byte offset %d not in [0,%d]", d.ByteOffset, MaxByteOffset)
	}

	if d.DataType == constant.BOOL {
		if d.BitOffset < 0 || d.BitOffset > MaxBitOffset {
			return fail(ErrOutOfRange, "bit offset %d not in [0,%d]", d.BitOffset, MaxBitOffset)
		}
		return nil
	}

	if d.BitOffset != NoBit {
		return fail(ErrInvalidFormat, "bit offset on %s", d.DataType)
	}
	if d.ByteOffset%2 != 0 {
		return fail(ErrOutOfRange, "%s byte offset %d is not even", d.DataType, d.ByteOffset)
	}
	return nil
}

// String renders the canonical form accepted by ParseAddress.
func (d AddressDescriptor) String() string {
	letter := dataTypeToSizeLetter[d.DataType]
	var b strings.Builder
	if d.Area == DB {
		fmt.Fprintf(&b, "DB%d.DB%s%d", d.BlockNumber, letter, d.ByteOffset)
	} else {
		if letter == "X" {
			letter = ""
		}
		fmt.Fprintf(&b, "%s%s%d", d.Area, letter, d.ByteOffset)
	}
	if d.DataType == constant.BOOL {
		fmt.Fprintf(&b, ".%d", d.BitOffset)
	}
	return b.String()
}

// Size is the number of bytes read to decode the value.
func (d AddressDescriptor) Size() int {
	return d.DataType.Size()
}
