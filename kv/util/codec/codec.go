package codec

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/pingcap/errors"
)

const (
	signMask uint64 = 0x8000000000000000

	encGroupSize = 8
	encMarker    = byte(0xFF)
	encPad       = byte(0x0)
)

// Type flags prefix every encoded key value so that values of different types never compare equal.
const (
	nilFlag   byte = 0x00
	boolFlag  byte = 0x01
	intFlag   byte = 0x03
	floatFlag byte = 0x05
	bytesFlag byte = 0x06
	timeFlag  byte = 0x07
)

var pads = make([]byte, encGroupSize)

// EncodeBytes guarantees the encoded value is in ascending order for comparison,
// encoding with the following rule:
//  [group1][marker1]...[groupN][markerN]
//  group is 8 bytes slice which is padding with 0.
//  marker is `0xFF - padding 0 count`
// For example:
//   [] -> [0, 0, 0, 0, 0, 0, 0, 0, 247]
//   [1, 2, 3] -> [1, 2, 3, 0, 0, 0, 0, 0, 250]
//   [1, 2, 3, 0] -> [1, 2, 3, 0, 0, 0, 0, 0, 251]
//   [1, 2, 3, 4, 5, 6, 7, 8] -> [1, 2, 3, 4, 5, 6, 7, 8, 255, 0, 0, 0, 0, 0, 0, 0, 0, 247]
// Refer: https://github.com/facebook/mysql-5.6/wiki/MyRocks-record-format#memcomparable-format
func EncodeBytes(data []byte) []byte {
	dLen := len(data)
	result := make([]byte, 0, (dLen/encGroupSize+1)*(encGroupSize+1))
	for idx := 0; idx <= dLen; idx += encGroupSize {
		remain := dLen - idx
		padCount := 0
		if remain >= encGroupSize {
			result = append(result, data[idx:idx+encGroupSize]...)
		} else {
			padCount = encGroupSize - remain
			result = append(result, data[idx:]...)
			result = append(result, pads[:padCount]...)
		}

		marker := encMarker - byte(padCount)
		result = append(result, marker)
	}
	return result
}

// DecodeBytes decodes bytes which is encoded by EncodeBytes before,
// returns the leftover bytes and decoded value if no error.
func DecodeBytes(b []byte) ([]byte, []byte, error) {
	data := make([]byte, 0, len(b))
	for {
		if len(b) < encGroupSize+1 {
			return nil, nil, errors.New("insufficient bytes to decode value")
		}

		groupBytes := b[:encGroupSize+1]

		group := groupBytes[:encGroupSize]
		marker := groupBytes[encGroupSize]

		padCount := encMarker - marker
		if padCount > encGroupSize {
			return nil, nil, errors.Errorf("invalid marker byte, group bytes %q", groupBytes)
		}

		realGroupSize := encGroupSize - padCount
		data = append(data, group[:realGroupSize]...)
		b = b[encGroupSize+1:]

		if padCount != 0 {
			var padByte = encPad
			// Check validity of padding bytes.
			for _, v := range group[realGroupSize:] {
				if v != padByte {
					return nil, nil, errors.Errorf("invalid padding byte, group bytes %q", groupBytes)
				}
			}
			break
		}
	}
	return b, data, nil
}

// EncodeInt appends the memcomparable form of v: the sign bit is flipped so negative numbers sort first.
func EncodeInt(b []byte, v int64) []byte {
	var data [8]byte
	binary.BigEndian.PutUint64(data[:], uint64(v)^signMask)
	return append(b, data[:]...)
}

// DecodeInt decodes a value written by EncodeInt.
func DecodeInt(b []byte) ([]byte, int64, error) {
	if len(b) < 8 {
		return nil, 0, errors.New("insufficient bytes to decode value")
	}
	u := binary.BigEndian.Uint64(b[:8])
	return b[8:], int64(u ^ signMask), nil
}

// EncodeFloat appends the memcomparable form of v.
func EncodeFloat(b []byte, v float64) []byte {
	u := math.Float64bits(v)
	if v >= 0 {
		u |= signMask
	} else {
		u = ^u
	}
	var data [8]byte
	binary.BigEndian.PutUint64(data[:], u)
	return append(b, data[:]...)
}

// DecodeFloat decodes a value written by EncodeFloat.
func DecodeFloat(b []byte) ([]byte, float64, error) {
	if len(b) < 8 {
		return nil, 0, errors.New("insufficient bytes to decode value")
	}
	u := binary.BigEndian.Uint64(b[:8])
	if u&signMask > 0 {
		u &= ^signMask
	} else {
		u = ^u
	}
	return b[8:], math.Float64frombits(u), nil
}

// EncodeValue appends one typed key value. Supported types are the canonical column types: nil, bool, int64,
// float64, string and time.Time.
func EncodeValue(b []byte, v interface{}) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return append(b, nilFlag), nil
	case bool:
		var i int64
		if x {
			i = 1
		}
		return EncodeInt(append(b, boolFlag), i), nil
	case int64:
		return EncodeInt(append(b, intFlag), x), nil
	case float64:
		return EncodeFloat(append(b, floatFlag), x), nil
	case string:
		return append(append(b, bytesFlag), EncodeBytes([]byte(x))...), nil
	case time.Time:
		return EncodeInt(append(b, timeFlag), x.UnixNano()), nil
	}
	return nil, errors.Errorf("codec: cannot encode key value of type %T", v)
}

// DecodeValue decodes one value written by EncodeValue.
func DecodeValue(b []byte) ([]byte, interface{}, error) {
	if len(b) == 0 {
		return nil, nil, errors.New("insufficient bytes to decode value")
	}
	flag := b[0]
	b = b[1:]
	switch flag {
	case nilFlag:
		return b, nil, nil
	case boolFlag:
		rest, i, err := DecodeInt(b)
		return rest, i != 0, err
	case intFlag:
		return DecodeInt(b)
	case floatFlag:
		return DecodeFloat(b)
	case bytesFlag:
		rest, data, err := DecodeBytes(b)
		return rest, string(data), err
	case timeFlag:
		rest, i, err := DecodeInt(b)
		return rest, time.Unix(0, i).UTC(), err
	}
	return nil, nil, errors.Errorf("codec: invalid value flag %d", flag)
}

// EncodeKey encodes a tuple of key values so that byte order equals tuple order.
func EncodeKey(b []byte, values ...interface{}) ([]byte, error) {
	var err error
	for _, v := range values {
		b, err = EncodeValue(b, v)
		if err != nil {
			return nil, err
		}
	}
	return b, nil
}

// DecodeKey decodes a tuple written by EncodeKey.
func DecodeKey(b []byte) ([]interface{}, error) {
	var values []interface{}
	for len(b) > 0 {
		rest, v, err := DecodeValue(b)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		b = rest
	}
	return values, nil
}
