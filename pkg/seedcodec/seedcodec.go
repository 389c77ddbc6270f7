// Package seedcodec implements the wire format of spec §6.1: a
// Zstandard-framed, length-prefixed binary encoding of a WeatherSeed
// forecast artifact. Decompression uses klauspost/compress/zstd, the
// same codec family the pack reaches for elsewhere for streaming
// decompression; the record layout itself is a fixed custom framing
// with no existing library shape to reuse, so it is hand-decoded with
// encoding/binary the way a raw telemetry frame would be.
package seedcodec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// magic is the 4-byte header magic required by spec §6.1.
var magic = [4]byte{'S', 'E', 'E', 'D'}

const currentVersion uint16 = 1

// EncodingTag distinguishes raw float32 variable storage from
// i16-quantized storage, per spec §6.1.
type EncodingTag uint8

const (
	EncodingRaw       EncodingTag = 0
	EncodingQuantized EncodingTag = 1
)

// Variable is one named grid variable: either raw float32 values or an
// i16-quantized block with scale/offset, per spec §3's Variable union.
type Variable struct {
	Name     string
	Encoding EncodingTag

	// Raw values, populated when Encoding == EncodingRaw. Length ==
	// len(TimeStepsMs) * len(Lats) * len(Lons).
	Values []float32

	// Quantized block, populated when Encoding == EncodingQuantized.
	Scale  float32
	Offset float32
	QData  []int16
}

// count returns the number of (time, lat, lon) cells this variable
// holds, irrespective of encoding.
func (v Variable) count() int {
	if v.Encoding == EncodingQuantized {
		return len(v.QData)
	}
	return len(v.Values)
}

// At returns the materialized float32 value at flat index i,
// dequantizing per spec §4.1: offset + q[i]*scale.
func (v Variable) At(i int) float32 {
	if v.Encoding == EncodingQuantized {
		return v.Offset + float32(v.QData[i])*v.Scale
	}
	return v.Values[i]
}

// Seed is the decoded WeatherSeed of spec §3.
type Seed struct {
	SeedID              string
	ModelSource         string
	ForecastStartTimeMs int64
	TimeStepsMs         []int64
	Lats                []float32
	Lons                []float32
	Variables           map[string]Variable
}

// DecodeError kinds, per spec §7.
var (
	ErrHeader = fmt.Errorf("seedcodec: corrupt header")
	ErrShape  = fmt.Errorf("seedcodec: variable size mismatch")
	ErrEncoding = fmt.Errorf("seedcodec: unknown variable encoding")
)

// Decode un-frames a Zstd-compressed seed artifact and decodes the
// binary record layout of spec §6.1.
func Decode(raw []byte) (*Seed, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd reader: %v", ErrHeader, err)
	}
	defer dec.Close()

	plain, err := dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd frame: %v", ErrHeader, err)
	}

	return decodePlain(plain)
}

func decodePlain(buf []byte) (*Seed, error) {
	r := bytes.NewReader(buf)

	var gotMagic [4]byte
	if _, err := io.ReadFull(r, gotMagic[:]); err != nil || gotMagic != magic {
		return nil, fmt.Errorf("%w: bad magic", ErrHeader)
	}

	var version uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("%w: version: %v", ErrHeader, err)
	}
	if version != currentVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrHeader, version)
	}

	seedID, err := readString(r)
	if err != nil {
		return nil, fmt.Errorf("%w: seed_id: %v", ErrHeader, err)
	}
	modelSource, err := readString(r)
	if err != nil {
		return nil, fmt.Errorf("%w: model_source: %v", ErrHeader, err)
	}

	var forecastStart int64
	if err := binary.Read(r, binary.LittleEndian, &forecastStart); err != nil {
		return nil, fmt.Errorf("%w: forecast_start_time_ms: %v", ErrHeader, err)
	}

	timeSteps, err := readI64Slice(r)
	if err != nil {
		return nil, fmt.Errorf("%w: time_steps: %v", ErrHeader, err)
	}
	lats, err := readF32Slice(r)
	if err != nil {
		return nil, fmt.Errorf("%w: lats: %v", ErrHeader, err)
	}
	lons, err := readF32Slice(r)
	if err != nil {
		return nil, fmt.Errorf("%w: lons: %v", ErrHeader, err)
	}

	var numVars uint16
	if err := binary.Read(r, binary.LittleEndian, &numVars); err != nil {
		return nil, fmt.Errorf("%w: variable count: %v", ErrHeader, err)
	}

	expectedCount := len(timeSteps) * len(lats) * len(lons)
	vars := make(map[string]Variable, numVars)

	for i := 0; i < int(numVars); i++ {
		name, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("%w: variable[%d] name: %v", ErrHeader, i, err)
		}
		var tag uint8
		if err := binary.Read(r, binary.LittleEndian, &tag); err != nil {
			return nil, fmt.Errorf("%w: variable[%d] encoding: %v", ErrHeader, i, err)
		}

		var v Variable
		v.Name = name

		switch EncodingTag(tag) {
		case EncodingRaw:
			v.Encoding = EncodingRaw
			vals := make([]float32, expectedCount)
			if err := binary.Read(r, binary.LittleEndian, vals); err != nil {
				return nil, fmt.Errorf("%w: variable %q values: %v", ErrShape, name, err)
			}
			v.Values = vals
		case EncodingQuantized:
			v.Encoding = EncodingQuantized
			if err := binary.Read(r, binary.LittleEndian, &v.Scale); err != nil {
				return nil, fmt.Errorf("%w: variable %q scale: %v", ErrShape, name, err)
			}
			if err := binary.Read(r, binary.LittleEndian, &v.Offset); err != nil {
				return nil, fmt.Errorf("%w: variable %q offset: %v", ErrShape, name, err)
			}
			qdata := make([]int16, expectedCount)
			if err := binary.Read(r, binary.LittleEndian, qdata); err != nil {
				return nil, fmt.Errorf("%w: variable %q qdata: %v", ErrShape, name, err)
			}
			v.QData = qdata
		default:
			return nil, fmt.Errorf("%w: variable %q tag %d", ErrEncoding, name, tag)
		}

		if v.count() != expectedCount {
			return nil, fmt.Errorf("%w: variable %q has %d cells, want %d", ErrShape, name, v.count(), expectedCount)
		}

		vars[name] = v
	}

	return &Seed{
		SeedID:              seedID,
		ModelSource:         modelSource,
		ForecastStartTimeMs: forecastStart,
		TimeStepsMs:         timeSteps,
		Lats:                lats,
		Lons:                lons,
		Variables:           vars,
	}, nil
}

// Encode is the inverse of Decode; primarily used by tests to build
// fixtures and by tools that re-slice/re-quantize a seed.
func Encode(s *Seed) ([]byte, error) {
	var buf bytes.Buffer

	buf.Write(magic[:])
	binary.Write(&buf, binary.LittleEndian, currentVersion)
	writeString(&buf, s.SeedID)
	writeString(&buf, s.ModelSource)
	binary.Write(&buf, binary.LittleEndian, s.ForecastStartTimeMs)
	writeI64Slice(&buf, s.TimeStepsMs)
	writeF32Slice(&buf, s.Lats)
	writeF32Slice(&buf, s.Lons)

	binary.Write(&buf, binary.LittleEndian, uint16(len(s.Variables)))
	for name, v := range s.Variables {
		writeString(&buf, name)
		binary.Write(&buf, binary.LittleEndian, uint8(v.Encoding))
		switch v.Encoding {
		case EncodingRaw:
			binary.Write(&buf, binary.LittleEndian, v.Values)
		case EncodingQuantized:
			binary.Write(&buf, binary.LittleEndian, v.Scale)
			binary.Write(&buf, binary.LittleEndian, v.Offset)
			binary.Write(&buf, binary.LittleEndian, v.QData)
		default:
			return nil, fmt.Errorf("%w: variable %q tag %d", ErrEncoding, name, v.Encoding)
		}
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("seedcodec: zstd writer: %w", err)
	}
	defer enc.Close()

	return enc.EncodeAll(buf.Bytes(), nil), nil
}

func readString(r *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint32(len(s)))
	buf.WriteString(s)
}

func readI64Slice(r *bytes.Reader) ([]int64, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	out := make([]int64, n)
	if err := binary.Read(r, binary.LittleEndian, out); err != nil {
		return nil, err
	}
	return out, nil
}

func writeI64Slice(buf *bytes.Buffer, s []int64) {
	binary.Write(buf, binary.LittleEndian, uint32(len(s)))
	binary.Write(buf, binary.LittleEndian, s)
}

func readF32Slice(r *bytes.Reader) ([]float32, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	out := make([]float32, n)
	if err := binary.Read(r, binary.LittleEndian, out); err != nil {
		return nil, err
	}
	return out, nil
}

func writeF32Slice(buf *bytes.Buffer, s []float32) {
	binary.Write(buf, binary.LittleEndian, uint32(len(s)))
	binary.Write(buf, binary.LittleEndian, s)
}
