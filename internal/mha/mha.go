// Package mha reads and writes volumes in the MetaImage format (.mha with
// inline payload, .mhd with a detached raw file). The format is a plain-text
// "Key = Value" header followed by a binary sample blob, optionally
// zlib-compressed.
package mha

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"brainprep/internal/imaging"

	"encoding/binary"
)

// localPayload marks the sample blob as following the header in the same
// file.
const localPayload = "LOCAL"

// maxPayloadBytes caps the decoded blob size so a corrupt header cannot
// trigger an absurd allocation.
const maxPayloadBytes = int64(1) << 32

var metToType = map[string]imaging.PixelType{
	"MET_UCHAR":  imaging.UInt8,
	"MET_USHORT": imaging.UInt16,
	"MET_SHORT":  imaging.Int16,
	"MET_INT":    imaging.Int32,
	"MET_FLOAT":  imaging.Float32,
	"MET_DOUBLE": imaging.Float64,
}

var typeToMet = map[imaging.PixelType]string{
	imaging.UInt8:   "MET_UCHAR",
	imaging.UInt16:  "MET_USHORT",
	imaging.Int16:   "MET_SHORT",
	imaging.Int32:   "MET_INT",
	imaging.Float32: "MET_FLOAT",
	imaging.Float64: "MET_DOUBLE",
}

type header struct {
	ndims      int
	binary     bool
	msb        bool
	compressed bool
	channels   int
	transform  [3][3]float64
	offset     [3]float64
	spacing    [3]float64
	dims       [3]int
	hasDims    bool
	elemType   string
	dataFile   string
}

func newHeader() header {
	return header{
		ndims:    3,
		binary:   true,
		channels: 1,
		transform: [3][3]float64{
			{1, 0, 0},
			{0, 1, 0},
			{0, 0, 1},
		},
		spacing: [3]float64{1, 1, 1},
	}
}

// Load reads a MetaImage file from disk. Detached headers (.mhd) resolve
// their payload file relative to the header's directory.
func Load(path string) (*imaging.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open volume: %w", err)
	}
	defer f.Close()
	return decode(f, filepath.Dir(path))
}

// Read decodes a MetaImage stream. Only inline payloads are supported here;
// use Load for detached headers.
func Read(r io.Reader) (*imaging.Image, error) {
	return decode(r, "")
}

func decode(r io.Reader, dir string) (*imaging.Image, error) {
	br := bufio.NewReader(r)
	hdr, err := parseHeader(br)
	if err != nil {
		return nil, err
	}

	typ, ok := metToType[hdr.elemType]
	if !ok {
		return nil, fmt.Errorf("unsupported element type %q", hdr.elemType)
	}

	var payload io.Reader
	if hdr.dataFile == localPayload {
		payload = br
	} else {
		if dir == "" {
			return nil, fmt.Errorf("detached payload %q requires loading from a file path", hdr.dataFile)
		}
		pf, err := os.Open(filepath.Join(dir, hdr.dataFile))
		if err != nil {
			return nil, fmt.Errorf("failed to open payload file: %w", err)
		}
		defer pf.Close()
		payload = bufio.NewReader(pf)
	}
	if hdr.compressed {
		zr, err := zlib.NewReader(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to open compressed payload: %w", err)
		}
		defer zr.Close()
		payload = zr
	}

	total := int64(hdr.dims[0]) * int64(hdr.dims[1]) * int64(hdr.dims[2])
	byteLen := total * int64(typ.BytesPerSample())
	if byteLen > maxPayloadBytes {
		return nil, fmt.Errorf("volume of %d bytes exceeds the supported size", byteLen)
	}
	raw := make([]byte, byteLen)
	if _, err := io.ReadFull(payload, raw); err != nil {
		return nil, fmt.Errorf("failed to read %d payload bytes: %w", byteLen, err)
	}

	var bo binary.ByteOrder = binary.LittleEndian
	if hdr.msb {
		bo = binary.BigEndian
	}
	samples := decodeSamples(raw, typ, bo, int(total))

	geom := imaging.Geometry{
		Spacing:   hdr.spacing,
		Origin:    hdr.offset,
		Direction: hdr.transform,
	}
	return imaging.New(hdr.dims, typ, geom, samples)
}

func parseHeader(br *bufio.Reader) (header, error) {
	hdr := newHeader()
	for {
		line, err := br.ReadString('\n')
		if err != nil && line == "" {
			return hdr, fmt.Errorf("header ended before ElementDataFile: %w", err)
		}
		key, value, ok := splitField(line)
		if !ok {
			return hdr, fmt.Errorf("malformed header line %q", strings.TrimSpace(line))
		}

		switch key {
		case "ObjectType":
			if value != "Image" {
				return hdr, fmt.Errorf("unsupported object type %q", value)
			}
		case "NDims":
			n, err := strconv.Atoi(value)
			if err != nil || n != 3 {
				return hdr, fmt.Errorf("only 3-D volumes are supported, got NDims = %q", value)
			}
			hdr.ndims = n
		case "BinaryData":
			hdr.binary = parseBool(value)
		case "BinaryDataByteOrderMSB", "ElementByteOrderMSB":
			hdr.msb = parseBool(value)
		case "CompressedData":
			hdr.compressed = parseBool(value)
		case "ElementNumberOfChannels":
			n, err := strconv.Atoi(value)
			if err != nil {
				return hdr, fmt.Errorf("invalid ElementNumberOfChannels %q", value)
			}
			hdr.channels = n
		case "TransformMatrix", "Orientation", "Rotation":
			vals, err := parseFloats(value, 9)
			if err != nil {
				return hdr, fmt.Errorf("invalid TransformMatrix: %w", err)
			}
			for r := 0; r < 3; r++ {
				for c := 0; c < 3; c++ {
					hdr.transform[r][c] = vals[r*3+c]
				}
			}
		case "Offset", "Origin", "Position":
			vals, err := parseFloats(value, 3)
			if err != nil {
				return hdr, fmt.Errorf("invalid Offset: %w", err)
			}
			copy(hdr.offset[:], vals)
		case "ElementSpacing", "ElementSize":
			vals, err := parseFloats(value, 3)
			if err != nil {
				return hdr, fmt.Errorf("invalid ElementSpacing: %w", err)
			}
			copy(hdr.spacing[:], vals)
		case "DimSize":
			vals, err := parseInts(value, 3)
			if err != nil {
				return hdr, fmt.Errorf("invalid DimSize: %w", err)
			}
			copy(hdr.dims[:], vals)
			hdr.hasDims = true
		case "ElementType":
			hdr.elemType = value
		case "ElementDataFile":
			hdr.dataFile = value
			return hdr, validateHeader(hdr)
		default:
			// CenterOfRotation, AnatomicalOrientation, CompressedDataSize
			// and friends carry nothing we need.
		}
	}
}

func validateHeader(hdr header) error {
	if !hdr.binary {
		return fmt.Errorf("ASCII sample data is not supported")
	}
	if hdr.channels != 1 {
		return fmt.Errorf("multi-channel volumes are not supported (ElementNumberOfChannels = %d)", hdr.channels)
	}
	if !hdr.hasDims {
		return fmt.Errorf("header is missing DimSize")
	}
	for _, d := range hdr.dims {
		if d <= 0 {
			return fmt.Errorf("invalid DimSize %v", hdr.dims)
		}
	}
	if hdr.elemType == "" {
		return fmt.Errorf("header is missing ElementType")
	}
	if hdr.dataFile == "" {
		return fmt.Errorf("header is missing ElementDataFile")
	}
	return nil
}

func splitField(line string) (key, value string, ok bool) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return "", "", false
	}
	idx := strings.Index(line, "=")
	if idx < 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]), true
}

func parseBool(value string) bool {
	return strings.EqualFold(value, "true")
}

func parseFloats(value string, n int) ([]float64, error) {
	fields := strings.Fields(value)
	if len(fields) != n {
		return nil, fmt.Errorf("expected %d values, got %d", n, len(fields))
	}
	out := make([]float64, n)
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("bad value %q: %w", f, err)
		}
		out[i] = v
	}
	return out, nil
}

func parseInts(value string, n int) ([]int, error) {
	fields := strings.Fields(value)
	if len(fields) != n {
		return nil, fmt.Errorf("expected %d values, got %d", n, len(fields))
	}
	out := make([]int, n)
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("bad value %q: %w", f, err)
		}
		out[i] = v
	}
	return out, nil
}

func decodeSamples(raw []byte, typ imaging.PixelType, bo binary.ByteOrder, total int) []float64 {
	samples := make([]float64, total)
	switch typ {
	case imaging.UInt8:
		for i := 0; i < total; i++ {
			samples[i] = float64(raw[i])
		}
	case imaging.UInt16:
		for i := 0; i < total; i++ {
			samples[i] = float64(bo.Uint16(raw[i*2:]))
		}
	case imaging.Int16:
		for i := 0; i < total; i++ {
			samples[i] = float64(int16(bo.Uint16(raw[i*2:])))
		}
	case imaging.Int32:
		for i := 0; i < total; i++ {
			samples[i] = float64(int32(bo.Uint32(raw[i*4:])))
		}
	case imaging.Float32:
		for i := 0; i < total; i++ {
			samples[i] = float64(math.Float32frombits(bo.Uint32(raw[i*4:])))
		}
	case imaging.Float64:
		for i := 0; i < total; i++ {
			samples[i] = math.Float64frombits(bo.Uint64(raw[i*8:]))
		}
	}
	return samples
}

// Save writes a volume to disk with an inline payload, zlib-compressing the
// samples when compress is set.
func Save(path string, img *imaging.Image, compress bool) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create volume file: %w", err)
	}
	if err := Write(f, img, compress); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close volume file: %w", err)
	}
	return nil
}

// Write encodes a volume as a MetaImage stream with an inline payload.
func Write(w io.Writer, img *imaging.Image, compress bool) error {
	met, ok := typeToMet[img.PixelType()]
	if !ok {
		return fmt.Errorf("pixel type %s has no MetaImage element type", img.PixelType())
	}

	raw := encodeSamples(img)
	if compress {
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(raw); err != nil {
			return fmt.Errorf("failed to compress payload: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("failed to compress payload: %w", err)
		}
		raw = buf.Bytes()
	}

	var hdr strings.Builder
	hdr.WriteString("ObjectType = Image\n")
	hdr.WriteString("NDims = 3\n")
	hdr.WriteString("BinaryData = True\n")
	hdr.WriteString("BinaryDataByteOrderMSB = False\n")
	fmt.Fprintf(&hdr, "CompressedData = %s\n", boolWord(compress))
	if compress {
		fmt.Fprintf(&hdr, "CompressedDataSize = %d\n", len(raw))
	}
	d := img.Direction()
	fmt.Fprintf(&hdr, "TransformMatrix = %s %s %s %s %s %s %s %s %s\n",
		ftoa(d[0][0]), ftoa(d[0][1]), ftoa(d[0][2]),
		ftoa(d[1][0]), ftoa(d[1][1]), ftoa(d[1][2]),
		ftoa(d[2][0]), ftoa(d[2][1]), ftoa(d[2][2]))
	o := img.Origin()
	fmt.Fprintf(&hdr, "Offset = %s %s %s\n", ftoa(o[0]), ftoa(o[1]), ftoa(o[2]))
	s := img.Spacing()
	fmt.Fprintf(&hdr, "ElementSpacing = %s %s %s\n", ftoa(s[0]), ftoa(s[1]), ftoa(s[2]))
	dims := img.Dims()
	fmt.Fprintf(&hdr, "DimSize = %d %d %d\n", dims[0], dims[1], dims[2])
	fmt.Fprintf(&hdr, "ElementType = %s\n", met)
	fmt.Fprintf(&hdr, "ElementDataFile = %s\n", localPayload)

	if _, err := io.WriteString(w, hdr.String()); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("failed to write payload: %w", err)
	}
	return nil
}

func encodeSamples(img *imaging.Image) []byte {
	typ := img.PixelType()
	data := img.Data()
	raw := make([]byte, len(data)*typ.BytesPerSample())
	switch typ {
	case imaging.UInt8:
		for i, v := range data {
			raw[i] = uint8(v)
		}
	case imaging.UInt16:
		for i, v := range data {
			binary.LittleEndian.PutUint16(raw[i*2:], uint16(v))
		}
	case imaging.Int16:
		for i, v := range data {
			binary.LittleEndian.PutUint16(raw[i*2:], uint16(int16(v)))
		}
	case imaging.Int32:
		for i, v := range data {
			binary.LittleEndian.PutUint32(raw[i*4:], uint32(int32(v)))
		}
	case imaging.Float32:
		for i, v := range data {
			binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(float32(v)))
		}
	case imaging.Float64:
		for i, v := range data {
			binary.LittleEndian.PutUint64(raw[i*8:], math.Float64bits(v))
		}
	}
	return raw
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func boolWord(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
