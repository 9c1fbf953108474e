package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/geldb/gelclient/internal/gelerr"
)

// postgresEpoch is 2000-01-01T00:00:00Z, the reference point for all Gel
// temporal wire encodings (spec.md §4.1).
var postgresEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Writer accumulates an outbound message payload. It is the encode-side
// counterpart of Reader, modeled on the teacher's manual
// append(body, ...)/binary.BigEndian.PutUint32 accumulation in
// authenticatePG and sendPasswordMessage (internal/pool/pool.go).
type Writer struct {
	buf []byte
}

// NewWriter creates an empty Writer.
func NewWriter() *Writer { return &Writer{} }

// Bytes returns the accumulated payload.
func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) PutUint8(v uint8)   { w.buf = append(w.buf, v) }
func (w *Writer) PutInt8(v int8)     { w.buf = append(w.buf, byte(v)) }

func (w *Writer) PutUint16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) PutInt16(v int16) { w.PutUint16(uint16(v)) }

func (w *Writer) PutUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) PutInt32(v int32) { w.PutUint32(uint32(v)) }

func (w *Writer) PutUint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) PutInt64(v int64) { w.PutUint64(uint64(v)) }

// PutBytes writes a 4-byte big-endian length followed by raw bytes.
// Lengths larger than 2^31-1 are rejected on encode, per spec.md §4.1.
func (w *Writer) PutBytes(b []byte) error {
	if len(b) > 1<<31-1 {
		return gelerr.New(gelerr.CodeBinaryProtocolError, "byte string too long to encode")
	}
	w.PutUint32(uint32(len(b)))
	w.buf = append(w.buf, b...)
	return nil
}

// PutString writes a string using the same length-prefixed layout as bytes.
func (w *Writer) PutString(s string) error {
	return w.PutBytes([]byte(s))
}

// PutRaw appends bytes with no length prefix of their own — used by
// composite codecs that have already written an explicit length field.
func (w *Writer) PutRaw(b []byte) error {
	w.buf = append(w.buf, b...)
	return nil
}

// PutUUID writes a UUID as 16 raw bytes.
func (w *Writer) PutUUID(id uuid.UUID) {
	w.buf = append(w.buf, id[:]...)
}

// PutHeaders writes a 2-byte count followed by key/value entries. Counts
// greater than 2^16-1 are rejected, per spec.md §4.1.
func (w *Writer) PutHeaders(h map[uint16][]byte) error {
	if len(h) > 1<<16-1 {
		return gelerr.New(gelerr.CodeBinaryProtocolError, "too many headers to encode")
	}
	w.PutUint16(uint16(len(h)))
	for k, v := range h {
		w.PutUint16(k)
		if err := w.PutBytes(v); err != nil {
			return err
		}
	}
	return nil
}

// PutJSON writes the one-byte format tag (0x01) followed by the raw UTF-8
// JSON bytes, per spec.md §4.1.
func (w *Writer) PutJSON(data []byte) {
	w.PutUint8(0x01)
	w.buf = append(w.buf, data...)
}

// PutDuration writes a Gel duration: micros(i64), days(u32), months(u32).
// Gel durations forbid calendar components, so days/months are always 0
// when encoding from a time.Duration.
func (w *Writer) PutDuration(d time.Duration) {
	w.PutInt64(d.Microseconds())
	w.PutUint32(0)
	w.PutUint32(0)
}

// PutDatetime writes a micro-offset from the Postgres epoch (2000-01-01 UTC).
func (w *Writer) PutDatetime(t time.Time) {
	micros := t.UTC().Sub(postgresEpoch).Microseconds()
	w.PutInt64(micros)
}

// PutLocalDate writes a day-offset from the Postgres epoch.
func (w *Writer) PutLocalDate(t time.Time) {
	days := int32(t.UTC().Sub(postgresEpoch).Hours() / 24)
	w.PutInt32(days)
}

// PutLocalTime writes a micro-offset since local midnight; must be in
// [0, 86_400_000_000).
func (w *Writer) PutLocalTime(micros int64) error {
	if micros < 0 || micros >= 86_400_000_000 {
		return gelerr.New(gelerr.CodeInvalidValueError, "local_time out of range [0, 24h)")
	}
	w.PutInt64(micros)
	return nil
}

// PutLocalDatetime writes a micro-offset from the Postgres epoch, the same
// layout as PutDatetime but timezone-naive: t's wall-clock fields are taken
// as-is, with no UTC conversion applied first (local_datetime carries no
// zone on the wire).
func (w *Writer) PutLocalDatetime(t time.Time) {
	wall := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	w.PutInt64(wall.Sub(postgresEpoch).Microseconds())
}

// PutRelativeDuration writes Gel's cal::relative_duration: micros(i64),
// days(i32), months(i32). Unlike Duration, calendar components are
// permitted.
func (w *Writer) PutRelativeDuration(months, days int32, micros int64) {
	w.PutInt64(micros)
	w.PutInt32(days)
	w.PutInt32(months)
}

// PutDateDuration writes Gel's cal::date_duration: a reserved zero
// microseconds field, then days(i32), months(i32) — no time-of-day part.
func (w *Writer) PutDateDuration(months, days int32) {
	w.PutInt64(0)
	w.PutInt32(days)
	w.PutInt32(months)
}

// PutMemory writes Gel's cfg::memory as a raw byte count.
func (w *Writer) PutMemory(bytes int64) {
	w.PutInt64(bytes)
}

// PutPgVector writes ext::pgvector::vector using the pgvector extension's
// own wire layout (dim:u16, unused:u16, dim x float4) rather than the
// generic array codec's ndims/bounds framing, since pgvector is a
// BaseScalar, not an Array descriptor.
func (w *Writer) PutPgVector(vec []float32) error {
	if len(vec) > 1<<16-1 {
		return gelerr.New(gelerr.CodeBinaryProtocolError, "pgvector has too many dimensions to encode")
	}
	w.PutUint16(uint16(len(vec)))
	w.PutUint16(0)
	for _, f := range vec {
		w.PutUint32(math.Float32bits(f))
	}
	return nil
}

// PutDecimal writes a value in the Postgres-compatible NBASE-10000 layout:
// ndigits(u16), weight(i16), sign(u16), dscale(u16), digits([u16;ndigits]).
// Decimal normalizes leading/trailing zero digit-groups away, and 0 encodes
// as {sign:positive, weight:0, digits:[]}, per spec.md §4.1/§8.
func (w *Writer) PutDecimal(d decimal.Decimal) {
	digits, weight, negative := decomposeNBase10000(d)
	w.PutUint16(uint16(len(digits)))
	w.PutInt16(weight)
	if negative {
		w.PutUint16(0x4000)
	} else {
		w.PutUint16(0x0000)
	}
	dscale := uint16(0)
	if exp := -d.Exponent(); exp > 0 {
		dscale = uint16(exp)
	}
	w.PutUint16(dscale)
	for _, dg := range digits {
		w.PutUint16(dg)
	}
}

// PutBigInt writes a decimal value as a Gel bigint: identical layout to
// PutDecimal but dscale must be 0 (spec.md §4.1). d must have no fractional
// part.
func (w *Writer) PutBigInt(d decimal.Decimal) error {
	if d.Exponent() < 0 {
		return gelerr.New(gelerr.CodeInvalidValueError, "bigint value has a fractional part")
	}
	digits, weight, negative := decomposeNBase10000(d)
	w.PutUint16(uint16(len(digits)))
	w.PutInt16(weight)
	if negative {
		w.PutUint16(0x4000)
	} else {
		w.PutUint16(0x0000)
	}
	w.PutUint16(0)
	for _, dg := range digits {
		w.PutUint16(dg)
	}
	return nil
}

// Reader is a cursor over a single frame's already-buffered payload, the
// decode-side counterpart of Writer. A frame's payload is always fully
// buffered before parsing (FrameReader hands back a complete []byte), so
// Reader replaces the teacher's io.ReadFull calls with bounds-checked
// slice reads.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf for sequential decoding.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Remaining reports how many unconsumed bytes are left.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

// Done reports whether every byte has been consumed. A decode that leaves
// unconsumed bytes is an ExtraData error, per spec.md §4.1.
func (r *Reader) Done() bool { return r.pos >= len(r.buf) }

func (r *Reader) need(n int) error {
	if r.Remaining() < n {
		return gelerr.Newf(gelerr.CodeBinaryProtocolError, "unexpected end of message: need %d bytes, have %d", n, r.Remaining())
	}
	return nil
}

// Need exposes the bounds check for callers (e.g. descriptor codecs) that
// validate a length field before consuming it with Take.
func (r *Reader) Need(n int) error { return r.need(n) }

// Take consumes and returns the next n bytes verbatim, with no length
// prefix of its own — used by composite codecs that already read an
// explicit length field themselves.
func (r *Reader) Take(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	copy(b, r.buf[r.pos:r.pos+n])
	r.pos += n
	return b, nil
}

func (r *Reader) GetUint8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *Reader) GetInt8() (int8, error) {
	v, err := r.GetUint8()
	return int8(v), err
}

func (r *Reader) GetUint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *Reader) GetInt16() (int16, error) {
	v, err := r.GetUint16()
	return int16(v), err
}

func (r *Reader) GetUint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *Reader) GetInt32() (int32, error) {
	v, err := r.GetUint32()
	return int32(v), err
}

func (r *Reader) GetUint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *Reader) GetInt64() (int64, error) {
	v, err := r.GetUint64()
	return int64(v), err
}

// GetBytes reads a 4-byte length-prefixed byte string.
func (r *Reader) GetBytes() ([]byte, error) {
	n, err := r.GetUint32()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	copy(b, r.buf[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return b, nil
}

// GetString reads a length-prefixed UTF-8 string.
func (r *Reader) GetString() (string, error) {
	b, err := r.GetBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// GetUUID reads 16 raw bytes as a UUID.
func (r *Reader) GetUUID() (uuid.UUID, error) {
	if err := r.need(16); err != nil {
		return uuid.UUID{}, err
	}
	var id uuid.UUID
	copy(id[:], r.buf[r.pos:r.pos+16])
	r.pos += 16
	return id, nil
}

// GetHeaders reads a 2-byte count followed by key/value entries.
func (r *Reader) GetHeaders() (map[uint16][]byte, error) {
	n, err := r.GetUint16()
	if err != nil {
		return nil, err
	}
	h := make(map[uint16][]byte, n)
	for i := 0; i < int(n); i++ {
		k, err := r.GetUint16()
		if err != nil {
			return nil, err
		}
		v, err := r.GetBytes()
		if err != nil {
			return nil, err
		}
		h[k] = v
	}
	return h, nil
}

// GetJSON reads the one-byte format tag (must be 0x01) followed by the
// remaining bytes in the field as UTF-8 JSON.
func (r *Reader) GetJSON(fieldLen int) ([]byte, error) {
	format, err := r.GetUint8()
	if err != nil {
		return nil, err
	}
	if format != 0x01 {
		return nil, gelerr.Newf(gelerr.CodeBinaryProtocolError, "unsupported json format byte 0x%02x", format)
	}
	n := fieldLen - 1
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	copy(b, r.buf[r.pos:r.pos+n])
	r.pos += n
	return b, nil
}

// GetDuration reads micros(i64), days(u32), months(u32). days and months
// must be zero — Gel durations forbid calendar components — otherwise
// NonZeroReservedBytes is returned, per spec.md §4.1.
func (r *Reader) GetDuration() (time.Duration, error) {
	micros, err := r.GetInt64()
	if err != nil {
		return 0, err
	}
	days, err := r.GetUint32()
	if err != nil {
		return 0, err
	}
	months, err := r.GetUint32()
	if err != nil {
		return 0, err
	}
	if days != 0 || months != 0 {
		return 0, gelerr.New(gelerr.CodeBinaryProtocolError, "NonZeroReservedBytes: duration carries calendar components")
	}
	return time.Duration(micros) * time.Microsecond, nil
}

// GetDatetime reads a micro-offset from the Postgres epoch.
func (r *Reader) GetDatetime() (time.Time, error) {
	micros, err := r.GetInt64()
	if err != nil {
		return time.Time{}, err
	}
	return postgresEpoch.Add(time.Duration(micros) * time.Microsecond), nil
}

// GetLocalDate reads a day-offset from the Postgres epoch.
func (r *Reader) GetLocalDate() (time.Time, error) {
	days, err := r.GetInt32()
	if err != nil {
		return time.Time{}, err
	}
	return postgresEpoch.AddDate(0, 0, int(days)), nil
}

// GetLocalTime reads a micro-offset since local midnight, validated to lie
// in [0, 86_400_000_000).
func (r *Reader) GetLocalTime() (int64, error) {
	micros, err := r.GetInt64()
	if err != nil {
		return 0, err
	}
	if micros < 0 || micros >= 86_400_000_000 {
		return 0, gelerr.New(gelerr.CodeBinaryProtocolError, "local_time out of range [0, 24h)")
	}
	return micros, nil
}

// GetLocalDatetime reads a micro-offset from the Postgres epoch, the
// timezone-naive counterpart of GetDatetime.
func (r *Reader) GetLocalDatetime() (time.Time, error) {
	micros, err := r.GetInt64()
	if err != nil {
		return time.Time{}, err
	}
	return postgresEpoch.Add(time.Duration(micros) * time.Microsecond), nil
}

// GetRelativeDuration reads micros(i64), days(i32), months(i32).
func (r *Reader) GetRelativeDuration() (months, days int32, micros int64, err error) {
	micros, err = r.GetInt64()
	if err != nil {
		return 0, 0, 0, err
	}
	days, err = r.GetInt32()
	if err != nil {
		return 0, 0, 0, err
	}
	months, err = r.GetInt32()
	if err != nil {
		return 0, 0, 0, err
	}
	return months, days, micros, nil
}

// GetDateDuration reads a reserved microseconds field (must be zero),
// days(i32), months(i32).
func (r *Reader) GetDateDuration() (months, days int32, err error) {
	micros, err := r.GetInt64()
	if err != nil {
		return 0, 0, err
	}
	if micros != 0 {
		return 0, 0, gelerr.New(gelerr.CodeBinaryProtocolError, "NonZeroReservedBytes: date_duration carries a time component")
	}
	days, err = r.GetInt32()
	if err != nil {
		return 0, 0, err
	}
	months, err = r.GetInt32()
	if err != nil {
		return 0, 0, err
	}
	return months, days, nil
}

// GetMemory reads Gel's cfg::memory as a raw byte count.
func (r *Reader) GetMemory() (int64, error) {
	return r.GetInt64()
}

// GetPgVector reads ext::pgvector::vector's dim/unused/float4* layout.
func (r *Reader) GetPgVector() ([]float32, error) {
	dim, err := r.GetUint16()
	if err != nil {
		return nil, err
	}
	if _, err := r.GetUint16(); err != nil { // unused
		return nil, err
	}
	vec := make([]float32, dim)
	for i := range vec {
		bits, err := r.GetUint32()
		if err != nil {
			return nil, err
		}
		vec[i] = math.Float32frombits(bits)
	}
	return vec, nil
}

// GetDecimal reads the NBASE-10000 layout into a decimal.Decimal.
func (r *Reader) GetDecimal() (decimal.Decimal, error) {
	return r.readNBase10000(false)
}

// GetBigInt reads the NBASE-10000 layout, requiring dscale == 0.
func (r *Reader) GetBigInt() (decimal.Decimal, error) {
	return r.readNBase10000(true)
}

func (r *Reader) readNBase10000(isBigInt bool) (decimal.Decimal, error) {
	ndigits, err := r.GetUint16()
	if err != nil {
		return decimal.Decimal{}, err
	}
	weight, err := r.GetInt16()
	if err != nil {
		return decimal.Decimal{}, err
	}
	sign, err := r.GetUint16()
	if err != nil {
		return decimal.Decimal{}, err
	}
	if sign != 0x0000 && sign != 0x4000 {
		return decimal.Decimal{}, gelerr.Newf(gelerr.CodeBinaryProtocolError, "invalid decimal sign 0x%04x", sign)
	}
	dscale, err := r.GetUint16()
	if err != nil {
		return decimal.Decimal{}, err
	}
	if isBigInt && dscale != 0 {
		return decimal.Decimal{}, gelerr.New(gelerr.CodeBinaryProtocolError, "bigint dscale must be 0")
	}
	digits := make([]uint16, ndigits)
	for i := range digits {
		d, err := r.GetUint16()
		if err != nil {
			return decimal.Decimal{}, err
		}
		if d > 9999 {
			return decimal.Decimal{}, gelerr.Newf(gelerr.CodeBinaryProtocolError, "decimal digit %d out of NBASE-10000 range", d)
		}
		digits[i] = d
	}
	return composeNBase10000(digits, weight, sign == 0x4000, dscale), nil
}

// decomposeNBase10000 splits a decimal.Decimal into Postgres NBASE-10000
// digit groups, a weight (index of the most-significant group relative to
// the decimal point), and a sign. Leading/trailing zero groups are
// stripped so zero normalizes to {negative:false, weight:0, digits:[]}.
func decomposeNBase10000(d decimal.Decimal) (digits []uint16, weight int16, negative bool) {
	if d.IsZero() {
		return nil, 0, false
	}
	negative = d.Sign() < 0
	abs := d.Abs()

	exp := int(abs.Exponent())
	coeff := abs.Coefficient() // *big.Int, value = coeff * 10^exp

	// Scale the coefficient so its value is an integer number of NBASE
	// groups: shift left until the exponent is a multiple of 4, then group
	// every 4 decimal digits from the least-significant end.
	shift := ((exp % 4) + 4) % 4
	scaled := new(bigIntAlias).Set(coeff)
	if shift != 0 {
		scaled.Mul(scaled, pow10(shift))
		exp -= shift
	}

	groupExp := exp / 4 // each group represents 10^(4*groupIndex) within the integer
	s := scaled.String()
	// Pad so len(s) is a multiple of 4 for clean 4-digit grouping.
	for len(s)%4 != 0 {
		s = "0" + s
	}
	numGroups := len(s) / 4
	allDigits := make([]uint16, numGroups)
	for i := 0; i < numGroups; i++ {
		var v uint16
		fmt.Sscanf(s[i*4:i*4+4], "%d", &v)
		allDigits[i] = v
	}

	// Strip leading (most-significant, index 0) zero groups.
	start := 0
	for start < len(allDigits) && allDigits[start] == 0 {
		start++
	}
	// Strip trailing (least-significant) zero groups. The weight is the
	// position of the most-significant kept group, so shortening from the
	// low end leaves it unchanged.
	end := len(allDigits)
	for end > start && allDigits[end-1] == 0 {
		end--
	}
	digits = allDigits[start:end]
	weight = int16(numGroups-1-start) + int16(groupExp)
	return digits, weight, negative
}

// composeNBase10000 reconstructs a decimal.Decimal from NBASE-10000 groups.
// dscale is metadata describing the declared display scale; the digit
// groups themselves already encode the exact value (Postgres pads the
// least-significant group with zeros to the 4-digit boundary), so no
// further rounding against dscale is needed to recover the value.
func composeNBase10000(digits []uint16, weight int16, negative bool, _ uint16) decimal.Decimal {
	if len(digits) == 0 {
		return decimal.Zero
	}
	acc := new(bigIntAlias)
	for _, dg := range digits {
		acc.Mul(acc, big10000)
		acc.Add(acc, bigIntFromUint16(dg))
	}
	// The most-significant group has positional weight `weight`; the value
	// is acc * 10^(4*(weight - (len(digits)-1))).
	groupShift := int(weight) - (len(digits) - 1)
	exp := groupShift * 4

	result := decimal.NewFromBigInt(acc, int32(exp))
	if negative {
		result = result.Neg()
	}
	return result
}
