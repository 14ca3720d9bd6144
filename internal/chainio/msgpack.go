package chainio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"slices"
	"sort"
)

// documentValue lowers doc into the generic tree understood by the msgpack encoder.
func documentValue(doc Document) map[string]interface{} {
	states := make([]interface{}, 0, len(doc.States))
	for _, s := range doc.States {
		ts := make([]interface{}, 0, len(s.Transitions))
		for _, t := range s.Transitions {
			ts = append(ts, map[string]interface{}{
				"to":          stringsValue(t.To),
				"duration":    t.Duration,
				"probability": t.Probability,
			})
		}
		states = append(states, map[string]interface{}{
			"held":        stringsValue(s.Held),
			"transitions": ts,
		})
	}
	return map[string]interface{}{
		"version": int64(doc.Version),
		"states":  states,
	}
}

func stringsValue(in []string) []interface{} {
	out := make([]interface{}, 0, len(in))
	for _, s := range in {
		out = append(out, s)
	}
	return out
}

// checkKeys rejects any map key outside allowed.
func checkKeys(m map[interface{}]interface{}, allowed ...string) error {
	for k := range m {
		name, ok := k.(string)
		if !ok || !slices.Contains(allowed, name) {
			return fmt.Errorf("unknown field %v", k)
		}
	}
	return nil
}

func documentFromValue(value interface{}) (Document, error) {
	root, ok := value.(map[interface{}]interface{})
	if !ok {
		return Document{}, fmt.Errorf("msgpack: expected map at top level, got %T", value)
	}
	if err := checkKeys(root, "version", "states"); err != nil {
		return Document{}, fmt.Errorf("msgpack: %w", err)
	}
	version, ok := toInt64(root["version"])
	if !ok {
		return Document{}, fmt.Errorf("msgpack: missing or invalid version")
	}
	rawStates, ok := root["states"].([]interface{})
	if !ok {
		return Document{}, fmt.Errorf("msgpack: missing or invalid states")
	}
	doc := Document{Version: int(version), States: make([]StateEntry, 0, len(rawStates))}
	for i, raw := range rawStates {
		entry, err := stateFromValue(raw)
		if err != nil {
			return Document{}, fmt.Errorf("msgpack: state %d: %w", i, err)
		}
		doc.States = append(doc.States, entry)
	}
	return doc, nil
}

func stateFromValue(value interface{}) (StateEntry, error) {
	m, ok := value.(map[interface{}]interface{})
	if !ok {
		return StateEntry{}, fmt.Errorf("expected map, got %T", value)
	}
	if err := checkKeys(m, "held", "transitions"); err != nil {
		return StateEntry{}, err
	}
	held, ok := toStringSlice(m["held"])
	if !ok {
		return StateEntry{}, fmt.Errorf("invalid held keys")
	}
	rawTs, ok := m["transitions"].([]interface{})
	if !ok {
		return StateEntry{}, fmt.Errorf("invalid transitions")
	}
	entry := StateEntry{Held: held, Transitions: make([]TransitionEntry, 0, len(rawTs))}
	for i, raw := range rawTs {
		tm, ok := raw.(map[interface{}]interface{})
		if !ok {
			return StateEntry{}, fmt.Errorf("transition %d: expected map, got %T", i, raw)
		}
		if err := checkKeys(tm, "to", "duration", "probability"); err != nil {
			return StateEntry{}, fmt.Errorf("transition %d: %w", i, err)
		}
		to, ok := toStringSlice(tm["to"])
		if !ok {
			return StateEntry{}, fmt.Errorf("transition %d: invalid destination", i)
		}
		dur, ok := toInt64(tm["duration"])
		if !ok {
			return StateEntry{}, fmt.Errorf("transition %d: invalid duration", i)
		}
		prob, ok := toFloat64(tm["probability"])
		if !ok {
			return StateEntry{}, fmt.Errorf("transition %d: invalid probability", i)
		}
		entry.Transitions = append(entry.Transitions, TransitionEntry{To: to, Duration: dur, Probability: prob})
	}
	return entry, nil
}

func toInt64(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case int64:
		return val, true
	case uint64:
		if val > math.MaxInt64 {
			return 0, false
		}
		return int64(val), true
	}
	return 0, false
}

func toFloat64(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	}
	return 0, false
}

func toStringSlice(v interface{}) ([]string, bool) {
	items, ok := v.([]interface{})
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

func encodeMsgpack(w io.Writer, value interface{}) error {
	bw := bufio.NewWriter(w)
	enc := msgpackEncoder{w: bw}
	if err := enc.encodeValue(value); err != nil {
		return err
	}
	return bw.Flush()
}

type msgpackEncoder struct {
	w *bufio.Writer
}

func (e *msgpackEncoder) encodeValue(value interface{}) error {
	switch v := value.(type) {
	case nil:
		return e.w.WriteByte(0xc0)
	case bool:
		if v {
			return e.w.WriteByte(0xc3)
		}
		return e.w.WriteByte(0xc2)
	case int:
		return e.encodeInt(int64(v))
	case int64:
		return e.encodeInt(v)
	case float64:
		return e.writePrefixed(0xcb, math.Float64bits(v), 8)
	case string:
		return e.encodeString(v)
	case []interface{}:
		if err := e.writeLength(len(v), 0x90, 0xdc, 0xdd); err != nil {
			return err
		}
		for _, item := range v {
			if err := e.encodeValue(item); err != nil {
				return err
			}
		}
		return nil
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if err := e.writeLength(len(keys), 0x80, 0xde, 0xdf); err != nil {
			return err
		}
		for _, k := range keys {
			if err := e.encodeString(k); err != nil {
				return err
			}
			if err := e.encodeValue(v[k]); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("msgpack: unsupported type %T", value)
}

func (e *msgpackEncoder) encodeInt(v int64) error {
	switch {
	case v >= 0 && v <= 0x7f:
		return e.w.WriteByte(byte(v))
	case v < 0 && v >= -32:
		return e.w.WriteByte(byte(int8(v)))
	case v >= math.MinInt32 && v <= math.MaxInt32:
		return e.writePrefixed(0xd2, uint64(uint32(int32(v))), 4)
	}
	return e.writePrefixed(0xd3, uint64(v), 8)
}

func (e *msgpackEncoder) encodeString(s string) error {
	n := len(s)
	var err error
	switch {
	case n <= 31:
		err = e.w.WriteByte(0xa0 | byte(n))
	case n <= math.MaxUint8:
		err = e.writePrefixed(0xd9, uint64(n), 1)
	case n <= math.MaxUint16:
		err = e.writePrefixed(0xda, uint64(n), 2)
	default:
		err = e.writePrefixed(0xdb, uint64(n), 4)
	}
	if err != nil {
		return err
	}
	_, err = e.w.WriteString(s)
	return err
}

// writeLength writes a fix, 16-bit or 32-bit container header.
func (e *msgpackEncoder) writeLength(n int, fix, p16, p32 byte) error {
	switch {
	case n <= 15:
		return e.w.WriteByte(fix | byte(n))
	case n <= math.MaxUint16:
		return e.writePrefixed(p16, uint64(n), 2)
	}
	return e.writePrefixed(p32, uint64(n), 4)
}

func (e *msgpackEncoder) writePrefixed(prefix byte, v uint64, size int) error {
	var buf [9]byte
	buf[0] = prefix
	switch size {
	case 1:
		buf[1] = byte(v)
	case 2:
		binary.BigEndian.PutUint16(buf[1:], uint16(v))
	case 4:
		binary.BigEndian.PutUint32(buf[1:], uint32(v))
	case 8:
		binary.BigEndian.PutUint64(buf[1:], v)
	}
	_, err := e.w.Write(buf[:1+size])
	return err
}

func decodeMsgpack(r io.Reader) (interface{}, error) {
	dec := msgpackDecoder{r: bufio.NewReader(r)}
	return dec.decodeValue()
}

type msgpackDecoder struct {
	r *bufio.Reader
}

func (d *msgpackDecoder) decodeValue() (interface{}, error) {
	b, err := d.r.ReadByte()
	if err != nil {
		return nil, err
	}

	switch {
	case b <= 0x7f:
		return int64(b), nil
	case b >= 0xe0:
		return int64(int8(b)), nil
	case b >= 0xa0 && b <= 0xbf:
		return d.readString(int(b & 0x1f))
	case b >= 0x90 && b <= 0x9f:
		return d.readArray(int(b & 0x0f))
	case b >= 0x80 && b <= 0x8f:
		return d.readMap(int(b & 0x0f))
	}

	switch b {
	case 0xc0:
		return nil, nil
	case 0xc2:
		return false, nil
	case 0xc3:
		return true, nil
	case 0xca:
		val, err := d.readUint(4)
		if err != nil {
			return nil, err
		}
		return float64(math.Float32frombits(uint32(val))), nil
	case 0xcb:
		val, err := d.readUint(8)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(val), nil
	case 0xcc, 0xcd, 0xce:
		val, err := d.readUint(1 << (b - 0xcc))
		if err != nil {
			return nil, err
		}
		return int64(val), nil
	case 0xcf:
		return d.readUint(8)
	case 0xd0:
		val, err := d.readUint(1)
		return int64(int8(val)), err
	case 0xd1:
		val, err := d.readUint(2)
		return int64(int16(val)), err
	case 0xd2:
		val, err := d.readUint(4)
		return int64(int32(val)), err
	case 0xd3:
		val, err := d.readUint(8)
		return int64(val), err
	case 0xd9, 0xda, 0xdb:
		length, err := d.readUint(1 << (b - 0xd9))
		if err != nil {
			return nil, err
		}
		return d.readString(int(length))
	case 0xdc, 0xdd:
		length, err := d.readUint(2 << (b - 0xdc))
		if err != nil {
			return nil, err
		}
		return d.readArray(int(length))
	case 0xde, 0xdf:
		length, err := d.readUint(2 << (b - 0xde))
		if err != nil {
			return nil, err
		}
		return d.readMap(int(length))
	default:
		return nil, fmt.Errorf("unsupported msgpack prefix 0x%x", b)
	}
}

func (d *msgpackDecoder) readArray(length int) ([]interface{}, error) {
	out := make([]interface{}, 0, min(length, 1024))
	for i := 0; i < length; i++ {
		val, err := d.decodeValue()
		if err != nil {
			return nil, err
		}
		out = append(out, val)
	}
	return out, nil
}

func (d *msgpackDecoder) readMap(length int) (map[interface{}]interface{}, error) {
	out := make(map[interface{}]interface{}, min(length, 1024))
	for i := 0; i < length; i++ {
		key, err := d.decodeValue()
		if err != nil {
			return nil, err
		}
		switch key.(type) {
		case string, int64, uint64:
		default:
			return nil, fmt.Errorf("msgpack: unsupported map key type %T", key)
		}
		val, err := d.decodeValue()
		if err != nil {
			return nil, err
		}
		out[key] = val
	}
	return out, nil
}

func (d *msgpackDecoder) readString(length int) (string, error) {
	if length < 0 {
		return "", fmt.Errorf("invalid length %d", length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// readUint reads a big-endian unsigned integer of size bytes.
func (d *msgpackDecoder) readUint(size int) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(d.r, buf[:size]); err != nil {
		return 0, err
	}
	switch size {
	case 1:
		return uint64(buf[0]), nil
	case 2:
		return uint64(binary.BigEndian.Uint16(buf[:2])), nil
	case 4:
		return uint64(binary.BigEndian.Uint32(buf[:4])), nil
	}
	return binary.BigEndian.Uint64(buf[:8]), nil
}
