package portal

import "github.com/godbus/dbus/v5"

// streamInfo is one granted stream from Start's results: a PipeWire node id
// plus whatever geometry the compositor chose to report. Absent properties
// stay zero.
type streamInfo struct {
	nodeID uint32
	width  int
	height int
	frNum  uint32
	frDen  uint32
}

// parseStreams decodes the a(ua{sv}) streams payload. Depending on the bus
// implementation the outer array arrives as [][]interface{} or as
// []interface{} of struct slices; both are handled. Malformed entries are
// skipped rather than failing the grant.
func parseStreams(v interface{}) []streamInfo {
	var entries [][]interface{}
	switch raw := v.(type) {
	case [][]interface{}:
		entries = raw
	case []interface{}:
		for _, e := range raw {
			if entry, ok := e.([]interface{}); ok {
				entries = append(entries, entry)
			}
		}
	default:
		return nil
	}

	var out []streamInfo
	for _, entry := range entries {
		if si, ok := parseStreamEntry(entry); ok {
			out = append(out, si)
		}
	}
	return out
}

func parseStreamEntry(entry []interface{}) (streamInfo, bool) {
	if len(entry) < 2 {
		return streamInfo{}, false
	}
	node, ok := toUint32(entry[0])
	if !ok {
		return streamInfo{}, false
	}
	si := streamInfo{nodeID: node}

	props, _ := entry[1].(map[string]dbus.Variant)
	if props == nil {
		return si, true
	}
	if sz, ok := props["size"]; ok {
		if pair, ok := sz.Value().([]interface{}); ok && len(pair) >= 2 {
			si.width, _ = toInt(pair[0])
			si.height, _ = toInt(pair[1])
		}
	}
	if fr, ok := props["framerate"]; ok {
		if pair, ok := fr.Value().([]interface{}); ok && len(pair) >= 2 {
			si.frNum, _ = toUint32(pair[0])
			si.frDen, _ = toUint32(pair[1])
		}
	}
	return si, true
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	}
	return 0, false
}

func toUint32(v interface{}) (uint32, bool) {
	switch n := v.(type) {
	case uint32:
		return n, true
	case int32:
		if n < 0 {
			return 0, false
		}
		return uint32(n), true
	case int:
		if n < 0 {
			return 0, false
		}
		return uint32(n), true
	case uint64:
		return uint32(n), true
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint32(n), true
	}
	return 0, false
}
