package db

import "time"

// ResolveLocation turns a Timezone config value into a *time.Location.
// TimezoneSpec values (fixed offsets like "+05:30") are parsed by hand
// since time.LoadLocation only resolves IANA names.
func ResolveLocation(tz Timezone) (*time.Location, error) {
	switch tz.Tag {
	case TimezoneNamed:
		return time.LoadLocation(tz.Value)
	case TimezoneSpec:
		return parseOffsetSpec(tz.Value)
	default:
		return time.UTC, nil
	}
}

// parseOffsetSpec parses a "+HH:MM"/"-HH:MM" fixed offset into a
// *time.Location with no name-table lookup.
func parseOffsetSpec(spec string) (*time.Location, error) {
	t, err := time.Parse("-07:00", spec)
	if err != nil {
		return nil, err
	}
	_, offset := t.Zone()
	return time.FixedZone(spec, offset), nil
}

// normalizeOut converts any time.Time binding from the connection's
// configured zone into UTC — the assumed session zone every driver this
// package supports normalizes parameters into — before it reaches the
// driver (spec.md §4.4: "on write, date-time bindings are converted from
// the configured zone to the connection's session zone").
func normalizeOut(bindings []any, loc *time.Location) []any {
	if loc == nil || len(bindings) == 0 {
		return bindings
	}
	out := make([]any, len(bindings))
	for i, v := range bindings {
		if t, ok := v.(time.Time); ok {
			out[i] = t.In(loc).UTC()
			continue
		}
		out[i] = v
	}
	return out
}

// normalizeInPlace converts every time.Time value in row from UTC (the
// session zone) into the connection's configured zone, so caller code
// never has to think about the server's session zone (spec.md §4.4/§9:
// "a target implementation must perform this before the value hits user
// code").
func normalizeInPlace(row map[string]any, loc *time.Location) {
	if loc == nil {
		return
	}
	for k, v := range row {
		if t, ok := v.(time.Time); ok {
			row[k] = t.UTC().In(loc)
		}
	}
}
