package marshal

import (
	"reflect"
	"time"
)

// Both tables are append only. A deprecated entry is never written again but
// stays readable at its index for older senders.

type classEntry struct {
	t          reflect.Type
	deprecated bool
}

type objectEntry struct {
	v          any
	deprecated bool
}

var classTable = []classEntry{
	{t: reflect.TypeOf("")},
	{t: reflect.TypeOf(int64(0))},
	{t: reflect.TypeOf(float64(0))},
	{t: reflect.TypeOf(false)},
	{t: reflect.TypeOf([]byte(nil))},
	{t: reflect.TypeOf([]any(nil))},
	{t: reflect.TypeOf(map[string]any(nil))},
	{t: reflect.TypeOf(int32(0)), deprecated: true},
	{t: reflect.TypeOf(time.Time{})},
	{t: reflect.TypeOf(int(0))},
}

var objectTable = []objectEntry{
	{v: nil},
	{v: true},
	{v: false},
	{v: ""},
	{v: struct{}{}, deprecated: true},
}

// write views, built once
var (
	classWriteIndex  = buildClassWriteIndex()
	objectWriteIndex = buildObjectWriteIndex()
)

func buildClassWriteIndex() map[reflect.Type]byte {
	m := make(map[reflect.Type]byte, len(classTable))
	for i, e := range classTable {
		if e.deprecated {
			continue
		}
		m[e.t] = byte(i)
	}
	return m
}

func buildObjectWriteIndex() []int {
	s := make([]int, 0, len(objectTable))
	for i, e := range objectTable {
		if e.deprecated {
			continue
		}
		s = append(s, i)
	}
	return s
}

func classForWrite(t reflect.Type) (byte, bool) {
	i, found := classWriteIndex[t]
	return i, found
}

func classForRead(i byte) (reflect.Type, bool) {
	if int(i) >= len(classTable) {
		return nil, false
	}
	return classTable[i].t, true
}

func objectForWrite(v any) (byte, bool) {
	for _, i := range objectWriteIndex {
		if objectTable[i].v == v {
			return byte(i), true
		}
	}
	return 0, false
}

func objectForRead(i byte) (any, bool) {
	if int(i) >= len(objectTable) {
		return nil, false
	}
	return objectTable[i].v, true
}
