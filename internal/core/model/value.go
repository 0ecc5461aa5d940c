package model

import (
	"encoding/json"
	"fmt"
)

type ValueKind int

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindBool
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	default:
		return "null"
	}
}

// Value is a scalar attribute value. Numbers keep the server's literal
// so re-encoding is byte stable.
type Value struct {
	Kind ValueKind
	Str  string
	Num  json.Number
	Bool bool
}

func Null() Value { return Value{Kind: KindNull} }
func String(s string) Value { return Value{Kind: KindString, Str: s} }
func Number(n json.Number) Value { return Value{Kind: KindNumber, Num: n} }
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }
func (v Value) IsNull() bool { return v.Kind == KindNull }

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindString:
		return json.Marshal(v.Str)
	case KindNumber:
		if v.Num == "" {
			return []byte("null"), nil
		}
		return []byte(v.Num), nil
	case KindBool:
		if v.Bool {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case KindNull:
		return []byte("null"), nil
	default:
		return nil, fmt.Errorf("unknown value kind %d", v.Kind)
	}
}
