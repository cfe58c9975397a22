package message

import (
	"strings"
)

type MethodDescriptor struct {
	Name       string   `json:"name"`
	ParamTypes []string `json:"param_types"`
}

func (m MethodDescriptor) Signature() string {
	return strings.Join(m.ParamTypes, ",")
}

func (m MethodDescriptor) String() string {
	return m.Name + "(" + m.Signature() + ")"
}

// Matches compares by exact name and parameter type names.
func (m MethodDescriptor) Matches(name string, paramTypes []string) bool {
	if m.Name != name || len(m.ParamTypes) != len(paramTypes) {
		return false
	}
	for i := range paramTypes {
		if m.ParamTypes[i] != paramTypes[i] {
			return false
		}
	}
	return true
}

// ParseSignature splits a comma separated parameter type list; empty means none.
func ParseSignature(signature string) []string {
	if signature == "" {
		return nil
	}
	return strings.Split(signature, ",")
}
