package tools

import "fmt"

// ValidationError describes a tool-argument validation failure.
// Type is a machine-readable category ("args_invalid", "args_malformed",
// "wrong_tool"); Detail is human-readable.
type ValidationError struct {
	Type   string
	Tool   string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("tool %s: %s: %s", e.Tool, e.Type, e.Detail)
}
