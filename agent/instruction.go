package agent

import "github.com/meshkit-ai/meshkit/core"

// InstructionProvider supplies dynamic instruction text at runtime.
// Implementations can derive instructions from the incoming request,
// environment, or any other source.
type InstructionProvider interface {
	Instruction(req *core.ChatRequest) (string, error)
}

// InstructionFunc adapts an ordinary function to an InstructionProvider.
type InstructionFunc func(req *core.ChatRequest) (string, error)

// Instruction implements InstructionProvider.
func (f InstructionFunc) Instruction(req *core.ChatRequest) (string, error) { return f(req) }

// Instruction represents either a static instruction string or a dynamic
// provider, mirroring a string | provider union in a Go-idiomatic way.
type Instruction struct {
	text     string
	provider InstructionProvider
}

// NewInstructionFromText creates an Instruction from a static string.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p InstructionProvider) Instruction {
	return Instruction{provider: p}
}

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(req *core.ChatRequest) (string, error)) Instruction {
	return Instruction{provider: InstructionFunc(f)}
}

// IsStatic reports whether the instruction is backed by a static string.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// Resolve returns the instruction text, invoking the provider if needed.
func (i Instruction) Resolve(req *core.ChatRequest) (string, error) {
	if i.provider != nil {
		return i.provider.Instruction(req)
	}
	return i.text, nil
}
