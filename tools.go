//go:build tools

package tools

// Tool dependencies tracked as blank imports so go.mod pins their
// versions. Run: mockery (from the repo root) to regenerate mocks.
import (
	_ "github.com/vektra/mockery/v2"
)
