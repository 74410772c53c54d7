package bulletin

import (
	"errors"
	"fmt"
)

// ErrUnexpectedEOF reports a bulletin that ends in the middle of a grammar
// production.
var ErrUnexpectedEOF = errors.New("bulletin: unexpected end of file")

// UnexpectedTokenError reports a token that does not fit the grammar at the
// position it was found.
type UnexpectedTokenError struct {
	Found    Token
	Expected string
}

func (e *UnexpectedTokenError) Error() string {
	return fmt.Sprintf("bulletin: unexpected %s, expected %s", e.Found, e.Expected)
}

// ValidationError reports structurally valid input whose content is
// unusable, such as a malformed date or a bulletin with no future outages.
type ValidationError struct {
	Context string
}

func (e *ValidationError) Error() string {
	return "bulletin: " + e.Context
}
