package conversation

import "github.com/pkg/errors"

var (
	ErrAnchorNotFound  = errors.New("anchor node not found")
	ErrNodeNotFound    = errors.New("node not found")
	ErrInvalidRole     = errors.New("invalid role")
	ErrMalformedRecord = errors.New("malformed conversation record")
)
