package graph

import "errors"

// Common integrity errors.
var (
	ErrInvalidSignature  = errors.New("graph: invalid signature")
	ErrDanglingParent    = errors.New("graph: dangling parent hash")
	ErrMultipleRoots     = errors.New("graph: graph must have exactly one root")
	ErrGraphTampered     = errors.New("graph: content hash does not match link body")
	ErrUnknownAuthor     = errors.New("graph: cannot resolve author's signing key")
	ErrNoCommonAncestor  = errors.New("graph: merge branches share no ancestor")
	ErrRootMismatch      = errors.New("graph: graphs do not share a root")
	errInvalidHashLength = errors.New("graph: invalid hash length")
)
