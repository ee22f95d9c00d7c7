package frontend

import "errors"

// Standard errors returned by the frontend.
var (
	// ErrNotBound indicates the app has no rpc core bound yet.
	ErrNotBound = errors.New("frontend not bound to rpc core")

	// ErrNoFocusedView indicates a view-scoped command was issued with no
	// view focused.
	ErrNoFocusedView = errors.New("no focused view")
)
