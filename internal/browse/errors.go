package browse

import "errors"

// ErrPathEscapes is returned when a browse path canonicalizes outside the
// job's destination root. The HTTP layer maps it to 403.
var ErrPathEscapes = errors.New("path escapes destination root")

// ErrNotFound is returned when the browse path does not exist at the
// destination. The HTTP layer maps it to 404.
var ErrNotFound = errors.New("path not found")
