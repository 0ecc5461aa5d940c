package output

import "errors"

// ErrClosed is returned by Write, Close and Abort once the writer has been
// finalized.
var ErrClosed = errors.New("output: writer already finalized")
