package stream

import "errors"

// ErrTruncated is returned by RunSource.ReadNewRows when the source shrank
// under the reader; the caller must fall back to a full reload.
var ErrTruncated = errors.New("source truncated")
