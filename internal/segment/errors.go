package segment

import "errors"

// ErrMalformedRecord indicates a segment table row could not be parsed.
var ErrMalformedRecord = errors.New("malformed segment record")
