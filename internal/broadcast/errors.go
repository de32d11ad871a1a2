package broadcast

import "errors"

var errPanic = errors.New("subscriber panicked during send")
