package memory

import "errors"

var errNotInteger = errors.New("value is not an integer")
