package locking

import "errors"

var ErrNotObtained = errors.New("lock not obtained")
