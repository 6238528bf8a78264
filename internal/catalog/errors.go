package catalog

import "errors"

var ErrNilStore = errors.New("store cannot be nil")
