// Package api declares HTTP contracts and route registration helpers.
package api

import "errors"

// ErrBadRequest tags request decoding and validation failures.
var ErrBadRequest = errors.New("bad request")
