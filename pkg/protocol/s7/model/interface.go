package model

import (
	"time"

	s7 "s7panel/pkg/protocol/s7/runtime"
)

var _ S7Modeler = (*S71200)(nil)
var _ S7Modeler = (*S71500)(nil)

var S7Modelers = map[string]S7Modeler{
	"s71200": &S71200{},
	"s71500": &S71500{},
}

// S7Modeler opens sessions for one family of controllers.
type S7Modeler interface {
	NewSession(address *s7.S7Address, timeout time.Duration) (s7.Session, error)
}
