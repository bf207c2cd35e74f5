package gpu

import (
	"errors"

	"github.com/spaghettifunk/ember/engine/core"
)

var (
	ErrDeviceRemoved = core.ErrDeviceRemoved
	ErrOutOfMemory   = errors.New("gpu: out of memory")
	ErrUnsupported   = errors.New("gpu: unsupported operation")
	ErrInvalidCall   = errors.New("gpu: invalid call")
)
