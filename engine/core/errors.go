package core

import (
	"errors"

	"github.com/spaghettifunk/ember/engine/containers"
)

var (
	ErrSwapchainBooting = errors.New("swapchain resized or recreated, booting")
	ErrUnknown          = errors.New("unknown")

	// device
	ErrCapabilityMissing  = errors.New("required device capability is missing")
	ErrDeviceRemoved      = errors.New("device removed")
	ErrResourceNotCreated = errors.New("resource used before it was created")

	// descriptors
	ErrDescriptorPoolExhausted = errors.New("descriptor pool exhausted")
	ErrStaleDescriptor         = errors.New("descriptor view is no longer valid")
	ErrWrongDescriptorKind     = errors.New("descriptor view has the wrong kind for this operation")

	// pipelines and root signatures
	ErrNotBuilt     = errors.New("object used before Build")
	ErrAlreadyBuilt = errors.New("object already built")
	ErrUnknownSlot  = errors.New("no root parameter declared for slot")
	ErrSlotDeclared = errors.New("root parameter already declared for slot")

	ErrInvalidHandle  = containers.ErrInvalidHandle
	ErrShaderNotFound = errors.New("shader bytecode not found")
)
