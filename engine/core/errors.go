package core

import (
	"errors"
)

var (
	ErrInvalidConfig       = errors.New("invalid configuration")
	ErrResourceCreation    = errors.New("resource creation failed")
	ErrMapFailed           = errors.New("failed to map resource memory")
	ErrUploadTooLarge      = errors.New("upload larger than resource")
	ErrPipelineUnavailable = errors.New("pipeline state unavailable")
	ErrFrameInFlight       = errors.New("frame slot still in flight")
	ErrDeviceLost          = errors.New("device lost")
	ErrSwapchainBooting    = errors.New("swapchain resized or recreated, booting")
	ErrUnknown             = errors.New("unknown")
)
