package loader

import "github.com/gomlx/gomlx/pkg/core/tensors"

// Device receives finished batch tensors for accelerator-memory placement.
// How a device is selected is up to the caller; the pipeline only needs the
// hand-off boundary.
type Device interface {
	Transfer(t *tensors.Tensor) (*tensors.Tensor, error)
}

// HostDevice leaves tensors in host memory. It is the default when
// to_accelerator is enabled without an explicit device.
type HostDevice struct{}

// Transfer returns the tensor unchanged.
func (HostDevice) Transfer(t *tensors.Tensor) (*tensors.Tensor, error) { return t, nil }
