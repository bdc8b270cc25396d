// platform/gpio_other.go
//go:build !linux

package platform

import (
	"pushbutton-go/errcode"
	"pushbutton-go/pinio"
)

// Character-device GPIO needs a Linux kernel. Other hosts get the fake
// backend only.
func NewChipPinFactory(chip string, pull pinio.Pull) (pinio.PinFactory, error) {
	return nil, &errcode.E{C: errcode.Unsupported, Op: "platform.NewChipPinFactory",
		Msg: "gpiochip backend requires linux"}
}
