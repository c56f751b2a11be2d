package main

import (
	"github.com/edgexfoundry/device-sdk-go/v4/pkg/startup"

	device "github.com/linjuya-lu/device-tracker-go"
	"github.com/linjuya-lu/device-tracker-go/internal/driver"
)

const (
	serviceName string = "device-tracker"
)

func main() {
	d := driver.NewTrackerDriver()
	startup.Bootstrap(serviceName, device.Version, d)
}
