//go:build examples
// +build examples

// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sps30_test

import (
	"fmt"
	"log"
	"time"

	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/sps30"
	"periph.io/x/host/v3"
)

// basic example program for the sps30 sensor using this library.
//
// To execute this as a stand-alone program:
//
// Copy the file example_test.go to a new directory.
// rename the file to main.go
// rename the Example() function to main, and the package to main
//
// execute:
//
//	go mod init mydomain.com/sps30
//	go mod tidy
//	go build -o main main.go
//	./main
func Example() {
	fmt.Println("sps30 example program")
	if _, err := host.Init(); err != nil {
		fmt.Println(err)
	}
	bus, err := i2creg.Open("")
	if err != nil {
		log.Fatal(err)
	}
	defer bus.Close()

	dev, err := sps30.NewI2C(bus, sps30.SensorAddress)
	if err != nil {
		log.Fatal(err)
	}

	sn, err := dev.SerialNumber()
	if err == nil {
		fmt.Printf("serial number: %s\n", sn)
	} else {
		fmt.Println(err)
	}

	ch, err := dev.SenseContinuous(2 * time.Second)
	if err != nil {
		log.Fatal(err)
	}
	go func() {
		time.Sleep(20 * time.Second)
		_ = dev.Halt()
	}()
	for m := range ch {
		fmt.Println(m.String())
	}
	// Output: PM1: 1.06µg/m³ PM2.5: 2.30µg/m³ PM4: 2.50µg/m³ PM10: 2.70µg/m³ TypicalParticleSize: 0.54µm
}
