// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package sps30 provides a driver for the Sensirion SPS30 particulate
// matter sensor.
//
// The sensor measures mass concentrations for particles up to 1.0, 2.5,
// 4.0 and 10 µm, number concentrations for particles up to 0.5, 1.0, 2.5,
// 4.0 and 10 µm, and the typical particle size. Readings update once per
// second while the device is in measurement mode.
//
// Refer to the datasheet for more information.
//
// https://sensirion.com/media/documents/8600FF88/616542B5/Sensirion_PM_Sensors_Datasheet_SPS30.pdf
package sps30
