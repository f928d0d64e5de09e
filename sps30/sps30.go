// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sps30

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/devices/v3/common"
)

const (
	// SensorAddress is the only i2c address this device supports.
	SensorAddress uint16 = 0x69

	// Output format argument for the start measurement command. Selects
	// big-endian IEEE-754 float output. The second argument byte is
	// reserved and must be zero.
	formatFloat byte = 0x03

	// The device updates its measurement registers once per second.
	minSampleDuration = time.Second

	// Maximum time Sense waits for the data-ready flag after starting
	// measurement mode. The fan needs about a second to spin up.
	senseTimeout = 5 * time.Second
)

// Errors returned by the driver. Checksum failures and state errors are
// distinct classes: the former indicate corruption on the bus, the latter a
// command issued in the wrong device mode.
var (
	// ErrChecksum is returned when a response fails CRC validation. No
	// partial data is returned alongside it.
	ErrChecksum = errors.New("sps30: response failed crc validation")
	// ErrNotMeasuring is returned by operations that require the sensor to
	// be in measurement mode.
	ErrNotMeasuring = errors.New("sps30: sensor is not in measurement mode")
	// ErrMeasuring is returned by operations that are only valid while the
	// sensor is idle.
	ErrMeasuring = errors.New("sps30: command not permitted in measurement mode")
)

type cmd uint16

// Structure to simplify sending commands to the device.
type command struct {
	// The 16-bit command word.
	cmdWord cmd
	// The expected number of response bytes, including CRC bytes. 0 if
	// the command returns nothing.
	responseSize int
	// Time for the device to execute the command before the response can
	// be read, or before the next command may be sent.
	execTime time.Duration
}

// The implemented command set.

var cmdStartMeasurement = command{
	cmdWord:  0x0010,
	execTime: 20 * time.Millisecond,
}
var cmdStopMeasurement = command{
	cmdWord:  0x0104,
	execTime: 20 * time.Millisecond,
}
var cmdDataReady = command{
	cmdWord:      0x0202,
	responseSize: 3,
	execTime:     5 * time.Millisecond,
}
var cmdReadMeasurement = command{
	cmdWord:      0x0300,
	responseSize: 60,
	execTime:     5 * time.Millisecond,
}
var cmdSleep = command{
	cmdWord:  0x1001,
	execTime: 5 * time.Millisecond,
}
var cmdWakeUp = command{
	cmdWord:  0x1103,
	execTime: 5 * time.Millisecond,
}
var cmdStartFanCleaning = command{
	cmdWord:  0x5607,
	execTime: 20 * time.Millisecond,
}
var cmdAutoCleanInterval = command{
	cmdWord:      0x8004,
	responseSize: 6,
	execTime:     20 * time.Millisecond,
}
var cmdProductType = command{
	cmdWord:      0xd002,
	responseSize: 12,
	execTime:     5 * time.Millisecond,
}
var cmdSerialNumber = command{
	cmdWord:      0xd033,
	responseSize: 48,
	execTime:     5 * time.Millisecond,
}
var cmdFirmwareVersion = command{
	cmdWord:      0xd100,
	responseSize: 3,
	execTime:     5 * time.Millisecond,
}
var cmdDeviceStatus = command{
	cmdWord:      0xd206,
	responseSize: 6,
	execTime:     5 * time.Millisecond,
}
var cmdClearDeviceStatus = command{
	cmdWord:  0xd210,
	execTime: 5 * time.Millisecond,
}
var cmdReset = command{
	cmdWord:  0xd304,
	execTime: 100 * time.Millisecond,
}

// MassConcentration is a particulate mass concentration in µg/m³.
type MassConcentration float32

func (m MassConcentration) String() string {
	return strconv.FormatFloat(float64(m), 'f', 2, 32) + "µg/m³"
}

// NumberConcentration is a particle count concentration in particles/cm³.
type NumberConcentration float32

func (n NumberConcentration) String() string {
	return strconv.FormatFloat(float64(n), 'f', 2, 32) + "/cm³"
}

// ParticleSize is a particle diameter in µm.
type ParticleSize float32

func (p ParticleSize) String() string {
	return strconv.FormatFloat(float64(p), 'f', 2, 32) + "µm"
}

// Measurement is one complete set of readings from the sensor. Mass
// concentrations cover particles up to the named size, number concentrations
// likewise, and TypicalParticleSize is the typical particle diameter.
type Measurement struct {
	MassPM1   MassConcentration
	MassPM2p5 MassConcentration
	MassPM4   MassConcentration
	MassPM10  MassConcentration

	NumberPM0p5 NumberConcentration
	NumberPM1   NumberConcentration
	NumberPM2p5 NumberConcentration
	NumberPM4   NumberConcentration
	NumberPM10  NumberConcentration

	TypicalParticleSize ParticleSize
}

// Return the sensor readings in string format.
func (m *Measurement) String() string {
	return fmt.Sprintf("PM1: %s PM2.5: %s PM4: %s PM10: %s TypicalParticleSize: %s",
		m.MassPM1, m.MassPM2p5, m.MassPM4, m.MassPM10, m.TypicalParticleSize)
}

// DeviceStatus is the decoded device status register. The register latches
// errors; use ClearStatus to reset it.
type DeviceStatus struct {
	// Fan speed has been more than 10% outside the target range for over
	// three seconds. Usually transient after WakeUp or StartFanCleaning.
	SpeedWarning bool
	// Laser current is out of range.
	LaserError bool
	// The fan is mechanically blocked or broken: 0 RPM while it is
	// switched on.
	FanError bool
	// Raw register value.
	Raw uint32
}

const (
	statusSpeedWarning = 1 << 21
	statusLaserError   = 1 << 5
	statusFanError     = 1 << 4
)

// Dev represents an SPS30 device.
type Dev struct {
	// The i2c bus device.
	d *i2c.Dev
	// channel to halt SenseContinuous
	chHalt chan struct{}
	mu     sync.Mutex
	// True if the device is in measurement mode.
	measuring bool
}

// NewI2C creates a new SPS30 sensor using the supplied bus and address.
// The constant value SensorAddress should be supplied as the value for
// addr. No bus traffic is generated; the device starts out idle.
func NewI2C(b i2c.Bus, addr uint16) (*Dev, error) {
	return &Dev{d: &i2c.Dev{Bus: b, Addr: addr}}, nil
}

// All commands to read or write to the sensor go through this function. The
// SPS30 uses a set-pointer/read sequence, so the command write and the
// response read are issued as separate bus transactions with the command
// execution time in between. writeData is raw argument bytes in pairs; the
// CRC byte for each pair is appended here. The returned bytes have been CRC
// validated with the checksum bytes stripped.
func (d *Dev) sendCommand(c command, writeData []byte) ([]byte, error) {
	w := make([]byte, 2, 2+len(writeData)/2*3)
	w[0] = byte(c.cmdWord >> 8)
	w[1] = byte(c.cmdWord)
	if len(writeData) > 0 {
		w = append(w, common.AppendCRC8(writeData)...)
	}
	if err := d.d.Tx(w, nil); err != nil {
		return nil, fmt.Errorf("sps30 cmd 0x%04x: %w", uint16(c.cmdWord), err)
	}
	if c.execTime > 0 {
		time.Sleep(c.execTime)
	}
	if c.responseSize == 0 {
		return nil, nil
	}
	r := make([]byte, c.responseSize)
	if err := d.d.Tx(nil, r); err != nil {
		return nil, fmt.Errorf("sps30 cmd 0x%04x: %w", uint16(c.cmdWord), err)
	}
	data, ok := common.ExtractCRC8(r)
	if !ok {
		return nil, fmt.Errorf("sps30 cmd 0x%04x: %w", uint16(c.cmdWord), ErrChecksum)
	}
	return data, nil
}

// StartMeasurement puts the sensor into measurement mode. The fan spins up
// and the device continuously updates its measurement registers. The first
// reading is available roughly one second later; poll DataReady. Calling
// StartMeasurement while already measuring is a no-op.
func (d *Dev) StartMeasurement() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.startMeasurement()
}

func (d *Dev) startMeasurement() error {
	if d.measuring {
		return nil
	}
	_, err := d.sendCommand(cmdStartMeasurement, []byte{formatFloat, 0x00})
	if err == nil {
		d.measuring = true
	}
	return err
}

// StopMeasurement returns the sensor to idle mode and stops the fan.
// Calling StopMeasurement while idle is a no-op.
func (d *Dev) StopMeasurement() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopMeasurement()
}

func (d *Dev) stopMeasurement() error {
	if !d.measuring {
		return nil
	}
	_, err := d.sendCommand(cmdStopMeasurement, nil)
	if err == nil {
		d.measuring = false
	}
	return err
}

// DataReady returns true when a new measurement is available to read.
// The flag is cleared by ReadMeasurement. Returns ErrNotMeasuring if the
// sensor is idle.
func (d *Dev) DataReady() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dataReady()
}

func (d *Dev) dataReady() (bool, error) {
	if !d.measuring {
		return false, ErrNotMeasuring
	}
	data, err := d.sendCommand(cmdDataReady, nil)
	if err != nil {
		return false, err
	}
	return data[1] == 1, nil
}

// ReadMeasurement reads one complete set of readings from the sensor. The
// response is a 60 byte frame of 20 CRC protected groups; if any group
// fails validation the whole frame is rejected and ErrChecksum is returned
// with no partial result. Call after DataReady returns true, otherwise the
// previous values are returned again. Returns ErrNotMeasuring if the
// sensor is idle.
func (d *Dev) ReadMeasurement() (Measurement, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readMeasurement()
}

func (d *Dev) readMeasurement() (Measurement, error) {
	var m Measurement
	if !d.measuring {
		return m, ErrNotMeasuring
	}
	// 40 validated data bytes: 10 big-endian IEEE-754 floats.
	data, err := d.sendCommand(cmdReadMeasurement, nil)
	if err != nil {
		return m, err
	}
	var vals [10]float32
	for ix := range vals {
		vals[ix] = math.Float32frombits(binary.BigEndian.Uint32(data[ix*4:]))
	}
	m = Measurement{
		MassPM1:             MassConcentration(vals[0]),
		MassPM2p5:           MassConcentration(vals[1]),
		MassPM4:             MassConcentration(vals[2]),
		MassPM10:            MassConcentration(vals[3]),
		NumberPM0p5:         NumberConcentration(vals[4]),
		NumberPM1:           NumberConcentration(vals[5]),
		NumberPM2p5:         NumberConcentration(vals[6]),
		NumberPM4:           NumberConcentration(vals[7]),
		NumberPM10:          NumberConcentration(vals[8]),
		TypicalParticleSize: ParticleSize(vals[9]),
	}
	return m, nil
}

// Sense starts measurement mode if necessary, waits for the data-ready
// flag, and reads one measurement. The sensor is left in measurement mode;
// call Halt or StopMeasurement to stop the fan.
func (d *Dev) Sense(m *Measurement) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.startMeasurement(); err != nil {
		return err
	}
	tCutoff := time.Now().Add(senseTimeout)
	for {
		ready, err := d.dataReady()
		if err != nil {
			return err
		}
		if ready {
			break
		}
		if time.Now().After(tCutoff) {
			return errors.New("sps30: timeout waiting for data ready status")
		}
		time.Sleep(100 * time.Millisecond)
	}
	meas, err := d.readMeasurement()
	if err != nil {
		return err
	}
	*m = meas
	return nil
}

// SenseContinuous continuously reads the sensor on the specified interval
// and writes readings to the returned channel. The device produces a new
// reading every second, so interval must be at least one second. To
// terminate a continuous sense, call Halt().
func (d *Dev) SenseContinuous(interval time.Duration) (<-chan Measurement, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.chHalt != nil {
		return nil, errors.New("sps30: SenseContinuous() running already")
	}
	if interval < minSampleDuration {
		return nil, errors.New("sps30: sample interval is < device sample rate")
	}
	halt := make(chan struct{})
	d.chHalt = halt
	channelSize := 16
	channel := make(chan Measurement, channelSize)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		defer close(channel)
		for {
			select {
			case <-halt:
				return
			case <-ticker.C:
				m := Measurement{}
				if err := d.Sense(&m); err == nil && len(channel) < channelSize {
					channel <- m
				}
			}
		}
	}()
	return channel, nil
}

// Halt stops a running SenseContinuous and takes the sensor out of
// measurement mode. Implements conn.Resource.
func (d *Dev) Halt() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.chHalt != nil {
		close(d.chHalt)
		d.chHalt = nil
	}
	return d.stopMeasurement()
}

// StartFanCleaning spins the fan at maximum speed for 10 seconds to blow
// out accumulated dust. Only valid in measurement mode; the device also
// runs this automatically on the auto-clean interval.
func (d *Dev) StartFanCleaning() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.measuring {
		return ErrNotMeasuring
	}
	_, err := d.sendCommand(cmdStartFanCleaning, nil)
	return err
}

// AutoCleanInterval returns the interval between automatic fan cleaning
// cycles. The factory default is one week. 0 means automatic cleaning is
// disabled.
func (d *Dev) AutoCleanInterval() (time.Duration, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, err := d.sendCommand(cmdAutoCleanInterval, nil)
	if err != nil {
		return 0, err
	}
	return time.Duration(binary.BigEndian.Uint32(data)) * time.Second, nil
}

// SetAutoCleanInterval sets the interval between automatic fan cleaning
// cycles. The device stores the value in non-volatile memory, though on
// firmware before 2.2 it is lost again if the device is power-cycled within
// the first 20 minutes. Set 0 to disable automatic cleaning.
func (d *Dev) SetAutoCleanInterval(interval time.Duration) error {
	if interval < 0 || interval%time.Second != 0 {
		return fmt.Errorf("sps30: invalid auto-clean interval %s. must be a whole number of seconds", interval)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	var w [4]byte
	binary.BigEndian.PutUint32(w[:], uint32(interval/time.Second))
	_, err := d.sendCommand(cmdAutoCleanInterval, w[:])
	return err
}

// ProductType returns the device product type string. The SPS30 always
// reports "00080000".
func (d *Dev) ProductType() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, err := d.sendCommand(cmdProductType, nil)
	if err != nil {
		return "", err
	}
	return asciiz(data), nil
}

// SerialNumber returns the device serial number set at the factory.
func (d *Dev) SerialNumber() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, err := d.sendCommand(cmdSerialNumber, nil)
	if err != nil {
		return "", err
	}
	return asciiz(data), nil
}

// FirmwareVersion returns the major and minor firmware version of the
// device.
func (d *Dev) FirmwareVersion() (major, minor uint8, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, err := d.sendCommand(cmdFirmwareVersion, nil)
	if err != nil {
		return 0, 0, err
	}
	return data[0], data[1], nil
}

// Status reads and decodes the device status register. Error bits latch
// until cleared with ClearStatus or a reset. Requires firmware 2.2 or
// later.
func (d *Dev) Status() (DeviceStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, err := d.sendCommand(cmdDeviceStatus, nil)
	if err != nil {
		return DeviceStatus{}, err
	}
	raw := binary.BigEndian.Uint32(data)
	return DeviceStatus{
		SpeedWarning: raw&statusSpeedWarning != 0,
		LaserError:   raw&statusLaserError != 0,
		FanError:     raw&statusFanError != 0,
		Raw:          raw,
	}, nil
}

// ClearStatus resets all latched bits in the device status register.
func (d *Dev) ClearStatus() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.sendCommand(cmdClearDeviceStatus, nil)
	return err
}

// Reset performs a soft reset. The device reboots into idle mode with the
// same state as after a power cycle.
func (d *Dev) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.sendCommand(cmdReset, nil)
	if err == nil {
		d.measuring = false
	}
	return err
}

// Sleep puts the idle sensor into sleep mode to minimize power draw.
// Requires firmware 2.0 or later. Returns ErrMeasuring if the sensor is in
// measurement mode; call StopMeasurement first.
func (d *Dev) Sleep() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.measuring {
		return ErrMeasuring
	}
	_, err := d.sendCommand(cmdSleep, nil)
	return err
}

// WakeUp returns the sensor from sleep mode to idle. The command is sent
// twice: the first write only re-arms the i2c interface and is not
// acknowledged by the device.
func (d *Dev) WakeUp() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, _ = d.sendCommand(cmdWakeUp, nil)
	_, err := d.sendCommand(cmdWakeUp, nil)
	return err
}

// Precision returns the sensor's resolution, or minimum value between
// steps the device can make.
func (d *Dev) Precision(m *Measurement) {
	m.MassPM1 = 0.1
	m.MassPM2p5 = 0.1
	m.MassPM4 = 0.1
	m.MassPM10 = 0.1
	m.NumberPM0p5 = 0.1
	m.NumberPM1 = 0.1
	m.NumberPM2p5 = 0.1
	m.NumberPM4 = 0.1
	m.NumberPM10 = 0.1
	m.TypicalParticleSize = 0.01
}

func (d *Dev) String() string {
	return fmt.Sprintf("sps30: %s", d.d.String())
}

// asciiz decodes a NUL terminated ASCII string from a validated response.
func asciiz(b []byte) string {
	if ix := bytes.IndexByte(b, 0); ix >= 0 {
		b = b[:ix]
	}
	return string(b)
}

var _ conn.Resource = &Dev{}
