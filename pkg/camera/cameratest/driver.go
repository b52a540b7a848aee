// Package cameratest provides a scriptable sensor driver for tests.
package cameratest

import (
	"errors"
	"fmt"
	"sync"

	"timelapse-cam/pkg/camera"
)

// Null in a script makes AcquireFrame return nil.
const Null = -1

var ErrStartFailed = errors.New("fake driver start failed")

// Driver replays a script of frame lengths. Once the script is exhausted it
// keeps producing frames of DefaultLen bytes.
type Driver struct {
	lock sync.Mutex

	script     []int
	DefaultLen int
	FailStart  int
	InfoErr    error

	Calls    []string
	Started  bool
	Config   camera.HardwareConfig
	seq      int
	acquired int
	released map[int]int
}

func NewDriver(lengths ...int) *Driver {
	return &Driver{
		script:     lengths,
		DefaultLen: 1024,
		released:   make(map[int]int),
	}
}

// Script appends frame lengths to replay.
func (d *Driver) Script(lengths ...int) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.script = append(d.script, lengths...)
}

// FailNextStarts makes the next n calls to Start fail.
func (d *Driver) FailNextStarts(n int) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.FailStart = n
}

func (d *Driver) Start(cfg camera.HardwareConfig) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.Calls = append(d.Calls, "start")
	if d.FailStart > 0 {
		d.FailStart--
		return ErrStartFailed
	}
	d.Started = true
	d.Config = cfg

	return nil
}

func (d *Driver) Stop() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.Calls = append(d.Calls, "stop")
	if !d.Started {
		return errors.New("fake driver not started")
	}
	d.Started = false

	return nil
}

func (d *Driver) AcquireFrame() *camera.Frame {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.Calls = append(d.Calls, "acquire")

	n := d.DefaultLen
	if len(d.script) > 0 {
		n, d.script = d.script[0], d.script[1:]
	}
	if n == Null {
		return nil
	}
	d.seq++
	d.acquired++

	data := make([]byte, n)
	for i := range data {
		data[i] = byte(d.seq)
	}

	return &camera.Frame{Index: d.seq, Data: data}
}

func (d *Driver) ReleaseFrame(f *camera.Frame) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.Calls = append(d.Calls, "release")
	d.released[f.Index]++
}

func (d *Driver) Info() (*camera.SensorInfo, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.InfoErr != nil {
		return nil, d.InfoErr
	}

	return &camera.SensorInfo{
		Vendor:       "fake",
		Model:        "OV2640",
		MaxWidth:     1600,
		MaxHeight:    1200,
		SupportsJPEG: true,
	}, nil
}

// Count returns how many times call was made.
func (d *Driver) Count(call string) int {
	d.lock.Lock()
	defer d.lock.Unlock()
	n := 0
	for _, c := range d.Calls {
		if c == call {
			n++
		}
	}

	return n
}

// CallLog returns a copy of the calls filtered to the given names.
func (d *Driver) CallLog(names ...string) []string {
	d.lock.Lock()
	defer d.lock.Unlock()
	var res []string
	for _, c := range d.Calls {
		for _, n := range names {
			if c == n {
				res = append(res, c)
				break
			}
		}
	}

	return res
}

func (d *Driver) ResetCalls() {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.Calls = nil
}

// Outstanding is the number of acquired frames not yet released.
func (d *Driver) Outstanding() int {
	d.lock.Lock()
	defer d.lock.Unlock()
	n := d.acquired
	for _, c := range d.released {
		n -= c
	}

	return n
}

// CheckReleases reports frames that were released more than once.
func (d *Driver) CheckReleases() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	for idx, c := range d.released {
		if c > 1 {
			return fmt.Errorf("frame %d released %d times", idx, c)
		}
	}

	return nil
}
