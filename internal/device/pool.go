package device

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

// Host is the name of the non-accelerator placement.
const Host = "cpu"

// OutOfMemoryError reports a reservation that did not fit on a device.
type OutOfMemoryError struct {
	Device    string
	Requested uint64
	Free      uint64
}

func (e *OutOfMemoryError) Error() string {
	return fmt.Sprintf("device %s out of memory: requested %s, %s free",
		e.Device, humanize.IBytes(e.Requested), humanize.IBytes(e.Free))
}

// ResourceExhausted marks the error as a placement failure the device cache
// can recover from by evicting.
func (e *OutOfMemoryError) ResourceExhausted() bool { return true }

// Spec declares one device and its capacity in bytes. A zero capacity means
// unbounded.
type Spec struct {
	Name     string
	Capacity uint64
}

type slot struct {
	capacity uint64
	used     uint64
}

// Pool tracks memory usage per device.
type Pool struct {
	mu      sync.Mutex
	devices map[string]*slot
	def     string
}

// NewPool creates a pool with the host device plus the given devices.
// defaultDevice names the device actions place their resources on when
// they do not ask for a specific one; empty means the first accelerator,
// or the host when there is none.
func NewPool(defaultDevice string, specs ...Spec) (*Pool, error) {
	p := &Pool{devices: map[string]*slot{Host: {}}}
	for _, s := range specs {
		if s.Name == "" {
			return nil, errors.New("device name cannot be empty")
		}
		if s.Name == Host {
			// The host stays unbounded regardless of declared capacity.
			continue
		}
		if _, exists := p.devices[s.Name]; exists {
			return nil, errors.Errorf("device %q declared twice", s.Name)
		}
		p.devices[s.Name] = &slot{capacity: s.Capacity}
		if defaultDevice == "" {
			defaultDevice = s.Name
		}
	}
	if defaultDevice == "" {
		defaultDevice = Host
	}
	if _, ok := p.devices[defaultDevice]; !ok {
		return nil, errors.Errorf("default device %q is not declared", defaultDevice)
	}
	p.def = defaultDevice
	return p, nil
}

// Default returns the device actions should target by default.
func (p *Pool) Default() string {
	return p.def
}

// Devices returns the sorted device names, host included.
func (p *Pool) Devices() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.devices))
	for name := range p.devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reserve claims n bytes on device.
func (p *Pool) Reserve(device string, n uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.devices[device]
	if !ok {
		return errors.Errorf("unknown device %q", device)
	}
	if s.capacity > 0 && s.used+n > s.capacity {
		return &OutOfMemoryError{Device: device, Requested: n, Free: s.capacity - s.used}
	}
	s.used += n
	return nil
}

// Release returns n bytes to device. Releasing more than is in use clamps to zero.
func (p *Pool) Release(device string, n uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.devices[device]
	if !ok {
		return
	}
	if n > s.used {
		n = s.used
	}
	s.used -= n
}

// Usage returns the bytes in use and the capacity of device.
func (p *Pool) Usage(device string) (used, capacity uint64, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.devices[device]
	if !ok {
		return 0, 0, errors.Errorf("unknown device %q", device)
	}
	return s.used, s.capacity, nil
}
