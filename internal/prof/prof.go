// Package prof writes pprof profiles of a simulator run.
package prof

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/pprof"
	"sync"
)

// ErrActive is returned by Start while another session is running.
var ErrActive = errors.New("profile session already active")

// ErrInvalidProfile is returned for a profile name pprof does not know.
var ErrInvalidProfile = errors.New("invalid profile")

// Profile is a pprof profile name.
type Profile string

// Profiles written at the end of a session.
const (
	ProfileHeap      Profile = "heap"
	ProfileAllocs    Profile = "allocs"
	ProfileGoroutine Profile = "goroutine"
	ProfileBlock     Profile = "block"
	ProfileMutex     Profile = "mutex"
)

// Options selects what a session records. Empty paths are skipped.
type Options struct {
	CPU   string
	Heap  string
	Block string
	Mutex string
}

// Enabled reports whether any profile was requested.
func (o Options) Enabled() bool {
	return o.CPU != "" || o.Heap != "" || o.Block != "" || o.Mutex != ""
}

var active sync.Mutex

// Session is a running set of profiles.
type Session struct {
	opts    Options
	cpuFile *os.File
	stopped bool
}

// Start begins a session. Only one session runs at a time.
func Start(opts Options) (*Session, error) {
	if !active.TryLock() {
		return nil, ErrActive
	}

	s := &Session{opts: opts}
	if opts.Block != "" {
		runtime.SetBlockProfileRate(1)
	}
	if opts.Mutex != "" {
		runtime.SetMutexProfileFraction(1)
	}

	if opts.CPU != "" {
		f, err := os.Create(opts.CPU)
		if err != nil {
			s.reset()
			return nil, err
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			s.reset()
			return nil, err
		}
		s.cpuFile = f
	}
	return s, nil
}

// Stop ends the CPU profile and writes the snapshot profiles. Calling it
// again does nothing.
func (s *Session) Stop() error {
	if s.stopped {
		return nil
	}
	defer s.reset()

	var errs []error
	if s.cpuFile != nil {
		pprof.StopCPUProfile()
		errs = append(errs, s.cpuFile.Close())
	}
	if s.opts.Heap != "" {
		runtime.GC()
		errs = append(errs, Write(ProfileHeap, s.opts.Heap))
	}
	if s.opts.Block != "" {
		errs = append(errs, Write(ProfileBlock, s.opts.Block))
	}
	if s.opts.Mutex != "" {
		errs = append(errs, Write(ProfileMutex, s.opts.Mutex))
	}
	return errors.Join(errs...)
}

func (s *Session) reset() {
	if s.opts.Block != "" {
		runtime.SetBlockProfileRate(0)
	}
	if s.opts.Mutex != "" {
		runtime.SetMutexProfileFraction(0)
	}
	s.stopped = true
	active.Unlock()
}

// Write writes profile to a file at path.
func Write(profile Profile, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteTo(profile, f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// WriteTo writes profile to w in protobuf format.
func WriteTo(profile Profile, w io.Writer) error {
	p := pprof.Lookup(string(profile))
	if p == nil {
		return fmt.Errorf("%w: %s", ErrInvalidProfile, profile)
	}
	return p.WriteTo(w, 0)
}
