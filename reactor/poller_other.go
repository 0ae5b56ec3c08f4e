//go:build !linux

package reactor

import "time"

// Poller is unavailable on this platform.
type Poller struct{}

// New always fails with ErrUnsupported on this platform.
func New(maxEvents int) (*Poller, error) { return nil, ErrUnsupported }

func (p *Poller) Register(ch Channel, interest Interest) (*Key, error) { return nil, ErrUnsupported }
func (p *Poller) Cancel(k *Key) error                                  { return nil }
func (p *Poller) Keys() []*Key                                         { return nil }
func (p *Poller) Len() int                                             { return 0 }
func (p *Poller) Wait(timeout time.Duration) ([]*Key, error)           { return nil, ErrUnsupported }
func (p *Poller) Close() error                                         { return nil }
