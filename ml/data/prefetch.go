// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package data

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// PrefetchIter wraps an Iterator and reads its batches ahead in a background goroutine, so
// decoding the next batches overlaps with the consumption of the current one.
//
// The underlying iterator is only used by the background goroutine (or while it is stopped),
// so it doesn't need to be safe for concurrent use.
//
// To avoid leaking the goroutine, call PrefetchIter.Close when done.
type PrefetchIter struct {
	it         Iterator
	bufferSize int

	buffer    chan prefetchUnit
	stopEpoch chan struct{}
	epochDone chan struct{}
	err       error
	closed    bool
}

type prefetchUnit struct {
	batch *Batch
	err   error
}

// Compile-time check that PrefetchIter implements Iterator and io.Closer.
var (
	_ Iterator  = (*PrefetchIter)(nil)
	_ io.Closer = (*PrefetchIter)(nil)
)

// Prefetch starts reading up to bufferSize batches ahead from it. bufferSize must be > 0.
func Prefetch(it Iterator, bufferSize int) *PrefetchIter {
	if bufferSize <= 0 {
		klog.Warningf("Prefetch(%q): invalid buffer size %d, using 1", it.Name(), bufferSize)
		bufferSize = 1
	}
	p := &PrefetchIter{it: it, bufferSize: bufferSize}
	p.start()
	return p
}

// start the goroutine reading batches of the current epoch.
func (p *PrefetchIter) start() {
	p.buffer = make(chan prefetchUnit, p.bufferSize)
	p.stopEpoch = make(chan struct{})
	p.epochDone = make(chan struct{})
	p.err = nil
	go func(it Iterator, buffer chan<- prefetchUnit, stopEpoch <-chan struct{}, epochDone chan<- struct{}) {
		defer close(epochDone)
		defer close(buffer)
		for {
			batch, err := it.Next()
			select {
			case <-stopEpoch:
				return
			case buffer <- prefetchUnit{batch: batch, err: err}:
			}
			if err != nil {
				// io.EOF or a failure: either way the epoch is over.
				return
			}
		}
	}(p.it, p.buffer, p.stopEpoch, p.epochDone)
}

// stop the goroutine and wait for it to exit.
func (p *PrefetchIter) stop() {
	close(p.stopEpoch)
	<-p.epochDone
}

// Name implements Iterator.
func (p *PrefetchIter) Name() string {
	return fmt.Sprintf("%s [Prefetch %d]", p.it.Name(), p.bufferSize)
}

// Next implements Iterator. Once an error other than io.EOF is returned, following calls return
// the same error until Reset.
func (p *PrefetchIter) Next() (*Batch, error) {
	if p.closed {
		return nil, errors.Errorf("PrefetchIter(%q).Next called after Close", p.it.Name())
	}
	unit, ok := <-p.buffer
	if !ok {
		if p.err != nil {
			return nil, p.err
		}
		return nil, io.EOF
	}
	if unit.err != nil && unit.err != io.EOF {
		p.err = unit.err
	}
	return unit.batch, unit.err
}

// Reset implements Iterator. It discards the batches read ahead, resets the underlying iterator and
// starts reading again.
func (p *PrefetchIter) Reset() {
	if p.closed {
		klog.Warningf("PrefetchIter(%q).Reset called after Close", p.it.Name())
		return
	}
	p.stop()
	p.it.Reset()
	p.start()
}

// BatchSize implements Iterator.
func (p *PrefetchIter) BatchSize() int { return p.it.BatchSize() }

// ProvideData implements Iterator.
func (p *PrefetchIter) ProvideData() []Desc { return p.it.ProvideData() }

// ProvideLabel implements Iterator.
func (p *PrefetchIter) ProvideLabel() []Desc { return p.it.ProvideLabel() }

// Close stops the background goroutine, and closes the underlying iterator if it implements io.Closer.
// It is safe to call Close more than once.
func (p *PrefetchIter) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.stop()
	if closer, ok := p.it.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
