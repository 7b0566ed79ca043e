package util

import "sync"

/* UnblockSignal
 * simple wrapper around a go channel to make it easier to block a goroutine from continuing and then let it continue when Trigger() is called
 * safe to trigger and poll from multiple goroutines
 * EXAMPLE USE: tearing down the session goroutines when the room is left or the signaling transport dies
 */
type UnblockSignal struct {
	mu         sync.Mutex
	err        error // could be used to pass an error back to the blocked goroutine
	triggered  bool
	exitSignal chan bool
}

func NewUnblockSignal() *UnblockSignal {
	p := UnblockSignal{exitSignal: make(chan bool)}
	return &p
}

func (e *UnblockSignal) Trigger() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.triggered {
		e.triggered = true
		close(e.exitSignal)
	}
}

func (e *UnblockSignal) TriggerWithError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.triggered {
		e.err = err
		e.triggered = true
		close(e.exitSignal)
	}
}

func (e *UnblockSignal) HasTriggered() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.triggered
}

func (e *UnblockSignal) Wait() error {
	<-e.exitSignal
	return e.GetError()
}

func (e *UnblockSignal) GetSignal() chan bool {
	return e.exitSignal
}

func (e *UnblockSignal) GetError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}
