package locks

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyedSerializesSameKey(t *testing.T) {
	var k Keyed
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("job-1")
			defer unlock()
			v := counter
			counter = v + 1
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Zero(t, k.held())
}

func TestKeyedDistinctKeysDoNotBlock(t *testing.T) {
	var k Keyed
	unlockA := k.Lock("a")
	done := make(chan struct{})
	go func() {
		unlock := k.Lock("b")
		unlock()
		close(done)
	}()
	<-done
	assert.Equal(t, 1, k.held())
	unlockA()
	assert.Zero(t, k.held())
}
