package common

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
)

func TestIntervalTimer(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg := sync.WaitGroup{}

	uut, err := GetIntervalTimerInstance("testing", ctxt, &wg)
	assert.Nil(err)

	fired := make(chan time.Time, 8)

	// Case 1: one shot timer fires exactly once
	{
		assert.Nil(uut.Start(time.Millisecond*20, func() error {
			fired <- time.Now()
			return nil
		}, true))
		select {
		case <-fired:
		case <-time.After(time.Second):
			assert.FailNow("timed out waiting for timer")
		}
		select {
		case <-fired:
			assert.FailNow("one shot timer fired twice")
		case <-time.After(time.Millisecond * 100):
		}
	}

	// Case 2: repeating timer fires until stopped
	{
		assert.Nil(uut.Start(time.Millisecond*20, func() error {
			fired <- time.Now()
			return nil
		}, false))
		for itr := 0; itr < 3; itr++ {
			select {
			case <-fired:
			case <-time.After(time.Second):
				assert.FailNow("timed out waiting for timer")
			}
		}
		assert.Nil(uut.Stop())
	}

	wg.Wait()
}
