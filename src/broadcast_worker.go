package main

import (
	"context"
)

// broadcastWorker receives ArmStatus from the control worker and fans out to downstream workers.
// A slow consumer loses its oldest updates rather than holding up the others.
func broadcastWorker(ctx context.Context, inputChan <-chan ArmStatus, outputChans []chan ArmStatus) {
	for {
		select {
		case status := <-inputChan:
			for _, ch := range outputChans {
				sendLatest(ch, status)
			}

		case <-ctx.Done():
			return
		}
	}
}
