package listener

import "sync"

// bufferPool recycles the per-datagram copies handed from the receive
// loops to the worker pool, so a busy link does not allocate per packet.
var bufferPool = sync.Pool{
	New: func() any {
		buf := make([]byte, maxPacketSize)
		return &buf
	},
}

func getBuffer() *[]byte {
	return bufferPool.Get().(*[]byte)
}

func putBuffer(buf *[]byte) {
	bufferPool.Put(buf)
}
