// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// memblk is a block device backed by plain memory. The device contents
// live in a zeroed buffer allocated at start, requests coming from the
// registrar are split into segments and copied to or from the buffer
// under its lock, and everything is released at stop. Nothing survives a
// restart.
//
// Requests are dispatched either directly on the submitting goroutine or
// through a queue served by one worker goroutine, which gives strict FIFO
// completion order. The registrar, i.e. the part which makes the device
// visible to the system, is an interface, so the same device can be served
// through BUSE or kept in-process for testing.
package memblk
