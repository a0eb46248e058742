package main

import "io"

// relay pumps local input into the session stream and session output to the
// local terminal. It returns as soon as the session side stops producing
// output, so a remote close hands the terminal back immediately; the input
// pump is abandoned rather than waited on, because a read on a raw terminal
// cannot be interrupted and would otherwise hold raw mode until the next
// keypress.
func relay(stream io.ReadWriter, in io.Reader, out io.Writer) {
	go io.Copy(stream, in)
	io.Copy(out, stream)
}
