package node

import "errors"

// ErrRateLimited is returned by Publish when PLATO's current allowed
// publish interval has not yet elapsed since the last admitted publish.
var ErrRateLimited = errors.New("node: publish rate limited by plato")

// ErrShuttingDown is returned by Publish once Shutdown has been called,
// instead of racing the caller against the lane goroutines it is in the
// process of stopping.
var ErrShuttingDown = errors.New("node: shutting down")

// ErrTransportUnavailable is returned by Publish if the dispatcher's
// receive loop has exited on its own (the transport died) rather than as
// part of an orderly Shutdown — publishing into a dead transport would only
// ever produce silently dropped frames.
var ErrTransportUnavailable = errors.New("node: transport unavailable")
