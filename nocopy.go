package corun

// noCopy may be embedded into structs which must not be copied after
// first use. See sync.Mutex for the vet check it enables.
type noCopy struct{}

// Lock is a no-op used by -copylocks checker from `go vet`.
func (*noCopy) Lock() {}

// Unlock is a no-op used by -copylocks checker from `go vet`.
func (*noCopy) Unlock() {}
