package media

// Sender is the outbound half of a connection for one track kind.
type Sender interface {
	Kind() Kind
	Track() *LocalTrack
	// ReplaceTrack swaps the sent track without renegotiation.
	ReplaceTrack(t *LocalTrack) error
}
