package lua

// Host provides the bridge between Engine and the rest of the system.
// This abstraction decouples Engine from the console and the supervisor,
// making it testable without full infrastructure.
type Host interface {
	// Print writes a line of script output.
	Print(text string)

	// Port is the viewer port the script should talk to.
	Port() int
}
