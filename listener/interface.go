package listener

import "context"

type Interface interface {
	ControlInterface

	// Start launches capture and dispatch and returns immediately.
	Start(ctx context.Context) error
	// Stop asks both loops to exit. It does not wait; see Wait.
	Stop()
	// Wait blocks until both loops have exited.
	Wait() error
	// Run is Start followed by Wait.
	Run(ctx context.Context) error
	IsRunning() bool
}

// ControlInterface is the part other subsystems drive at runtime.
type ControlInterface interface {
	Sleep()
	Awaken()
	Mute()
	Unmute()
	IsSleeping() bool
}
