package bridge

import "presagebridge/pkg/session"

// Command is a unit of work queued for one session. The set is closed.
type Command interface {
	Name() string
	isCommand()
}

// LinkDevice links the session's store as a secondary device.
type LinkDevice struct {
	Servers    session.ServerEnvironment
	DeviceName string
}

// Whoami reports the registered account's identity.
type Whoami struct{}

// Receive streams incoming messages until the connection ends.
type Receive struct{}

func (LinkDevice) isCommand() {}
func (Whoami) isCommand()     {}
func (Receive) isCommand()    {}

func (LinkDevice) Name() string { return "link_device" }
func (Whoami) Name() string     { return "whoami" }
func (Receive) Name() string    { return "receive" }
