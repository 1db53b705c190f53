package session

// Surface is the external presentation surface the session drives. The
// implementation owns the decode resources; the machine only sequences
// init, play, stop, and dispose, and never holds two surfaces at once.
type Surface interface {
	Init() error
	Play(url string) error
	Stop()
	Dispose()
	// IsPlaying must report genuine liveness, not cached state: a surface
	// silently destroyed during OS-level suspension has to answer false.
	IsPlaying() bool
	VideoSize() (width, height int)
	SetReservedInsets(left, top, right, bottom int)
}

// EventKind tags a surface event.
type EventKind int

const (
	EventPlaying EventKind = iota
	EventError
	EventEnded
	EventStopped
	EventVideoSizeChanged
	EventForegrounded
)

// String returns the event name for logging.
func (k EventKind) String() string {
	switch k {
	case EventPlaying:
		return "playing"
	case EventError:
		return "error"
	case EventEnded:
		return "ended"
	case EventStopped:
		return "stopped"
	case EventVideoSizeChanged:
		return "videoSizeChanged"
	case EventForegrounded:
		return "foregrounded"
	default:
		return "unknown"
	}
}

// Event is the tagged variant produced by the presentation surface and
// dispatched through one handler.
type Event struct {
	Kind   EventKind
	Err    error // EventError only
	Width  int   // EventVideoSizeChanged only
	Height int   // EventVideoSizeChanged only
}

// WifiEvent reports a connectivity transition.
type WifiEvent struct {
	Connected   bool
	NetworkName string
}

// WifiMonitor reports WiFi connectivity. Events must deliver every
// transition; Connected answers the current state on demand.
type WifiMonitor interface {
	Connected() bool
	NetworkName() string
	Events() <-chan WifiEvent
}
