package workflow

// InputMessage is the payload of a workflow:input signal.
type InputMessage struct {
	// Prompt is the user's input. Empty advances the workflow.
	Prompt string

	// Skip abandons the current step instead of providing input.
	Skip bool
}

// ModeChange is the payload of a workflow:mode-change signal.
type ModeChange struct {
	AutonomousMode bool
}

// Signals is the in-process signal hub. The CLI and UI adapters fire
// signals; the runner and the active input provider consume them. Channels
// are buffered and sends never block — a signal fired while its channel's
// buffer is full is dropped. The input channel holds up to eight pending
// messages; every other channel holds one.
type Signals struct {
	pause              chan struct{}
	skip               chan struct{}
	stop               chan struct{}
	input              chan InputMessage
	modeChange         chan ModeChange
	checkpointContinue chan struct{}
	checkpointQuit     chan struct{}
}

// NewSignals creates the signal hub.
func NewSignals() *Signals {
	return &Signals{
		pause:              make(chan struct{}, 1),
		skip:               make(chan struct{}, 1),
		stop:               make(chan struct{}, 1),
		input:              make(chan InputMessage, 8),
		modeChange:         make(chan ModeChange, 1),
		checkpointContinue: make(chan struct{}, 1),
		checkpointQuit:     make(chan struct{}, 1),
	}
}

// Pause fires workflow:pause.
func (s *Signals) Pause() { fire(s.pause) }

// Skip fires workflow:skip.
func (s *Signals) Skip() { fire(s.skip) }

// Stop fires workflow:stop.
func (s *Signals) Stop() { fire(s.stop) }

// Input fires workflow:input with the given payload.
func (s *Signals) Input(msg InputMessage) {
	select {
	case s.input <- msg:
	default:
	}
}

// SetMode fires workflow:mode-change.
func (s *Signals) SetMode(autonomous bool) {
	select {
	case s.modeChange <- ModeChange{AutonomousMode: autonomous}:
	default:
	}
}

// CheckpointContinue fires checkpoint:continue.
func (s *Signals) CheckpointContinue() { fire(s.checkpointContinue) }

// CheckpointQuit fires checkpoint:quit.
func (s *Signals) CheckpointQuit() { fire(s.checkpointQuit) }

// PauseCh returns the workflow:pause channel.
func (s *Signals) PauseCh() <-chan struct{} { return s.pause }

// SkipCh returns the workflow:skip channel.
func (s *Signals) SkipCh() <-chan struct{} { return s.skip }

// StopCh returns the workflow:stop channel.
func (s *Signals) StopCh() <-chan struct{} { return s.stop }

// InputCh returns the workflow:input channel.
func (s *Signals) InputCh() <-chan InputMessage { return s.input }

// ModeChangeCh returns the workflow:mode-change channel.
func (s *Signals) ModeChangeCh() <-chan ModeChange { return s.modeChange }

// CheckpointContinueCh returns the checkpoint:continue channel.
func (s *Signals) CheckpointContinueCh() <-chan struct{} { return s.checkpointContinue }

// CheckpointQuitCh returns the checkpoint:quit channel.
func (s *Signals) CheckpointQuitCh() <-chan struct{} { return s.checkpointQuit }

func fire(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
