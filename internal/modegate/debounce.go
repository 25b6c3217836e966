package modegate

// Edge is a debounced transition of a button's pressed state
type Edge int

const (
	EdgeNone Edge = iota
	EdgePress
	EdgeRelease
)

// String returns the edge name used in logs and metric labels
func (e Edge) String() string {
	switch e {
	case EdgePress:
		return "press"
	case EdgeRelease:
		return "release"
	default:
		return "none"
	}
}

// Debouncer accepts a new raw level only after it has differed from the
// stable level for threshold consecutive samples. Any sample equal to the
// stable level restarts the count.
type Debouncer struct {
	activeLevel int
	threshold   int

	stableLevel int
	divergence  int
	pressed     bool
}

// NewDebouncer primes a debouncer with the level observed at startup
func NewDebouncer(initialLevel, activeLevel, threshold int) *Debouncer {
	if threshold < 1 {
		threshold = 1
	}
	return &Debouncer{
		activeLevel: activeLevel,
		threshold:   threshold,
		stableLevel: initialLevel,
		pressed:     initialLevel == activeLevel,
	}
}

// Update feeds one raw sample and reports whether the pressed state flipped
func (d *Debouncer) Update(level int) Edge {
	if level == d.stableLevel {
		d.divergence = 0
		return EdgeNone
	}

	d.divergence++
	if d.divergence < d.threshold {
		return EdgeNone
	}

	d.divergence = 0
	d.stableLevel = level

	pressed := level == d.activeLevel
	if pressed == d.pressed {
		return EdgeNone
	}
	d.pressed = pressed
	if pressed {
		return EdgePress
	}
	return EdgeRelease
}

// Pressed reports the debounced state
func (d *Debouncer) Pressed() bool {
	return d.pressed
}
