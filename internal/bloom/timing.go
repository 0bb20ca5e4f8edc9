package bloom

import (
	"fmt"
	"time"
)

// SystemTimer tracks elapsed time since boot, grounded on
// original_source/bloom/src/time.rs SystemTimer.
type SystemTimer struct {
	start time.Time
}

func NewSystemTimer() SystemTimer { return SystemTimer{start: time.Now()} }

func (t SystemTimer) Elapsed() time.Duration { return time.Since(t.start) }

func (t SystemTimer) FormatElapsed() string { return FormatDuration(t.Elapsed()) }

// FormatDuration renders a duration as "[ mm:ss:ms ]", matching the
// original's format_duration.
func FormatDuration(d time.Duration) string {
	mins := int(d.Seconds()) / 60
	secs := int(d.Seconds()) % 60
	millis := d.Milliseconds() % 1000
	return fmt.Sprintf("[ %02d:%02d:%03d ]", mins, secs, millis)
}
