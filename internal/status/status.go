// Package status emits the daemon's machine-readable event stream: one
// JSON object per line on stdout, append-only, never persisted. Consumers
// must tolerate unknown fields.
package status

// FanStatus is the optional fan section of a status record, present only
// while the fan subsystem is active.
type FanStatus struct {
	TempC          int    `json:"temp_c"`
	DutyPercent    int    `json:"duty_percent"`
	PWM            int    `json:"pwm"`
	Mode           string `json:"mode"`
	RPM            int    `json:"rpm,omitempty"`
	SafetyOverride bool   `json:"safety_override,omitempty"`
}

type statusRecord struct {
	Type     string     `json:"type"`
	Load     []float64  `json:"load"`
	Values   []int      `json:"values"`
	Strategy string     `json:"strategy"`
	UptimeMS int64      `json:"uptime_ms"`
	Fan      *FanStatus `json:"fan,omitempty"`
}

type transitionRecord struct {
	Type     string  `json:"type"`
	From     []int   `json:"from"`
	To       []int   `json:"to"`
	Progress float64 `json:"progress"`
}

type errorRecord struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	typeStatus     = "status"
	typeTransition = "transition"
	typeError      = "error"
)
