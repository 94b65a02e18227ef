package client

import "time"

// StartRequest asks the daemon to launch a worker under Key.
type StartRequest struct {
	Key     string            `json:"key"`
	Target  string            `json:"target"`
	Args    []string          `json:"args,omitempty"`
	WorkDir string            `json:"work_dir,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Port    int               `json:"port,omitempty"`
	Setup   string            `json:"setup,omitempty"`
}

// WorkerInfo is the daemon's snapshot of one tracked worker.
type WorkerInfo struct {
	Key       string    `json:"key"`
	Target    string    `json:"target"`
	PID       int       `json:"pid,omitempty"`
	Port      int       `json:"port,omitempty"`
	URL       string    `json:"url,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Running   bool      `json:"running"`
}

// LogLine is one captured output line.
type LogLine struct {
	At   time.Time `json:"at"`
	Text string    `json:"text"`
}
