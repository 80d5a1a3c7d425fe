package models

// Wave is one level of the topologically ordered execution schedule.
// Subtasks within a wave have no dependency ordering among themselves and
// are safe to execute concurrently. Waves are snapshots of the scheduler's
// output, not persisted state; they are recomputed whenever the graph
// changes, for example after an accepted flow correction.
type Wave struct {
	// Level is the zero-based position of the wave in the schedule.
	Level int `json:"level"`
	// TaskIDs are the subtask IDs belonging to this wave.
	TaskIDs []string `json:"task_ids"`
}
