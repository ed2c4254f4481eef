// Package models defines session state structures for Curumim conversations.
package models

import "time"

// Stage identifies the current node in the conversation state graph.
type Stage string

const (
	// StageInitial is where every session starts: mode selection.
	StageInitial Stage = "initial"
	// StageAwaitingConsent waits for the participant to accept or decline.
	StageAwaitingConsent Stage = "awaiting_consent"
	// StageAwaitingName collects the participant's name.
	StageAwaitingName Stage = "awaiting_name"
	// StageAwaitingAge collects the participant's age (5-120).
	StageAwaitingAge Stage = "awaiting_age"
	// StageAwaitingSmokingStatus collects smoking status.
	StageAwaitingSmokingStatus Stage = "awaiting_smoking_status"
	// StageAwaitingDiagnosis collects free-text diagnosis.
	StageAwaitingDiagnosis Stage = "awaiting_diagnosis"
	// StageAwaitingEmotionalState collects the 1-5 emotional score.
	StageAwaitingEmotionalState Stage = "awaiting_emotional_state"
	// StageAwaitingEnvironment collects the recording environment description
	// and seeds the task queue.
	StageAwaitingEnvironment Stage = "awaiting_environment"
	// StageRequestingFirstAudioTask dequeues the first recording task.
	// It is pass-through: the engine advances out of it within the same turn.
	StageRequestingFirstAudioTask Stage = "requesting_first_audio_task"
	// StageAwaitingAudio waits for the recording of the current task.
	// The active task id lives in Metadata.CurrentAudioTask.
	StageAwaitingAudio Stage = "awaiting_audio"
	// StageFinishedTasks means every recording task has been completed.
	StageFinishedTasks Stage = "finished_tasks"
	// StageFinished is the absorbing terminal stage (consent declined).
	StageFinished Stage = "finished"
)

// IsValidStage checks if the given stage is a node of the conversation graph.
func IsValidStage(s Stage) bool {
	switch s {
	case StageInitial, StageAwaitingConsent, StageAwaitingName, StageAwaitingAge,
		StageAwaitingSmokingStatus, StageAwaitingDiagnosis, StageAwaitingEmotionalState,
		StageAwaitingEnvironment, StageRequestingFirstAudioTask, StageAwaitingAudio,
		StageFinishedTasks, StageFinished:
		return true
	default:
		return false
	}
}

// InteractionMode is the session-wide choice of delivery channel behavior.
// It is set once at mode selection and fixed until an explicit reset.
type InteractionMode string

const (
	// ModeUnset means the participant has not chosen a mode yet.
	ModeUnset InteractionMode = ""
	// ModeText delivers prompts as text messages.
	ModeText InteractionMode = "text"
	// ModeVoice delivers prompts as synthesized audio and resolves inbound
	// audio through transcription.
	ModeVoice InteractionMode = "voice"
)

// Recording maps a completed task to the public URL of its stored audio.
type Recording struct {
	TaskID string `json:"task_id"`
	URL    string `json:"url"`
}

// Metadata holds every field collected during a session.
// Recordings preserves insertion order, which equals task completion order.
type Metadata struct {
	Name             string      `json:"name,omitempty"`
	Age              int         `json:"age,omitempty"`
	SmokingStatus    string      `json:"smoking_status,omitempty"`
	Diagnosis        string      `json:"diagnosis,omitempty"`
	EmotionalState   int         `json:"emotional_state,omitempty"`
	Environment      string      `json:"environment,omitempty"`
	Consented        bool        `json:"consented,omitempty"`
	CurrentAudioTask string      `json:"current_audio_task,omitempty"`
	Recordings       []Recording `json:"recordings,omitempty"`
}

// RecordingURL returns the stored URL for a task id, if any.
func (m Metadata) RecordingURL(taskID string) (string, bool) {
	for _, rec := range m.Recordings {
		if rec.TaskID == taskID {
			return rec.URL, true
		}
	}
	return "", false
}

// Session represents one participant's conversation state.
type Session struct {
	SenderID   string          `json:"sender_id"`
	Stage      Stage           `json:"stage"`
	Mode       InteractionMode `json:"interaction_mode"`
	Metadata   Metadata        `json:"metadata"`
	TasksQueue []string        `json:"tasks_queue,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// NewSession creates a fresh session for the given sender at the initial stage.
func NewSession(senderID string) Session {
	now := time.Now()
	return Session{
		SenderID:  senderID,
		Stage:     StageInitial,
		Mode:      ModeUnset,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// DequeueTask pops the next task id off the front of the queue.
// It returns the empty string when the queue is exhausted.
func (s *Session) DequeueTask() string {
	if len(s.TasksQueue) == 0 {
		return ""
	}
	next := s.TasksQueue[0]
	s.TasksQueue = s.TasksQueue[1:]
	return next
}
