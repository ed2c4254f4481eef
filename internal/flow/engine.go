package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/angelia-ai/curumim/internal/media"
	"github.com/angelia-ai/curumim/internal/models"
	"github.com/angelia-ai/curumim/internal/session"
	"github.com/google/uuid"
)

// Validation bounds for collected demographics.
const (
	MinAge            = 5
	MaxAge            = 120
	MinEmotionalScore = 1
	MaxEmotionalScore = 5
)

// MsgGenericApology is sent when a turn fails for reasons outside the
// participant's control. The session stage is left untouched so the same
// prompt is re-issued on the next attempt.
const MsgGenericApology = "Desculpe, tive um problema por aqui. Pode tentar de novo?"

// resetCommands restart a session from any stage, taking priority over
// stage-specific parsing.
var resetCommands = map[string]bool{
	"/start":    true,
	"reiniciar": true,
}

// smokingStatuses maps accepted answers to their canonical form.
var smokingStatuses = map[string]string{
	"fumante":     "fumante",
	"ex-fumante":  "ex-fumante",
	"não fumante": "não fumante",
	"nao fumante": "não fumante",
}

// Opts holds configuration options for the conversation engine.
type Opts struct {
	// TranscribeSilence also transcribes the silence-task recording when
	// voice-mode transcription of recordings is active.
	TranscribeSilence bool
}

// Option defines a configuration option for the conversation engine.
type Option func(*Opts)

// WithTranscribeSilence enables transcription of the silence-task recording.
func WithTranscribeSilence() Option {
	return func(o *Opts) { o.TranscribeSilence = true }
}

// Engine is the per-user conversation state machine. Given the session state
// and one inbound event it computes the next stage, mutates collected
// metadata, and produces the outbound reply.
//
// Engine methods are safe for concurrent use across senders; events for the
// same sender must be serialized by the caller (see messaging.Dispatcher).
type Engine struct {
	store             session.Store
	gateway           media.Gateway
	caps              media.Capabilities
	transcribeSilence bool
}

// NewEngine creates a conversation engine with its collaborators.
// The capability descriptor gates voice-mode selection.
func NewEngine(store session.Store, gateway media.Gateway, caps media.Capabilities, opts ...Option) *Engine {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Engine created", "voice_ready", caps.VoiceReady(), "transcribe_silence", cfg.TranscribeSilence)
	return &Engine{
		store:             store,
		gateway:           gateway,
		caps:              caps,
		transcribeSilence: cfg.TranscribeSilence,
	}
}

// input carries both the verbatim text (stored into metadata) and its
// normalized form (matched against stage predicates).
type input struct {
	raw   string
	lower string
}

func newInput(text string) input {
	raw := strings.TrimSpace(text)
	return input{raw: raw, lower: strings.ToLower(raw)}
}

// HandleEvent processes one inbound event for a sender and returns the reply.
// Exactly one reply is produced per event; on error the caller apologizes and
// the session is left as if the turn never happened.
func (e *Engine) HandleEvent(ctx context.Context, ev models.InboundEvent) (models.Reply, error) {
	if ev.SenderID == "" {
		return models.Reply{}, models.ErrEmptySender
	}
	if strings.TrimSpace(ev.Text) == "" && !ev.AudioPresent {
		return models.Reply{}, models.ErrEmptyEvent
	}

	sess, err := e.store.GetOrCreate(ctx, ev.SenderID)
	if err != nil {
		return models.Reply{}, fmt.Errorf("failed to load session: %w", err)
	}
	slog.Debug("Engine HandleEvent", "sender", ev.SenderID, "stage", sess.Stage, "mode", sess.Mode, "audio", ev.AudioPresent)

	in := newInput(ev.Text)

	// The reset command beats every stage-specific rule.
	if resetCommands[in.lower] {
		return e.resetSession(ctx, sess)
	}

	// Mode divergence: resolve audio-vs-text mismatches before dispatching.
	if ev.AudioPresent && sess.Stage != models.StageAwaitingAudio {
		if sess.Mode == models.ModeUnset {
			// First contact arrived as a voice note. No mode has been
			// chosen yet, so re-send the welcome instead of a mismatch.
			slog.Debug("Engine audio before mode selection", "sender", ev.SenderID)
			return e.reply(sess, msgWelcome), nil
		}
		if sess.Mode != models.ModeVoice {
			slog.Debug("Engine rejecting audio in text mode", "sender", ev.SenderID, "stage", sess.Stage)
			return e.reply(sess, msgTextModeMismatch), nil
		}
		text, err := e.gateway.Transcribe(ctx, ev.AudioData, ev.AudioContentType)
		if err != nil {
			slog.Warn("Engine transcription failed", "error", err, "sender", ev.SenderID, "stage", sess.Stage)
			return e.reply(sess, msgTranscriptionFailed), nil
		}
		in = newInput(text)
		if in.raw == "" {
			return e.reply(sess, msgTranscriptionFailed), nil
		}
		// A spoken reset command keeps its priority over stage handling.
		if resetCommands[in.lower] {
			return e.resetSession(ctx, sess)
		}
	}
	if !ev.AudioPresent && sess.Stage == models.StageAwaitingAudio {
		slog.Debug("Engine expected audio, got text", "sender", ev.SenderID, "task", sess.Metadata.CurrentAudioTask)
		return e.reply(sess, msgAudioExpected), nil
	}

	reply, mutated, err := e.advance(ctx, &sess, in, ev)
	if err != nil {
		return models.Reply{}, err
	}
	if mutated {
		sess.UpdatedAt = time.Now()
		if err := e.store.Save(ctx, sess); err != nil {
			return models.Reply{}, fmt.Errorf("failed to save session: %w", err)
		}
		slog.Info("Engine stage advanced", "sender", ev.SenderID, "stage", sess.Stage)
	}
	return e.reply(sess, reply), nil
}

// resetSession wipes the sender's session and replies with the welcome. The
// restart notice is prepended unless the conversation had not started yet.
func (e *Engine) resetSession(ctx context.Context, sess models.Session) (models.Reply, error) {
	fresh, err := e.store.Reset(ctx, sess.SenderID)
	if err != nil {
		return models.Reply{}, fmt.Errorf("failed to reset session: %w", err)
	}
	slog.Info("Engine session reset", "sender", sess.SenderID, "previous_stage", sess.Stage)
	reply := msgWelcome
	if sess.Stage != models.StageInitial {
		reply = msgRestart + msgWelcome
	}
	return e.reply(fresh, reply), nil
}

// reply wraps text in a Reply whose delivery kind follows the session mode.
// The transport downgrades audio delivery to text when synthesis fails.
func (e *Engine) reply(sess models.Session, text string) models.Reply {
	deliverAs := models.DeliverAsText
	if sess.Mode == models.ModeVoice {
		deliverAs = models.DeliverAsAudio
	}
	return models.Reply{Text: text, DeliverAs: deliverAs}
}

// advance dispatches the resolved input against the current stage. It returns
// the reply text and whether the session was mutated (and must be saved).
func (e *Engine) advance(ctx context.Context, sess *models.Session, in input, ev models.InboundEvent) (string, bool, error) {
	switch sess.Stage {
	case models.StageInitial:
		return e.selectMode(sess, in)
	case models.StageAwaitingConsent:
		return e.recordConsent(sess, in)
	case models.StageRequestingFirstAudioTask:
		// Pass-through stage: normally consumed within the turn that seeds
		// the queue, but dispatch from it too in case a session was
		// persisted mid-transition.
		return e.startFirstTask(sess), true, nil
	case models.StageAwaitingAudio:
		return e.recordTask(ctx, sess, ev)
	case models.StageFinishedTasks, models.StageFinished:
		return msgFinished, false, nil
	default:
		spec, ok := transitions[sess.Stage]
		if !ok {
			// Unreachable stage values must not strand the session.
			slog.Error("Engine unrecognized stage, restarting session", "sender", sess.SenderID, "stage", sess.Stage)
			*sess = models.NewSession(sess.SenderID)
			return msgWelcome, true, nil
		}
		if !spec.accept(in.lower) {
			slog.Debug("Engine input rejected", "sender", sess.SenderID, "stage", sess.Stage)
			return spec.reject, false, nil
		}
		spec.apply(sess, in)
		sess.Stage = spec.next
		reply := spec.prompt(sess)
		if sess.Stage == models.StageRequestingFirstAudioTask {
			reply = reply + "\n\n" + e.startFirstTask(sess)
		}
		return reply, true, nil
	}
}

// selectMode handles the initial stage: "texto" or "voz". Choosing voice
// without every voice collaborator available falls back to text with a
// one-time warning.
func (e *Engine) selectMode(sess *models.Session, in input) (string, bool, error) {
	switch in.lower {
	case "texto":
		sess.Mode = models.ModeText
		sess.Stage = models.StageAwaitingConsent
		return msgConsent, true, nil
	case "voz":
		if !e.caps.VoiceReady() {
			slog.Warn("Engine voice mode unavailable, forcing text", "sender", sess.SenderID,
				"transcription", e.caps.Transcription, "synthesis", e.caps.Synthesis, "storage", e.caps.Storage)
			sess.Mode = models.ModeText
			sess.Stage = models.StageAwaitingConsent
			return msgVoiceUnavailable + "\n\n" + msgConsent, true, nil
		}
		sess.Mode = models.ModeVoice
		sess.Stage = models.StageAwaitingConsent
		return msgConsent, true, nil
	default:
		// First contact lands here too: the welcome doubles as the
		// mode-selection re-prompt.
		return msgWelcome, false, nil
	}
}

// recordConsent handles the consent branch: yes proceeds to the interview,
// no ends the session.
func (e *Engine) recordConsent(sess *models.Session, in input) (string, bool, error) {
	switch in.lower {
	case "sim", "s":
		sess.Metadata.Consented = true
		sess.Stage = models.StageAwaitingName
		return msgAskName, true, nil
	case "não", "nao", "n":
		sess.Stage = models.StageFinished
		return msgConsentDeclined, true, nil
	default:
		return msgConsentReprompt, false, nil
	}
}

// startFirstTask dequeues the first catalog task and moves to the audio stage.
func (e *Engine) startFirstTask(sess *models.Session) string {
	task := sess.DequeueTask()
	sess.Metadata.CurrentAudioTask = task
	sess.Stage = models.StageAwaitingAudio
	return promptTask(task, 1, len(catalog))
}

// recordTask stores the received recording for the current task, then either
// requests the next task or renders the completion summary.
func (e *Engine) recordTask(ctx context.Context, sess *models.Session, ev models.InboundEvent) (string, bool, error) {
	taskID := sess.Metadata.CurrentAudioTask
	if taskID == "" {
		slog.Error("Engine audio stage without current task", "sender", sess.SenderID)
		sess.Stage = models.StageFinishedTasks
		return RenderSummary(*sess), true, nil
	}

	contentType := ev.AudioContentType
	if contentType == "" {
		contentType = "audio/ogg"
	}
	key := recordingKey(sess.SenderID, taskID)
	url, err := e.gateway.Store(ctx, ev.AudioData, key, contentType)
	if err != nil {
		slog.Error("Engine failed to store recording", "error", err, "sender", sess.SenderID, "task", taskID)
		return msgAudioStoreFailed, false, nil
	}
	sess.Metadata.Recordings = append(sess.Metadata.Recordings, models.Recording{TaskID: taskID, URL: url})
	slog.Info("Engine recording stored", "sender", sess.SenderID, "task", taskID, "url", url)

	// Voice-mode recordings are transcribed for the research log; the
	// silence task is skipped unless explicitly enabled.
	if sess.Mode == models.ModeVoice && e.caps.Transcription && (taskID != TaskSilence || e.transcribeSilence) {
		if text, err := e.gateway.Transcribe(ctx, ev.AudioData, contentType); err == nil {
			slog.Debug("Engine recording transcript", "sender", sess.SenderID, "task", taskID, "text", text)
		} else {
			slog.Debug("Engine recording transcript unavailable", "error", err, "sender", sess.SenderID, "task", taskID)
		}
	}

	next := sess.DequeueTask()
	if next == "" {
		sess.Metadata.CurrentAudioTask = ""
		sess.Stage = models.StageFinishedTasks
		return msgAudioReceived + "\n\n" + RenderSummary(*sess), true, nil
	}
	sess.Metadata.CurrentAudioTask = next
	position := len(sess.Metadata.Recordings) + 1
	return msgAudioReceived + "\n\n" + promptTask(next, position, len(catalog)), true, nil
}

// recordingKey builds the blob storage key for a task recording.
func recordingKey(senderID, taskID string) string {
	user := strings.TrimPrefix(senderID, "whatsapp:")
	user = strings.TrimPrefix(user, "+")
	return fmt.Sprintf("curumim_audios/%s/%s_%s.ogg", user, taskID, strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// stageSpec is one row of the transition table: the acceptance predicate, the
// metadata mutation, the successor stage, and the success/rejection prompts.
type stageSpec struct {
	accept func(lower string) bool
	apply  func(sess *models.Session, in input)
	next   models.Stage
	prompt func(sess *models.Session) string
	reject string
}

// transitions drives the linear data-collection stages. Branching stages
// (mode selection, consent) and the audio loop have dedicated handlers.
var transitions = map[models.Stage]stageSpec{
	models.StageAwaitingName: {
		accept: nonEmpty,
		apply:  func(sess *models.Session, in input) { sess.Metadata.Name = in.raw },
		next:   models.StageAwaitingAge,
		prompt: func(sess *models.Session) string { return promptAskAge(sess.Metadata.Name) },
		reject: msgNameReprompt,
	},
	models.StageAwaitingAge: {
		accept: func(lower string) bool { return inRange(lower, MinAge, MaxAge) },
		apply: func(sess *models.Session, in input) {
			sess.Metadata.Age, _ = strconv.Atoi(in.raw)
		},
		next:   models.StageAwaitingSmokingStatus,
		prompt: func(sess *models.Session) string { return msgAskSmoking },
		reject: msgAgeReprompt,
	},
	models.StageAwaitingSmokingStatus: {
		accept: func(lower string) bool { _, ok := smokingStatuses[lower]; return ok },
		apply: func(sess *models.Session, in input) {
			sess.Metadata.SmokingStatus = smokingStatuses[in.lower]
		},
		next:   models.StageAwaitingDiagnosis,
		prompt: func(sess *models.Session) string { return msgAskDiagnosis },
		reject: msgSmokingReprompt,
	},
	models.StageAwaitingDiagnosis: {
		accept: nonEmpty,
		apply:  func(sess *models.Session, in input) { sess.Metadata.Diagnosis = in.raw },
		next:   models.StageAwaitingEmotionalState,
		prompt: func(sess *models.Session) string { return msgAskEmotional },
		reject: msgDiagnosisReprompt,
	},
	models.StageAwaitingEmotionalState: {
		accept: func(lower string) bool { return inRange(lower, MinEmotionalScore, MaxEmotionalScore) },
		apply: func(sess *models.Session, in input) {
			sess.Metadata.EmotionalState, _ = strconv.Atoi(in.raw)
		},
		next:   models.StageAwaitingEnvironment,
		prompt: func(sess *models.Session) string { return msgAskEnvironment },
		reject: msgEmotionalReprompt,
	},
	models.StageAwaitingEnvironment: {
		accept: nonEmpty,
		apply: func(sess *models.Session, in input) {
			sess.Metadata.Environment = in.raw
			sess.TasksQueue = CatalogQueue()
		},
		next:   models.StageRequestingFirstAudioTask,
		prompt: func(sess *models.Session) string { return promptTasksIntro(len(catalog)) },
		reject: msgEnvironmentReprompt,
	},
}

func nonEmpty(lower string) bool {
	return lower != ""
}

// inRange reports whether the input is an integer string within [min, max].
func inRange(lower string, min, max int) bool {
	v, err := strconv.Atoi(lower)
	if err != nil {
		return false
	}
	return v >= min && v <= max
}
