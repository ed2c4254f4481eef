package flow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/angelia-ai/curumim/internal/media"
	"github.com/angelia-ai/curumim/internal/models"
	"github.com/angelia-ai/curumim/internal/session"
)

const testSender = "whatsapp:+5511999990000"

var fullCaps = media.Capabilities{Transcription: true, Synthesis: true, Storage: true}

func newTestEngine(t *testing.T, gw *media.MockGateway, caps media.Capabilities, opts ...Option) (*Engine, session.Store) {
	t.Helper()
	store := session.NewInMemoryStore()
	return NewEngine(store, gw, caps, opts...), store
}

func sendText(t *testing.T, e *Engine, text string) models.Reply {
	t.Helper()
	reply, err := e.HandleEvent(context.Background(), models.InboundEvent{SenderID: testSender, Text: text})
	if err != nil {
		t.Fatalf("HandleEvent(%q) error: %v", text, err)
	}
	return reply
}

func sendAudio(t *testing.T, e *Engine) models.Reply {
	t.Helper()
	reply, err := e.HandleEvent(context.Background(), models.InboundEvent{
		SenderID:         testSender,
		AudioPresent:     true,
		AudioData:        []byte("opus-bytes"),
		AudioContentType: "audio/ogg",
	})
	if err != nil {
		t.Fatalf("HandleEvent(audio) error: %v", err)
	}
	return reply
}

func stageOf(t *testing.T, store session.Store) models.Session {
	t.Helper()
	sess, err := store.GetOrCreate(context.Background(), testSender)
	if err != nil {
		t.Fatalf("GetOrCreate error: %v", err)
	}
	return sess
}

func TestHandleEventValidation(t *testing.T) {
	e, _ := newTestEngine(t, &media.MockGateway{}, fullCaps)

	_, err := e.HandleEvent(context.Background(), models.InboundEvent{Text: "oi"})
	if !errors.Is(err, models.ErrEmptySender) {
		t.Errorf("expected ErrEmptySender, got %v", err)
	}

	_, err = e.HandleEvent(context.Background(), models.InboundEvent{SenderID: testSender, Text: "   "})
	if !errors.Is(err, models.ErrEmptyEvent) {
		t.Errorf("expected ErrEmptyEvent, got %v", err)
	}
}

func TestFirstContactSendsWelcome(t *testing.T) {
	e, store := newTestEngine(t, &media.MockGateway{}, fullCaps)

	reply := sendText(t, e, "oi, tudo bem?")
	if reply.Text != msgWelcome {
		t.Errorf("expected welcome, got %q", reply.Text)
	}
	if reply.DeliverAs != models.DeliverAsText {
		t.Errorf("expected text delivery, got %q", reply.DeliverAs)
	}
	if sess := stageOf(t, store); sess.Stage != models.StageInitial {
		t.Errorf("expected stage %q, got %q", models.StageInitial, sess.Stage)
	}
}

func TestTextWalkthrough(t *testing.T) {
	gw := &media.MockGateway{}
	e, store := newTestEngine(t, gw, fullCaps)

	steps := []struct {
		input     string
		wantStage models.Stage
		wantReply string
	}{
		{"texto", models.StageAwaitingConsent, msgConsent},
		{"sim", models.StageAwaitingName, msgAskName},
		{"Maria", models.StageAwaitingAge, promptAskAge("Maria")},
		{"30", models.StageAwaitingSmokingStatus, msgAskSmoking},
		{"não fumante", models.StageAwaitingDiagnosis, msgAskDiagnosis},
		{"Saudável", models.StageAwaitingEmotionalState, msgAskEmotional},
		{"4", models.StageAwaitingEnvironment, msgAskEnvironment},
	}
	sendText(t, e, "olá") // first contact
	for _, step := range steps {
		reply := sendText(t, e, step.input)
		if reply.Text != step.wantReply {
			t.Fatalf("input %q: expected reply %q, got %q", step.input, step.wantReply, reply.Text)
		}
		if sess := stageOf(t, store); sess.Stage != step.wantStage {
			t.Fatalf("input %q: expected stage %q, got %q", step.input, step.wantStage, sess.Stage)
		}
	}

	// The environment answer seeds the task queue and the reply chains the
	// tasks intro with the first task prompt in the same turn.
	reply := sendText(t, e, "Quarto silencioso")
	wantFirst := promptTasksIntro(len(catalog)) + "\n\n" + promptTask(TaskSilence, 1, len(catalog))
	if reply.Text != wantFirst {
		t.Fatalf("expected first-task prompt %q, got %q", wantFirst, reply.Text)
	}
	sess := stageOf(t, store)
	if sess.Stage != models.StageAwaitingAudio {
		t.Fatalf("expected stage %q, got %q", models.StageAwaitingAudio, sess.Stage)
	}
	if sess.Metadata.CurrentAudioTask != TaskSilence {
		t.Fatalf("expected current task %q, got %q", TaskSilence, sess.Metadata.CurrentAudioTask)
	}
	if len(sess.TasksQueue) != len(catalog)-1 {
		t.Fatalf("expected %d queued tasks, got %d", len(catalog)-1, len(sess.TasksQueue))
	}

	// Drain the queue in catalog order.
	for i := 1; i < len(catalog); i++ {
		reply := sendAudio(t, e)
		want := msgAudioReceived + "\n\n" + promptTask(catalog[i].ID, i+1, len(catalog))
		if reply.Text != want {
			t.Fatalf("task %d: expected %q, got %q", i, want, reply.Text)
		}
	}

	// Last recording completes the session and renders the summary.
	reply = sendAudio(t, e)
	if !strings.HasPrefix(reply.Text, msgAudioReceived) {
		t.Fatalf("expected final ack, got %q", reply.Text)
	}
	if !strings.Contains(reply.Text, "Maria") || !strings.Contains(reply.Text, "Quarto silencioso") {
		t.Errorf("summary missing collected metadata: %q", reply.Text)
	}

	sess = stageOf(t, store)
	if sess.Stage != models.StageFinishedTasks {
		t.Errorf("expected stage %q, got %q", models.StageFinishedTasks, sess.Stage)
	}
	if len(sess.Metadata.Recordings) != len(catalog) {
		t.Fatalf("expected %d recordings, got %d", len(catalog), len(sess.Metadata.Recordings))
	}
	for i, rec := range sess.Metadata.Recordings {
		if rec.TaskID != catalog[i].ID {
			t.Errorf("recording %d: expected task %q, got %q", i, catalog[i].ID, rec.TaskID)
		}
		if rec.URL == "" {
			t.Errorf("recording %d: empty URL", i)
		}
	}
	if len(gw.StoredKeys) != len(catalog) {
		t.Errorf("expected %d stored blobs, got %d", len(catalog), len(gw.StoredKeys))
	}
	for i, key := range gw.StoredKeys {
		prefix := "curumim_audios/5511999990000/" + catalog[i].ID + "_"
		if !strings.HasPrefix(key, prefix) {
			t.Errorf("key %d: expected prefix %q, got %q", i, prefix, key)
		}
		if !strings.HasSuffix(key, ".ogg") {
			t.Errorf("key %d: expected .ogg suffix, got %q", i, key)
		}
	}

	// Any further message just reports completion.
	if reply := sendText(t, e, "obrigado!"); reply.Text != msgFinished {
		t.Errorf("expected %q after completion, got %q", msgFinished, reply.Text)
	}
}

func TestRejectionsHoldStage(t *testing.T) {
	tests := []struct {
		name      string
		setup     []string
		input     string
		wantReply string
		wantStage models.Stage
	}{
		{"consent gibberish", []string{"texto"}, "talvez", msgConsentReprompt, models.StageAwaitingConsent},
		{"age not a number", []string{"texto", "sim", "Maria"}, "trinta", msgAgeReprompt, models.StageAwaitingAge},
		{"age below range", []string{"texto", "sim", "Maria"}, "4", msgAgeReprompt, models.StageAwaitingAge},
		{"age above range", []string{"texto", "sim", "Maria"}, "121", msgAgeReprompt, models.StageAwaitingAge},
		{"smoking unknown", []string{"texto", "sim", "Maria", "30"}, "as vezes", msgSmokingReprompt, models.StageAwaitingSmokingStatus},
		{"emotional out of range", []string{"texto", "sim", "Maria", "30", "fumante", "asma"}, "6", msgEmotionalReprompt, models.StageAwaitingEmotionalState},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e, store := newTestEngine(t, &media.MockGateway{}, fullCaps)
			for _, s := range tc.setup {
				sendText(t, e, s)
			}
			reply := sendText(t, e, tc.input)
			if reply.Text != tc.wantReply {
				t.Errorf("expected %q, got %q", tc.wantReply, reply.Text)
			}
			if sess := stageOf(t, store); sess.Stage != tc.wantStage {
				t.Errorf("expected stage %q, got %q", tc.wantStage, sess.Stage)
			}
		})
	}
}

func TestSmokingStatusCanonicalized(t *testing.T) {
	e, store := newTestEngine(t, &media.MockGateway{}, fullCaps)
	for _, s := range []string{"texto", "sim", "Maria", "30"} {
		sendText(t, e, s)
	}
	sendText(t, e, "NAO FUMANTE")
	if sess := stageOf(t, store); sess.Metadata.SmokingStatus != "não fumante" {
		t.Errorf("expected canonical smoking status, got %q", sess.Metadata.SmokingStatus)
	}
}

func TestConsentDeclined(t *testing.T) {
	e, store := newTestEngine(t, &media.MockGateway{}, fullCaps)
	sendText(t, e, "texto")

	reply := sendText(t, e, "não")
	if reply.Text != msgConsentDeclined {
		t.Errorf("expected decline message, got %q", reply.Text)
	}
	if sess := stageOf(t, store); sess.Stage != models.StageFinished {
		t.Errorf("expected stage %q, got %q", models.StageFinished, sess.Stage)
	}

	// Terminal stage absorbs everything except a reset.
	if reply := sendText(t, e, "sim"); reply.Text != msgFinished {
		t.Errorf("expected %q, got %q", msgFinished, reply.Text)
	}
	reply = sendText(t, e, "/start")
	if !strings.HasPrefix(reply.Text, msgRestart) {
		t.Errorf("expected restart prefix, got %q", reply.Text)
	}
	if sess := stageOf(t, store); sess.Stage != models.StageInitial {
		t.Errorf("expected stage %q after reset, got %q", models.StageInitial, sess.Stage)
	}
}

func TestResetCommands(t *testing.T) {
	for _, cmd := range []string{"/start", "REINICIAR", "  reiniciar  "} {
		t.Run(cmd, func(t *testing.T) {
			e, store := newTestEngine(t, &media.MockGateway{}, fullCaps)
			for _, s := range []string{"texto", "sim", "Maria"} {
				sendText(t, e, s)
			}
			reply := sendText(t, e, cmd)
			if reply.Text != msgRestart+msgWelcome {
				t.Errorf("expected restart+welcome, got %q", reply.Text)
			}
			sess := stageOf(t, store)
			if sess.Stage != models.StageInitial {
				t.Errorf("expected stage %q, got %q", models.StageInitial, sess.Stage)
			}
			if sess.Metadata.Name != "" {
				t.Errorf("expected metadata wiped, got name %q", sess.Metadata.Name)
			}
			if sess.Mode != models.ModeUnset {
				t.Errorf("expected mode unset, got %q", sess.Mode)
			}
		})
	}
}

func TestResetAtInitialOmitsRestartNotice(t *testing.T) {
	e, _ := newTestEngine(t, &media.MockGateway{}, fullCaps)
	reply := sendText(t, e, "/start")
	if reply.Text != msgWelcome {
		t.Errorf("expected bare welcome, got %q", reply.Text)
	}
}

func TestVoiceModeUnavailableFallsBackToText(t *testing.T) {
	caps := media.Capabilities{Transcription: true, Synthesis: false, Storage: true}
	e, store := newTestEngine(t, &media.MockGateway{}, caps)

	reply := sendText(t, e, "voz")
	if reply.Text != msgVoiceUnavailable+"\n\n"+msgConsent {
		t.Errorf("expected fallback notice + consent, got %q", reply.Text)
	}
	if reply.DeliverAs != models.DeliverAsText {
		t.Errorf("expected text delivery, got %q", reply.DeliverAs)
	}
	sess := stageOf(t, store)
	if sess.Mode != models.ModeText {
		t.Errorf("expected text mode, got %q", sess.Mode)
	}
	if sess.Stage != models.StageAwaitingConsent {
		t.Errorf("expected stage %q, got %q", models.StageAwaitingConsent, sess.Stage)
	}
}

func TestVoiceModeRepliesDeliverAsAudio(t *testing.T) {
	e, _ := newTestEngine(t, &media.MockGateway{}, fullCaps)

	reply := sendText(t, e, "voz")
	if reply.Text != msgConsent {
		t.Errorf("expected consent prompt, got %q", reply.Text)
	}
	if reply.DeliverAs != models.DeliverAsAudio {
		t.Errorf("expected audio delivery, got %q", reply.DeliverAs)
	}
}

func TestVoiceModeAudioAnswersAreTranscribed(t *testing.T) {
	gw := &media.MockGateway{TranscribeResult: "sim"}
	e, store := newTestEngine(t, gw, fullCaps)
	sendText(t, e, "voz")

	reply := sendAudio(t, e)
	if reply.Text != msgAskName {
		t.Errorf("expected name prompt, got %q", reply.Text)
	}
	if gw.TranscribeCalls != 1 {
		t.Errorf("expected 1 transcription, got %d", gw.TranscribeCalls)
	}
	if sess := stageOf(t, store); sess.Stage != models.StageAwaitingName {
		t.Errorf("expected stage %q, got %q", models.StageAwaitingName, sess.Stage)
	}
}

func TestVoiceModeTranscriptionFailureHoldsStage(t *testing.T) {
	gw := &media.MockGateway{TranscribeErr: errors.New("whisper down")}
	e, store := newTestEngine(t, gw, fullCaps)
	sendText(t, e, "voz")

	reply := sendAudio(t, e)
	if reply.Text != msgTranscriptionFailed {
		t.Errorf("expected transcription failure prompt, got %q", reply.Text)
	}
	if sess := stageOf(t, store); sess.Stage != models.StageAwaitingConsent {
		t.Errorf("expected stage unchanged, got %q", sess.Stage)
	}
}

func TestVoiceModeSpokenResetRestartsConversation(t *testing.T) {
	gw := &media.MockGateway{TranscribeResult: "reiniciar"}
	e, store := newTestEngine(t, gw, fullCaps)
	sendText(t, e, "voz")
	sendText(t, e, "sim")

	reply := sendAudio(t, e)
	if reply.Text != msgRestart+msgWelcome {
		t.Errorf("expected restart notice plus welcome, got %q", reply.Text)
	}
	sess := stageOf(t, store)
	if sess.Stage != models.StageInitial {
		t.Errorf("expected stage reset to %q, got %q", models.StageInitial, sess.Stage)
	}
	if sess.Metadata.Name != "" {
		t.Errorf("expected transcript not to be stored as name, got %q", sess.Metadata.Name)
	}
}

func TestFirstContactVoiceNoteResendsWelcome(t *testing.T) {
	gw := &media.MockGateway{TranscribeResult: "oi"}
	e, store := newTestEngine(t, gw, fullCaps)

	reply := sendAudio(t, e)
	if reply.Text != msgWelcome {
		t.Errorf("expected welcome, got %q", reply.Text)
	}
	if gw.TranscribeCalls != 0 {
		t.Errorf("expected no transcription, got %d calls", gw.TranscribeCalls)
	}
	if sess := stageOf(t, store); sess.Stage != models.StageInitial {
		t.Errorf("expected stage %q, got %q", models.StageInitial, sess.Stage)
	}
}

func TestTextModeRejectsAudioAnswers(t *testing.T) {
	gw := &media.MockGateway{TranscribeResult: "sim"}
	e, store := newTestEngine(t, gw, fullCaps)
	sendText(t, e, "texto")

	reply := sendAudio(t, e)
	if reply.Text != msgTextModeMismatch {
		t.Errorf("expected mode mismatch prompt, got %q", reply.Text)
	}
	if gw.TranscribeCalls != 0 {
		t.Errorf("expected no transcription, got %d calls", gw.TranscribeCalls)
	}
	if sess := stageOf(t, store); sess.Stage != models.StageAwaitingConsent {
		t.Errorf("expected stage unchanged, got %q", sess.Stage)
	}
}

func TestAudioStageRejectsText(t *testing.T) {
	e, store := newTestEngine(t, &media.MockGateway{}, fullCaps)
	for _, s := range []string{"texto", "sim", "Maria", "30", "fumante", "asma", "3", "quarto"} {
		sendText(t, e, s)
	}

	reply := sendText(t, e, "não consigo gravar agora")
	if reply.Text != msgAudioExpected {
		t.Errorf("expected audio-expected prompt, got %q", reply.Text)
	}
	sess := stageOf(t, store)
	if sess.Stage != models.StageAwaitingAudio {
		t.Errorf("expected stage %q, got %q", models.StageAwaitingAudio, sess.Stage)
	}
	if sess.Metadata.CurrentAudioTask != TaskSilence {
		t.Errorf("expected current task unchanged, got %q", sess.Metadata.CurrentAudioTask)
	}
}

func TestStoreFailureRetriesSameTask(t *testing.T) {
	gw := &media.MockGateway{StoreErr: errors.New("r2 unreachable")}
	e, store := newTestEngine(t, gw, fullCaps)
	for _, s := range []string{"texto", "sim", "Maria", "30", "fumante", "asma", "3", "quarto"} {
		sendText(t, e, s)
	}

	reply := sendAudio(t, e)
	if reply.Text != msgAudioStoreFailed {
		t.Errorf("expected store-failure prompt, got %q", reply.Text)
	}
	sess := stageOf(t, store)
	if sess.Metadata.CurrentAudioTask != TaskSilence {
		t.Errorf("expected task held, got %q", sess.Metadata.CurrentAudioTask)
	}
	if len(sess.Metadata.Recordings) != 0 {
		t.Errorf("expected no recordings, got %d", len(sess.Metadata.Recordings))
	}

	// Recovery: the same task succeeds on the next attempt.
	gw.StoreErr = nil
	reply = sendAudio(t, e)
	if !strings.HasPrefix(reply.Text, msgAudioReceived) {
		t.Errorf("expected ack after retry, got %q", reply.Text)
	}
	sess = stageOf(t, store)
	if len(sess.Metadata.Recordings) != 1 || sess.Metadata.Recordings[0].TaskID != TaskSilence {
		t.Errorf("expected silence recording stored, got %+v", sess.Metadata.Recordings)
	}
}

func TestVoiceModeRecordingsSkipSilenceTranscript(t *testing.T) {
	gw := &media.MockGateway{TranscribeResult: "sim"}
	e, _ := newTestEngine(t, gw, fullCaps)
	// Walk to the audio stage in voice mode; each text answer here arrives as
	// text to keep the setup simple (the engine accepts text in voice mode).
	for _, s := range []string{"voz", "sim", "Maria", "30", "fumante", "asma", "3", "quarto"} {
		sendText(t, e, s)
	}
	calls := gw.TranscribeCalls

	sendAudio(t, e) // silence task: no transcript
	if gw.TranscribeCalls != calls {
		t.Errorf("expected silence recording not transcribed, got %d extra calls", gw.TranscribeCalls-calls)
	}
	sendAudio(t, e) // vogal_a: transcribed for the research log
	if gw.TranscribeCalls != calls+1 {
		t.Errorf("expected vowel recording transcribed once, got %d extra calls", gw.TranscribeCalls-calls)
	}
}

func TestTranscribeSilenceOption(t *testing.T) {
	gw := &media.MockGateway{TranscribeResult: ""}
	e, _ := newTestEngine(t, gw, fullCaps, WithTranscribeSilence())
	for _, s := range []string{"voz", "sim", "Maria", "30", "fumante", "asma", "3", "quarto"} {
		sendText(t, e, s)
	}
	calls := gw.TranscribeCalls

	sendAudio(t, e)
	if gw.TranscribeCalls != calls+1 {
		t.Errorf("expected silence recording transcribed, got %d extra calls", gw.TranscribeCalls-calls)
	}
}
