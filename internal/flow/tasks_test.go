package flow

import (
	"strings"
	"testing"

	"github.com/angelia-ai/curumim/internal/models"
)

func TestCatalogQueueMatchesCatalogOrder(t *testing.T) {
	queue := CatalogQueue()
	tasks := Catalog()
	if len(queue) != len(tasks) {
		t.Fatalf("queue length %d != catalog length %d", len(queue), len(tasks))
	}
	for i, id := range queue {
		if id != tasks[i].ID {
			t.Errorf("position %d: queue has %q, catalog has %q", i, id, tasks[i].ID)
		}
	}
	if queue[0] != TaskSilence {
		t.Errorf("expected catalog to start with %q, got %q", TaskSilence, queue[0])
	}
	if queue[len(queue)-1] != TaskSentenceRead {
		t.Errorf("expected catalog to end with %q, got %q", TaskSentenceRead, queue[len(queue)-1])
	}
}

func TestCatalogReturnsCopy(t *testing.T) {
	tasks := Catalog()
	tasks[0].Instruction = "mutated"
	if Catalog()[0].Instruction == "mutated" {
		t.Error("Catalog exposed internal slice")
	}
}

func TestTaskInstruction(t *testing.T) {
	if got := TaskInstruction(TaskVogalA); !strings.Contains(got, "'A'") {
		t.Errorf("unexpected vogal_a instruction: %q", got)
	}
	if got := TaskInstruction("no_such_task"); got != "" {
		t.Errorf("expected empty instruction for unknown task, got %q", got)
	}
}

func TestRenderSummary(t *testing.T) {
	sess := models.NewSession(testSender)
	sess.Metadata = models.Metadata{
		Name:           "Maria",
		Age:            30,
		SmokingStatus:  "não fumante",
		Diagnosis:      "Saudável",
		EmotionalState: 4,
		Environment:    "Quarto silencioso",
		Recordings: []models.Recording{
			{TaskID: TaskSilence, URL: "https://pub-test.r2.dev/b/silence.ogg"},
			{TaskID: TaskVogalA, URL: "https://pub-test.r2.dev/b/vogal_a.ogg"},
		},
	}

	got := RenderSummary(sess)
	for _, want := range []string{
		"Nome: Maria",
		"Idade: 30",
		"Tabagismo: não fumante",
		"Diagnóstico: Saudável",
		"Estado emocional: 4/5",
		"Ambiente: Quarto silencioso",
		"1. silence: https://pub-test.r2.dev/b/silence.ogg",
		"2. vogal_a: https://pub-test.r2.dev/b/vogal_a.ogg",
		"/start",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("summary missing %q:\n%s", want, got)
		}
	}
}

func TestRenderSummaryWithoutRecordings(t *testing.T) {
	sess := models.NewSession(testSender)
	if got := RenderSummary(sess); strings.Contains(got, "Gravações") {
		t.Errorf("expected no recordings section, got:\n%s", got)
	}
}
