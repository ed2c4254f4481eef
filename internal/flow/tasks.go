// Package flow implements the Curumim conversation engine: the per-user
// state machine that drives consent, demographics, and the voice-recording
// task queue.
package flow

// Task is one voice-recording request/response cycle. The instruction is
// sent verbatim as the prompt when the task becomes current.
type Task struct {
	ID          string
	Instruction string
}

// Well-known task ids, in catalog order.
const (
	TaskSilence      = "silence"
	TaskVogalA       = "vogal_a"
	TaskVogalE       = "vogal_e"
	TaskVogalI       = "vogal_i"
	TaskVogalO       = "vogal_o"
	TaskFricativoS   = "fricativo_s"
	TaskFricativoZ   = "fricativo_z"
	TaskSentenceRead = "sentence_read"
)

// catalog is the fixed, ordered list of recording tasks every completed
// session must capture.
var catalog = []Task{
	{TaskSilence, "Grave e envie um áudio de uns 5 segundos em *silêncio*, sem falar nada. Queremos registrar o som do seu ambiente."},
	{TaskVogalA, "Grave e envie um áudio com a *vogal 'A' sustentada* por 3 a 5 segundos (ex: Aaaaaa...)."},
	{TaskVogalE, "Grave e envie um áudio com a *vogal 'E' sustentada* por 3 a 5 segundos (ex: Eeeeee...)."},
	{TaskVogalI, "Grave e envie um áudio com a *vogal 'I' sustentada* por 3 a 5 segundos (ex: Iiiiii...)."},
	{TaskVogalO, "Grave e envie um áudio com a *vogal 'O' sustentada* por 3 a 5 segundos (ex: Oooooo...)."},
	{TaskFricativoS, "Grave e envie um áudio sustentando o som *'Ssss'* por 3 a 5 segundos."},
	{TaskFricativoZ, "Grave e envie um áudio sustentando o som *'Zzzz'* por 3 a 5 segundos."},
	{TaskSentenceRead, "Para terminar, grave e envie um áudio lendo em voz alta a frase: *'O sol ilumina a floresta e o rio corre tranquilo até o mar.'*"},
}

// Catalog returns a copy of the ordered task catalog.
func Catalog() []Task {
	tasks := make([]Task, len(catalog))
	copy(tasks, catalog)
	return tasks
}

// CatalogQueue returns the ordered task ids used to seed a session's queue.
func CatalogQueue() []string {
	queue := make([]string, len(catalog))
	for i, t := range catalog {
		queue[i] = t.ID
	}
	return queue
}

// TaskInstruction returns the instruction text for a task id.
// Unknown ids return the empty string.
func TaskInstruction(taskID string) string {
	for _, t := range catalog {
		if t.ID == taskID {
			return t.Instruction
		}
	}
	return ""
}
