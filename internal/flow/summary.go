package flow

import (
	"fmt"
	"strings"

	"github.com/angelia-ai/curumim/internal/models"
)

// RenderSummary produces the deterministic completion report sent when every
// recording task is done: all collected metadata followed by the ordered list
// of task recordings.
func RenderSummary(sess models.Session) string {
	var b strings.Builder
	b.WriteString("🎉 Coleta concluída! Muito obrigado por ajudar a Angelia AI.\n\n")
	b.WriteString("Resumo da sua contribuição:\n")
	fmt.Fprintf(&b, "• Nome: %s\n", sess.Metadata.Name)
	fmt.Fprintf(&b, "• Idade: %d\n", sess.Metadata.Age)
	fmt.Fprintf(&b, "• Tabagismo: %s\n", sess.Metadata.SmokingStatus)
	fmt.Fprintf(&b, "• Diagnóstico: %s\n", sess.Metadata.Diagnosis)
	fmt.Fprintf(&b, "• Estado emocional: %d/%d\n", sess.Metadata.EmotionalState, MaxEmotionalScore)
	fmt.Fprintf(&b, "• Ambiente: %s\n", sess.Metadata.Environment)

	if len(sess.Metadata.Recordings) > 0 {
		b.WriteString("\nGravações:\n")
		for i, rec := range sess.Metadata.Recordings {
			fmt.Fprintf(&b, "%d. %s: %s\n", i+1, rec.TaskID, rec.URL)
		}
	}

	b.WriteString("\nSe quiser contribuir novamente, digite /start.")
	return b.String()
}
