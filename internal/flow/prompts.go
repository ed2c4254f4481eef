package flow

import "fmt"

// User-facing prompt texts. Every failure path speaks in the same tone as the
// normal prompts; raw error codes never reach the participant.
const (
	msgWelcome = "Olá! Eu sou Curumim, seu assistente para o projeto Angelia AI. " +
		"Posso te ajudar a contribuir com sua voz para a pesquisa de saúde.\n" +
		"Como você prefere interagir comigo? Digite *texto* ou *voz*."

	msgVoiceUnavailable = "No momento não consigo conversar por voz, então vamos seguir por texto, tudo bem?"

	msgConsent = "Antes de começarmos: você autoriza o uso das suas gravações e respostas " +
		"para a pesquisa de saúde da Angelia AI? Responda *sim* ou *não*."

	msgConsentReprompt = "Por favor, responda *sim* ou *não* para continuarmos."

	msgConsentDeclined = "Tudo bem, sem problemas! Obrigado pelo seu tempo. " +
		"Se mudar de ideia, é só digitar /start."

	msgAskName = "Ótimo! Para começar, me diga o seu *nome*."

	msgNameReprompt = "Por favor, me diga o seu nome."

	msgAskSmoking = "Qual é a sua relação com o cigarro? Responda *fumante*, *ex-fumante* ou *não fumante*."

	msgSmokingReprompt = "Não entendi. Responda *fumante*, *ex-fumante* ou *não fumante*."

	msgAskDiagnosis = "Você possui algum diagnóstico de saúde? Pode descrever livremente " +
		"(ex: saudável, asma, gripe)."

	msgDiagnosisReprompt = "Por favor, descreva seu diagnóstico de saúde, mesmo que seja 'saudável'."

	msgAskEmotional = "De 1 a 5, como você avalia seu estado emocional agora? " +
		"(1 = muito mal, 5 = muito bem)"

	msgEmotionalReprompt = "Por favor, responda com um número de 1 a 5."

	msgAskEnvironment = "Estamos quase lá! Descreva o *ambiente* onde você vai gravar " +
		"(ex: quarto silencioso, rua barulhenta)."

	msgEnvironmentReprompt = "Por favor, descreva o ambiente onde você vai gravar."

	msgAgeReprompt = "Por favor, digite sua idade em números (entre 5 e 120)."

	msgAudioReceived = "Áudio recebido e salvo! Obrigado pela sua contribuição."

	msgAudioStoreFailed = "Áudio recebido, mas houve um problema ao salvar. Por favor, tente enviar novamente."

	msgAudioExpected = "Não recebi um áudio. Por favor, grave e envie o áudio da tarefa atual."

	msgTextModeMismatch = "Você escolheu interagir por texto, então não consigo usar áudios nesta etapa. " +
		"Por favor, responda por escrito."

	msgTranscriptionFailed = "Desculpe, não consegui entender seu áudio. Pode repetir?"

	msgFinished = "Já coletamos sua contribuição! Se quiser começar de novo, digite /start."

	msgRestart = "Reiniciando a conversa. "
)

// promptAskAge greets the participant by name before asking for the age.
func promptAskAge(name string) string {
	return fmt.Sprintf("Prazer, %s! Agora me diga sua *idade* (apenas números).", name)
}

// promptTasksIntro introduces the recording phase before the first task.
func promptTasksIntro(total int) string {
	return fmt.Sprintf("Perfeito! Agora vamos às gravações. São %d tarefas rápidas.", total)
}

// promptTask renders the instruction for the task at the given position.
func promptTask(taskID string, position, total int) string {
	return fmt.Sprintf("Tarefa %d de %d: %s", position, total, TaskInstruction(taskID))
}
