package engine

import (
	"fmt"

	"github.com/saudebot/exam-reminders/internal/domain"
)

const (
	msgWelcome = "👋 Bem-vindo! Digite *cadastrar* para começar"

	msgMenu = "📋 *Menu Principal*\n\n" +
		"1️⃣ - Ver detalhes do exame\n" +
		"2️⃣ - Alterar data\n" +
		"3️⃣ - Cancelar exame\n\n" +
		"Digite o número da opção desejada:"

	msgAlreadyRegistered = "⚠️ Você já está cadastrado! Digite *menu*"
	msgRegistrationStart = "📝 *Cadastre seu exame*\n\n1. Qual seu nome completo?"
	msgAskAge            = "2. Qual sua idade?"
	msgAskEmail          = "3. Digite seu e-mail:"
	msgAskExamDate       = "4. Data do exame (DD/MM/AAAA):"
	msgRegistrationDone  = "✅ *Cadastro concluído!*"

	msgNotRegistered  = "❌ Você não está cadastrado. Digite *cadastrar*"
	msgNoRegistration = "❌ Você não possui cadastro"
	msgCancelled      = "✅ Exame cancelado com sucesso!"

	msgAskNewDate  = "📅 Digite a nova data do exame (DD/MM/AAAA):"
	msgDateChanged = "✅ Data alterada com sucesso!"

	msgFeedbackThanks  = "🌟 Obrigado pelo seu feedback!"
	msgFeedbackInvalid = "❌ Por favor, digite uma nota entre 1 e 5."

	msgBroadcastUsage  = "❌ Use: /broadcast <mensagem>"
	msgBroadcastDone   = "✅ Broadcast enviado com sucesso!"
	msgBroadcastFailed = "⚠️ Broadcast concluído com falhas. Verifique os logs."

	msgHelp         = "🔍 Digite *menu* para ver as opções"
	msgGenericError = "⚠️ Ocorreu um erro. Tente novamente!"

	ackConfirmedSevenDays = "Obrigado por confirmar! Enviaremos um lembrete próximo da data."
	ackConfirmedTwoDays   = "Excelente! Siga as orientações de preparo. Nos vemos em breve!"
	ackCancelled          = "Entendemos. Nossa equipe entrará em contato para reagendamento."
)

func errorMessage(err error) string {
	return "❌ Erro: " + err.Error()
}

func statusMessage(p *domain.Patient) string {
	return fmt.Sprintf("📅 *Sua Consulta*\nNome: %s\nData: %s\nStatus: %s",
		p.Name, p.ExamDate, p.StatusLabel())
}

func confirmationAck(confirmed bool, thresholdDays int) string {
	if !confirmed {
		return ackCancelled
	}
	if thresholdDays == 7 {
		return ackConfirmedSevenDays
	}
	return ackConfirmedTwoDays
}
