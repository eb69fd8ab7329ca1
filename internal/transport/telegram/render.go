package telegram

import (
	"fmt"

	"promptmeter/internal/model"
)

// Telegram rejects messages longer than 4096 characters.
const maxMessageRunes = 4096

func renderOutcome(out model.Outcome) string {
	switch out.Kind {
	case model.OutcomeFulfilled:
		footer := fmt.Sprintf("\n\n💫 Requests left: %d", out.Balance)
		return truncate(out.Response, maxMessageRunes-len([]rune(footer))) + footer
	case model.OutcomeInsufficientBalance:
		return fmt.Sprintf("❌ Not enough requests. Balance: %d\n\n💡 Top up your balance to continue.", out.Balance)
	case model.OutcomeGatewayFailure:
		return "❌ " + gatewayMessage(out.Reason)
	default:
		if out.Reason == model.ReasonDebitInconsistency {
			return "❌ Your balance changed while the request was processed. Please try again."
		}
		return "❌ Request processing failed. Please try again later."
	}
}

func gatewayMessage(reason model.FailureReason) string {
	switch reason {
	case model.ReasonAuthFailure:
		return "The AI service is misconfigured. The administrator has been notified."
	case model.ReasonRateLimited:
		return "Service temporarily unavailable due to high load. Please try again later."
	case model.ReasonProviderUnavailable:
		return "The AI service is currently unavailable. Please try again later."
	case model.ReasonEmptyResponse:
		return "The AI returned an empty answer. You were not charged, please try again."
	default:
		return "Internal service error. You were not charged."
	}
}

func welcomeMessage(firstName string, balance int64) string {
	if firstName == "" {
		firstName = "there"
	}
	return fmt.Sprintf(`🤖 Welcome, %s!

I am an AI assistant. Ask me anything!

💫 Your balance: %d requests

Commands:
/balance - Check your balance
/help - Help

Just send your question to get started!`, firstName, balance)
}

func balanceMessage(acc *model.UserAccount) string {
	return fmt.Sprintf("💫 Your balance: %d requests\n📊 Requests made: %d", acc.Balance, acc.TotalRequests)
}

const helpMessage = `Send any text message and I will answer it. Each answer costs one request from your balance; failed answers are free.

/start - Register and show your balance
/balance - Check your balance
/help - This message`

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
