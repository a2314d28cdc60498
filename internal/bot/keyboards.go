package bot

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Persisted menu states, stored in users.menu and used as the router key.
const (
	MenuMain              = "main"
	MenuTransferRecipient = "transfer_recipient"
	MenuTransferAmount    = "transfer_amount"
	MenuPromo             = "promo"
)

// Button labels double as menu-routing input.
const (
	btnSendCoins = "💸 Send coins"
	btnReceive   = "📥 Receive"
	btnBalance   = "💰 Balance"
	btnPromo     = "🎁 Promo code"
	btnBack      = "⬅️ Back"
	btnMenu      = "🏠 Menu"
)

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnBalance),
			tgbotapi.NewKeyboardButton(btnSendCoins),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnReceive),
			tgbotapi.NewKeyboardButton(btnPromo),
		),
	)
}

func backKeyboard() tgbotapi.ReplyKeyboardMarkup {
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnBack),
		),
	)
}

func amountKeyboard() tgbotapi.ReplyKeyboardMarkup {
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnBack),
			tgbotapi.NewKeyboardButton(btnMenu),
		),
	)
}

func confirmKeyboard(senderID, recipientID, amount int64) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Confirm",
				fmt.Sprintf("t:confirm:%d:%d:%d", senderID, recipientID, amount)),
			tgbotapi.NewInlineKeyboardButtonData("❌ Reject",
				fmt.Sprintf("t:reject:%d:%d:%d", senderID, recipientID, amount)),
		),
	)
}
