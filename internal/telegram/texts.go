package telegram

import tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

// UI texts in English
const (
	ackText      = "⏱"
	failureText  = "Sorry, something went wrong. Please try again later."
	askTZText    = "Choose a timezone or enter your own (Region/City):"
	customTZText = "Enter timezone (e.g., Asia/Tokyo):"
)

// mainMenuKeyboard builds the reply keyboard shown in private chats.
func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("started working"),
			tgbotapi.NewKeyboardButton("finished working"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("/timesheet"),
			tgbotapi.NewKeyboardButton("/daily"),
			tgbotapi.NewKeyboardButton("/contributions"),
		),
	)
}

func tzPresetsKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Asia/Tokyo", "tz:Asia/Tokyo"),
			tgbotapi.NewInlineKeyboardButtonData("Europe/Moscow", "tz:Europe/Moscow"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Europe/London", "tz:Europe/London"),
			tgbotapi.NewInlineKeyboardButtonData("America/New_York", "tz:America/New_York"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("UTC", "tz:UTC"),
			tgbotapi.NewInlineKeyboardButtonData("✍️ Custom…", "tz:custom"),
		),
	)
}
