package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/coinclub/backend/internal/models"
	"github.com/coinclub/backend/internal/services"
)

// Bot routes incoming updates to the transfer flows. Dispatch is keyed on the
// persisted users.menu field: the same text message means different things
// depending on where the user is.
type Bot struct {
	api           *tgbotapi.BotAPI
	messenger     *Messenger
	accounts      *services.AccountService
	transfers     *services.TransferService
	confirmations *services.ConfirmationService
	wizard        *services.WizardService
	promo         *services.PromoService
	qr            *services.QRService
}

func New(api *tgbotapi.BotAPI, messenger *Messenger, accounts *services.AccountService,
	transfers *services.TransferService, confirmations *services.ConfirmationService,
	wizard *services.WizardService, promo *services.PromoService, qr *services.QRService) *Bot {
	return &Bot{
		api:           api,
		messenger:     messenger,
		accounts:      accounts,
		transfers:     transfers,
		confirmations: confirmations,
		wizard:        wizard,
		promo:         promo,
		qr:            qr,
	}
}

// Run consumes the long-polling update channel until ctx is done. Each update
// is an independent unit of work; duplicate button taps may arrive
// concurrently and the services are built to tolerate that.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	log.Printf("[BOT] update loop started as @%s", b.api.Self.UserName)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			go b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[BOT] panic while handling update %d: %v", update.UpdateID, r)
		}
	}()

	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	if err := b.messenger.Send(chatID, text); err != nil {
		log.Printf("[BOT] send to %d failed: %v", chatID, err)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID

	if err := b.accounts.EnsureAccount(ctx, userID, msg.From.UserName, msg.From.FirstName); err != nil {
		log.Printf("[BOT] ensure account %d failed: %v", userID, err)
		b.reply(msg.Chat.ID, services.ReasonText[services.ReasonInternalError])
		return
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	// Group chatter that is not a command is none of our business.
	if !msg.Chat.IsPrivate() {
		return
	}

	account, err := b.accounts.GetAccount(ctx, userID)
	if err != nil {
		log.Printf("[BOT] account %d lookup failed: %v", userID, err)
		b.reply(msg.Chat.ID, services.ReasonText[services.ReasonInternalError])
		return
	}

	switch account.Menu {
	case MenuTransferRecipient:
		b.handleWizardRecipient(ctx, userID, msg.Text)
	case MenuTransferAmount:
		b.handleWizardAmount(ctx, userID, msg.Text)
	case MenuPromo:
		b.handlePromoInput(ctx, userID, msg.Text)
	default:
		b.handleMainMenu(ctx, userID, msg.Text)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.handleStart(ctx, msg)
	case "give":
		b.handleGive(ctx, msg)
	case "balance":
		b.handleBalance(ctx, msg)
	case "help":
		b.reply(msg.Chat.ID, "Commands:\n/balance — your coins\n/give <amount> — reply to someone's message in a group to send them coins\n/start — main menu")
	default:
		if msg.Chat.IsPrivate() {
			b.reply(msg.Chat.ID, "Unknown command, try /help")
		}
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID

	// A pay_<id> deep link (from a receive QR) jumps straight into the
	// wizard's amount stage for the encoded recipient.
	if payload := msg.CommandArguments(); payload != "" {
		if recipientID, ok := b.qr.ParseStartPayload(payload); ok {
			if err := b.wizard.Start(ctx, userID); err == nil {
				state, reason, err := b.wizard.SubmitRecipient(ctx, userID, strconv.FormatInt(recipientID, 10))
				if err == nil && reason == services.ReasonAllowed {
					b.setMenu(ctx, userID, MenuTransferAmount)
					b.sendAmountPrompt(userID, state)
					return
				}
				b.wizard.Clear(ctx, userID)
				if err == nil {
					b.reply(userID, services.ReasonText[reason])
				}
			}
		}
	}

	b.setMenu(ctx, userID, MenuMain)
	if err := b.messenger.SendReplyKeyboard(msg.Chat.ID,
		fmt.Sprintf("Hi, %s! Welcome to Coin Club.", msg.From.FirstName), mainMenuKeyboard()); err != nil {
		log.Printf("[BOT] welcome to %d failed: %v", msg.Chat.ID, err)
	}
}

func (b *Bot) handleBalance(ctx context.Context, msg *tgbotapi.Message) {
	account, err := b.accounts.GetAccount(ctx, msg.From.ID)
	if err != nil {
		b.reply(msg.Chat.ID, services.ReasonText[services.ReasonInternalError])
		return
	}
	b.reply(msg.Chat.ID, fmt.Sprintf("💰 Your balance: %d coins", account.Coins))
}

// handleGive starts the in-chat confirmation flow: a /give <amount> reply to
// another member's message proposes a transfer to that member.
func (b *Bot) handleGive(ctx context.Context, msg *tgbotapi.Message) {
	senderID := msg.From.ID

	if msg.ReplyToMessage == nil || msg.ReplyToMessage.From == nil {
		b.reply(msg.Chat.ID, "Reply to someone's message with /give <amount>")
		return
	}
	recipient := msg.ReplyToMessage.From
	if recipient.IsBot {
		b.reply(msg.Chat.ID, "Bots don't need coins")
		return
	}

	amount, err := strconv.ParseInt(strings.TrimSpace(msg.CommandArguments()), 10, 64)
	if err != nil || amount <= 0 {
		b.reply(msg.Chat.ID, services.ReasonText[services.ReasonInvalidAmount])
		return
	}

	result, err := b.confirmations.Propose(ctx, senderID, recipient.ID, amount)
	if errors.Is(err, services.ErrOfferPending) {
		b.reply(msg.Chat.ID, "This transfer is already waiting for confirmation")
		return
	}
	if err != nil {
		b.reply(msg.Chat.ID, services.ReasonText[services.ReasonInternalError])
		return
	}
	if !result.Allowed {
		b.reply(msg.Chat.ID, services.ReasonText[result.Reason])
		return
	}

	name := recipient.FirstName
	if recipient.UserName != "" {
		name = "@" + recipient.UserName
	}
	text := fmt.Sprintf("%s, send %d coins to %s?", msg.From.FirstName, amount, name)
	if err := b.messenger.SendWithKeyboard(msg.Chat.ID, text,
		confirmKeyboard(senderID, recipient.ID, amount)); err != nil {
		log.Printf("[BOT] confirm prompt to %d failed: %v", msg.Chat.ID, err)
	}
}

// handleCallback settles a pending in-chat offer. Callback data carries the
// full triple, so a stale button press after expiry just reports "outdated".
func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	parts := strings.Split(cq.Data, ":")
	if len(parts) != 5 || parts[0] != "t" {
		b.answerCallback(cq.ID, "")
		return
	}

	action := parts[1]
	senderID, err1 := strconv.ParseInt(parts[2], 10, 64)
	recipientID, err2 := strconv.ParseInt(parts[3], 10, 64)
	amount, err3 := strconv.ParseInt(parts[4], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		b.answerCallback(cq.ID, "")
		return
	}

	// Only the proposer decides.
	if cq.From.ID != senderID {
		b.answerCallback(cq.ID, "This is not your transfer")
		return
	}

	var outcome string
	switch action {
	case "confirm":
		_, err := b.confirmations.Confirm(ctx, senderID, recipientID, amount)
		switch {
		case err == nil:
			outcome = fmt.Sprintf("✅ Sent %d coins", amount)
		case errors.Is(err, services.ErrOfferExpired):
			outcome = "Data outdated, propose the transfer again"
		default:
			outcome = services.ReasonText[services.ErrorReason(err)]
		}
	case "reject":
		err := b.confirmations.Reject(ctx, senderID, recipientID, amount)
		if errors.Is(err, services.ErrOfferExpired) {
			outcome = "Data outdated, propose the transfer again"
		} else if err != nil {
			outcome = services.ReasonText[services.ReasonInternalError]
		} else {
			outcome = "Transfer canceled"
		}
	default:
		b.answerCallback(cq.ID, "")
		return
	}

	b.answerCallback(cq.ID, outcome)
	if cq.Message != nil {
		edit := tgbotapi.NewEditMessageText(cq.Message.Chat.ID, cq.Message.MessageID, outcome)
		if _, err := b.api.Send(edit); err != nil {
			log.Printf("[BOT] edit message %d failed: %v", cq.Message.MessageID, err)
		}
	}
}

func (b *Bot) answerCallback(id, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(id, text)); err != nil {
		log.Printf("[BOT] answer callback failed: %v", err)
	}
}

func (b *Bot) handleMainMenu(ctx context.Context, userID int64, text string) {
	switch text {
	case btnBalance:
		account, err := b.accounts.GetAccount(ctx, userID)
		if err != nil {
			b.reply(userID, services.ReasonText[services.ReasonInternalError])
			return
		}
		b.reply(userID, fmt.Sprintf("💰 Your balance: %d coins", account.Coins))
	case btnSendCoins:
		if err := b.wizard.Start(ctx, userID); err != nil {
			log.Printf("[BOT] wizard start for %d failed: %v", userID, err)
			b.reply(userID, services.ReasonText[services.ReasonInternalError])
			return
		}
		b.setMenu(ctx, userID, MenuTransferRecipient)
		if err := b.messenger.SendReplyKeyboard(userID,
			"Who do you want to send coins to? Enter an id or @username.", backKeyboard()); err != nil {
			log.Printf("[BOT] recipient prompt to %d failed: %v", userID, err)
		}
	case btnReceive:
		b.reply(userID, fmt.Sprintf("Share this link to receive coins:\n%s", b.qr.ReceiveLink(userID)))
	case btnPromo:
		b.setMenu(ctx, userID, MenuPromo)
		if err := b.messenger.SendReplyKeyboard(userID, "Enter your promo code.", backKeyboard()); err != nil {
			log.Printf("[BOT] promo prompt to %d failed: %v", userID, err)
		}
	default:
		if err := b.messenger.SendReplyKeyboard(userID, "Pick an option from the menu.", mainMenuKeyboard()); err != nil {
			log.Printf("[BOT] menu prompt to %d failed: %v", userID, err)
		}
	}
}

func (b *Bot) handleWizardRecipient(ctx context.Context, userID int64, text string) {
	if text == btnBack {
		b.wizard.Clear(ctx, userID)
		b.backToMain(ctx, userID)
		return
	}

	state, reason, err := b.wizard.SubmitRecipient(ctx, userID, text)
	if err != nil {
		log.Printf("[BOT] wizard recipient for %d failed: %v", userID, err)
		b.reply(userID, services.ReasonText[services.ReasonInternalError])
		return
	}
	if reason != services.ReasonAllowed {
		b.reply(userID, services.ReasonText[reason])
		return
	}

	b.setMenu(ctx, userID, MenuTransferAmount)
	b.sendAmountPrompt(userID, state)
}

func (b *Bot) sendAmountPrompt(userID int64, state *models.WizardState) {
	if err := b.messenger.SendReplyKeyboard(userID,
		fmt.Sprintf("How many coins do you want to send to %s?", state.RecipientName),
		amountKeyboard()); err != nil {
		log.Printf("[BOT] amount prompt to %d failed: %v", userID, err)
	}
}

func (b *Bot) handleWizardAmount(ctx context.Context, userID int64, text string) {
	switch text {
	case btnBack:
		if _, err := b.wizard.Back(ctx, userID); err != nil {
			log.Printf("[BOT] wizard back for %d failed: %v", userID, err)
		}
		b.setMenu(ctx, userID, MenuTransferRecipient)
		if err := b.messenger.SendReplyKeyboard(userID,
			"Who do you want to send coins to? Enter an id or @username.", backKeyboard()); err != nil {
			log.Printf("[BOT] recipient prompt to %d failed: %v", userID, err)
		}
		return
	case btnMenu:
		if err := b.wizard.Clear(ctx, userID); err != nil {
			log.Printf("[BOT] wizard abort for %d failed: %v", userID, err)
		}
		b.backToMain(ctx, userID)
		return
	}

	record, reason, err := b.wizard.SubmitAmount(ctx, userID, text)
	if err != nil {
		log.Printf("[BOT] wizard amount for %d failed: %v", userID, err)
		b.reply(userID, services.ReasonText[services.ReasonInternalError])
		return
	}
	if reason != services.ReasonAllowed {
		// Stay in the amount stage so the sender can retry.
		b.reply(userID, services.ReasonText[reason])
		return
	}

	b.setMenu(ctx, userID, MenuMain)
	if err := b.messenger.SendReplyKeyboard(userID,
		fmt.Sprintf("✅ Sent %d coins (transfer #%d)", record.Amount, record.ID),
		mainMenuKeyboard()); err != nil {
		log.Printf("[BOT] transfer confirmation to %d failed: %v", userID, err)
	}
}

func (b *Bot) handlePromoInput(ctx context.Context, userID int64, text string) {
	if text == btnBack {
		b.backToMain(ctx, userID)
		return
	}

	promo, err := b.promo.Redeem(ctx, userID, text)
	switch {
	case err == nil:
		b.setMenu(ctx, userID, MenuMain)
		if err := b.messenger.SendReplyKeyboard(userID,
			fmt.Sprintf("🎁 Promo code accepted, you got %d coins!", promo.Reward),
			mainMenuKeyboard()); err != nil {
			log.Printf("[BOT] promo confirmation to %d failed: %v", userID, err)
		}
	case errors.Is(err, services.ErrPromoNotFound):
		b.reply(userID, "No such promo code, check the spelling.")
	case errors.Is(err, services.ErrPromoExhausted):
		b.reply(userID, "This promo code has run out.")
	case errors.Is(err, services.ErrPromoAlreadyRedeemed):
		b.reply(userID, "You already redeemed this code.")
	case errors.Is(err, services.ErrPromoInProgress):
		b.reply(userID, "Hold on, this code is already being processed.")
	default:
		log.Printf("[BOT] promo redemption for %d failed: %v", userID, err)
		b.reply(userID, services.ReasonText[services.ReasonInternalError])
	}
}

func (b *Bot) backToMain(ctx context.Context, userID int64) {
	b.setMenu(ctx, userID, MenuMain)
	if err := b.messenger.SendReplyKeyboard(userID, "Main menu", mainMenuKeyboard()); err != nil {
		log.Printf("[BOT] main menu to %d failed: %v", userID, err)
	}
}

func (b *Bot) setMenu(ctx context.Context, userID int64, menu string) {
	if err := b.accounts.SetMenu(ctx, userID, menu); err != nil {
		log.Printf("[BOT] set menu %q for %d failed: %v", menu, userID, err)
	}
}
