package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/example/leadshop/internal/domain/order"
	"github.com/example/leadshop/internal/infrastructure/store"
	"github.com/example/leadshop/internal/telegram"

	"github.com/example/leadshop/internal/domain/catalog"
	"github.com/shopspring/decimal"
)

const (
	callbackTogglePrefix = "cat:"
	callbackCheckout     = "checkout"
)

// Messenger is the outbound chat surface the handler talks through.
type Messenger interface {
	SendMessage(ctx context.Context, chatID, text string) error
	SendMenu(ctx context.Context, chatID, text string, markup telegram.InlineKeyboardMarkup) error
	AnswerCallbackQuery(ctx context.Context, callbackID, text string) error
}

// LinkBuilder turns a confirmed order into a checkout redirect URL.
type LinkBuilder interface {
	PaymentLink(buyerID, itemName string, amount decimal.Decimal, returnURL, cancelURL, notifyURL string) string
}

// URLs are the redirect endpoints baked into every payment link.
type URLs struct {
	Return string
	Cancel string
	Notify string
}

// Handler drives the buyer conversation: category menu, selection
// toggling, checkout. All order state goes through the store; user-facing
// failures become plain chat messages.
type Handler struct {
	store     store.OrderStore
	catalog   *catalog.Catalog
	messenger Messenger
	links     LinkBuilder
	urls      URLs
	shopName  string
}

func NewHandler(s store.OrderStore, cat *catalog.Catalog, m Messenger, links LinkBuilder, urls URLs, shopName string) *Handler {
	return &Handler{store: s, catalog: cat, messenger: m, links: links, urls: urls, shopName: shopName}
}

// HandleUpdate processes one webhook update. Errors are handled by
// messaging the buyer; the webhook endpoint always acknowledges.
func (h *Handler) HandleUpdate(ctx context.Context, upd telegram.Update) {
	switch {
	case upd.Message != nil:
		h.handleMessage(ctx, upd.Message)
	case upd.Callback != nil:
		h.handleCallback(ctx, upd.Callback)
	}
}

func (h *Handler) handleMessage(ctx context.Context, msg *telegram.Message) {
	buyerID := strconv.FormatInt(msg.Chat.ID, 10)

	switch strings.TrimSpace(msg.Text) {
	case "/start":
		text := fmt.Sprintf("Welcome to %s! Use /buy to browse available lead categories.", h.shopName)
		h.send(ctx, buyerID, text)
	case "/buy":
		h.startOrder(ctx, buyerID)
	default:
		h.send(ctx, buyerID, "Commands: /start, /buy")
	}
}

func (h *Handler) startOrder(ctx context.Context, buyerID string) {
	o, err := h.store.CreateOrReset(ctx, buyerID)
	if err != nil {
		if errors.Is(err, order.ErrInvalidStatus) {
			h.send(ctx, buyerID, "Your previous order is already paid and being delivered. Please wait for your files.")
			return
		}
		log.Printf("[Bot] CreateOrReset failed for %s: %v", buyerID, err)
		h.send(ctx, buyerID, "Something went wrong, please try again.")
		return
	}
	h.sendMenu(ctx, buyerID, o)
}

func (h *Handler) handleCallback(ctx context.Context, cb *telegram.CallbackQuery) {
	if cb.Message == nil {
		return
	}
	buyerID := strconv.FormatInt(cb.Message.Chat.ID, 10)

	switch {
	case strings.HasPrefix(cb.Data, callbackTogglePrefix):
		h.toggle(ctx, buyerID, cb, strings.TrimPrefix(cb.Data, callbackTogglePrefix))
	case cb.Data == callbackCheckout:
		h.checkout(ctx, buyerID, cb)
	default:
		h.answer(ctx, cb.ID, "")
	}
}

func (h *Handler) toggle(ctx context.Context, buyerID string, cb *telegram.CallbackQuery, categoryID string) {
	o, err := h.store.ToggleCategory(ctx, buyerID, categoryID)
	switch {
	case errors.Is(err, order.ErrOrderNotFound):
		h.answer(ctx, cb.ID, "Start a new order with /buy first")
		return
	case errors.Is(err, order.ErrUnknownCategory):
		h.answer(ctx, cb.ID, "That category is no longer available")
		return
	case errors.Is(err, order.ErrInvalidStatus):
		h.answer(ctx, cb.ID, "This order is already confirmed")
		return
	case err != nil:
		log.Printf("[Bot] Toggle failed for %s: %v", buyerID, err)
		h.answer(ctx, cb.ID, "Something went wrong, please try again")
		return
	}

	if o.Categories[categoryID] {
		h.answer(ctx, cb.ID, "Added")
	} else {
		h.answer(ctx, cb.ID, "Removed")
	}
	h.sendMenu(ctx, buyerID, o)
}

func (h *Handler) checkout(ctx context.Context, buyerID string, cb *telegram.CallbackQuery) {
	o, err := h.store.Confirm(ctx, buyerID)
	switch {
	case errors.Is(err, order.ErrEmptySelection):
		h.answer(ctx, cb.ID, "Select at least one category first")
		return
	case errors.Is(err, order.ErrOrderNotFound):
		h.answer(ctx, cb.ID, "Start a new order with /buy first")
		return
	case errors.Is(err, order.ErrInvalidStatus):
		h.answer(ctx, cb.ID, "This order was already confirmed")
		return
	case err != nil:
		log.Printf("[Bot] Confirm failed for %s: %v", buyerID, err)
		h.answer(ctx, cb.ID, "Something went wrong, please try again")
		return
	}

	h.answer(ctx, cb.ID, "Order confirmed")

	itemName := fmt.Sprintf("%s (%d categories)", h.shopName, len(o.Categories))
	link := h.links.PaymentLink(buyerID, itemName, o.Total, h.urls.Return, h.urls.Cancel, h.urls.Notify)

	text := fmt.Sprintf("Total: $%s\n\nPay here:\n%s\n\nYour files arrive automatically once payment is confirmed.",
		o.Total.StringFixed(2), link)
	h.send(ctx, buyerID, text)
}

func (h *Handler) sendMenu(ctx context.Context, buyerID string, o *order.Order) {
	var rows [][]telegram.InlineKeyboardButton
	for _, cat := range h.catalog.All() {
		mark := "◻"
		if o.Categories[cat.ID] {
			mark = "✅"
		}
		label := fmt.Sprintf("%s %s — $%s", mark, cat.Label, cat.Price.StringFixed(2))
		rows = append(rows, []telegram.InlineKeyboardButton{
			{Text: label, CallbackData: callbackTogglePrefix + cat.ID},
		})
	}
	rows = append(rows, []telegram.InlineKeyboardButton{
		{Text: "🛒 Checkout", CallbackData: callbackCheckout},
	})

	text := "Pick your lead categories, then checkout:"
	if err := h.messenger.SendMenu(ctx, buyerID, text, telegram.InlineKeyboardMarkup{InlineKeyboard: rows}); err != nil {
		log.Printf("[Bot] Failed to send menu to %s: %v", buyerID, err)
	}
}

func (h *Handler) send(ctx context.Context, buyerID, text string) {
	if err := h.messenger.SendMessage(ctx, buyerID, text); err != nil {
		log.Printf("[Bot] Failed to message %s: %v", buyerID, err)
	}
}

func (h *Handler) answer(ctx context.Context, callbackID, text string) {
	if err := h.messenger.AnswerCallbackQuery(ctx, callbackID, text); err != nil {
		log.Printf("[Bot] Failed to answer callback %s: %v", callbackID, err)
	}
}
