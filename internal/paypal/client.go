package paypal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	liveVerifyURL    = "https://ipnpb.paypal.com/cgi-bin/webscr"
	sandboxVerifyURL = "https://ipnpb.sandbox.paypal.com/cgi-bin/webscr"
	liveCheckoutURL  = "https://www.paypal.com/cgi-bin/webscr"
	sandboxCheckout  = "https://www.sandbox.paypal.com/cgi-bin/webscr"

	statusCompleted = "Completed"
)

var (
	// ErrVerificationFailed means PayPal answered INVALID: the
	// notification is forged or tampered. Distinct from transport errors,
	// which are transient; both end up as a non-2xx to the sender.
	ErrVerificationFailed = errors.New("ipn verification failed")

	// ErrMalformedNotification means a consumed field is missing or
	// unparseable. Not retryable.
	ErrMalformedNotification = errors.New("malformed ipn payload")
)

// Notification carries the fields consumed from a verified IPN message.
type Notification struct {
	PaymentStatus string
	TxnID         string
	BuyerID       string // from the custom passthrough field set on the payment link
	Gross         decimal.Decimal
	Currency      string
	Receiver      string
}

func (n Notification) Completed() bool {
	return n.PaymentStatus == statusCompleted
}

// Client talks to PayPal: IPN verification postbacks outbound and hosted
// checkout link construction.
type Client struct {
	business    string // receiving account email
	currency    string
	verifyURL   string
	checkoutURL string
	httpClient  *http.Client
}

// NewClient builds a client for the live or sandbox environment. The
// timeout bounds the verification round trip so the IPN endpoint can
// answer inside the provider's retry window.
func NewClient(business, currency string, sandbox bool, timeout time.Duration) *Client {
	verifyURL, checkoutURL := liveVerifyURL, liveCheckoutURL
	if sandbox {
		verifyURL, checkoutURL = sandboxVerifyURL, sandboxCheckout
	}
	return &Client{
		business:    business,
		currency:    currency,
		verifyURL:   verifyURL,
		checkoutURL: checkoutURL,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// VerifyIPN posts the notification back to PayPal for confirmation. The
// body must be the exact bytes received, unmodified; the postback prefixes
// the provider-required validation marker. Returns nil only on VERIFIED.
func (c *Client) VerifyIPN(ctx context.Context, rawBody []byte) error {
	payload := "cmd=_notify-validate&" + string(rawBody)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.verifyURL, strings.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("verify postback: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return fmt.Errorf("read verify response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("verify postback: unexpected status %d", resp.StatusCode)
	}

	if strings.TrimSpace(string(body)) != "VERIFIED" {
		return ErrVerificationFailed
	}
	return nil
}

// ParseNotification extracts the consumed fields from the raw
// form-encoded IPN body. Call only after VerifyIPN succeeded.
func ParseNotification(rawBody []byte) (Notification, error) {
	values, err := url.ParseQuery(string(rawBody))
	if err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}

	n := Notification{
		PaymentStatus: values.Get("payment_status"),
		TxnID:         values.Get("txn_id"),
		BuyerID:       values.Get("custom"),
		Currency:      values.Get("mc_currency"),
		Receiver:      values.Get("receiver_email"),
	}
	if n.TxnID == "" {
		return Notification{}, fmt.Errorf("%w: missing txn_id", ErrMalformedNotification)
	}
	if n.BuyerID == "" {
		return Notification{}, fmt.Errorf("%w: missing buyer reference", ErrMalformedNotification)
	}
	gross := values.Get("mc_gross")
	n.Gross, err = decimal.NewFromString(gross)
	if err != nil {
		return Notification{}, fmt.Errorf("%w: bad mc_gross %q", ErrMalformedNotification, gross)
	}
	return n, nil
}

// ForBusiness reports whether the notification targets our receiving
// account. Notifications for other receivers are foreign events.
func (c *Client) ForBusiness(n Notification) bool {
	return strings.EqualFold(n.Receiver, c.business)
}

// ForCurrency reports whether the payment was made in the shop currency.
// A gross amount in another currency never equals the order total, no
// matter how the numbers compare.
func (c *Client) ForCurrency(n Notification) bool {
	return strings.EqualFold(n.Currency, c.currency)
}

// PaymentLink builds the hosted checkout redirect URL for a confirmed
// order. The buyer ID rides in the custom field and comes back on the IPN.
func (c *Client) PaymentLink(buyerID, itemName string, amount decimal.Decimal, returnURL, cancelURL, notifyURL string) string {
	q := url.Values{}
	q.Set("cmd", "_xclick")
	q.Set("business", c.business)
	q.Set("item_name", itemName)
	q.Set("custom", buyerID)
	q.Set("amount", amount.StringFixed(2))
	q.Set("currency_code", c.currency)
	q.Set("no_shipping", "1")
	q.Set("return", returnURL)
	q.Set("cancel_return", cancelURL)
	q.Set("notify_url", notifyURL)
	return c.checkoutURL + "?" + q.Encode()
}
