package notify

import (
	"fmt"

	"github.com/keighl/postmark"

	"shopcore/internal/shop"
)

// Mailer sends the order confirmation email through Postmark.
type Mailer struct {
	client *postmark.Client
	from   string
}

func NewMailer(token, from string) *Mailer {
	return &Mailer{client: postmark.NewClient(token, ""), from: from}
}

func (m *Mailer) SendOrderConfirmation(to string, o shop.Order) error {
	subject := fmt.Sprintf("Order Confirmation - #%s", o.ID)
	body := fmt.Sprintf(
		"Thank you for your order!\n\n"+
			"Order Number: %s\n"+
			"Tracking Number: %s\n"+
			"Order Date: %s\n"+
			"Order Total: %s\n\n"+
			"We are processing your order and will notify you when it ships.\n",
		o.ID, o.TrackingNumber, o.CreatedAt.Format("2006-01-02 15:04"), o.TotalAmount.StringFixed(2))

	_, err := m.client.SendEmail(postmark.Email{
		From:     m.from,
		To:       to,
		Subject:  subject,
		TextBody: body,
	})
	if err != nil {
		return fmt.Errorf("send confirmation email: %w", err)
	}
	return nil
}
