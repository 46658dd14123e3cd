package notifications

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/bazaarline/marketplace-backend/pkg/money"
	"github.com/bazaarline/marketplace-backend/pkg/outbox/payloads"
)

var htmlLayout = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; padding: 20px;">
	<h2>{{.Title}}</h2>
	{{range .Paragraphs}}<p>{{.}}</p>
	{{end}}{{if .Lines}}<table style="border-collapse: collapse;">
		<tr><th align="left">Item</th><th align="right">Qty</th><th align="right">Amount</th></tr>
		{{range .Lines}}<tr><td>{{.Ref}}</td><td align="right">{{.Quantity}}</td><td align="right">{{.Amount}}</td></tr>
		{{end}}</table>{{end}}
	<p>Order <strong>{{.Code}}</strong>, total {{.Total}}</p>
</body>
</html>`))

type emailLine struct {
	Ref      string
	Quantity int
	Amount   string
}

type emailView struct {
	Title      string
	Code       string
	Total      string
	Paragraphs []string
	Lines      []emailLine
}

func render(to, subject string, view emailView) (Email, error) {
	var html bytes.Buffer
	if err := htmlLayout.Execute(&html, view); err != nil {
		return Email{}, fmt.Errorf("render %q: %w", subject, err)
	}

	var text strings.Builder
	text.WriteString(view.Title + "\n\n")
	for _, p := range view.Paragraphs {
		text.WriteString(p + "\n\n")
	}
	for _, l := range view.Lines {
		fmt.Fprintf(&text, "- %s x%d  %s\n", l.Ref, l.Quantity, l.Amount)
	}
	fmt.Fprintf(&text, "\nOrder %s, total %s\n", view.Code, view.Total)

	return Email{To: to, Subject: subject, Text: text.String(), HTML: html.String()}, nil
}

func viewLines(lines []payloads.OrderLine) []emailLine {
	out := make([]emailLine, 0, len(lines))
	for _, l := range lines {
		out = append(out, emailLine{
			Ref:      l.ProductID.String(),
			Quantity: l.Quantity,
			Amount:   money.Cents(l.AmountCents).Major(),
		})
	}
	return out
}

func paymentConfirmation(event *payloads.OrderPaidEvent) (Email, error) {
	return render(event.CustomerEmail, "Your order "+event.Code+" is confirmed", emailView{
		Title:      "Thanks for your order",
		Code:       event.Code,
		Total:      money.Cents(event.TotalCents).Major(),
		Paragraphs: []string{"We received your payment. The sellers have been notified and will prepare your items."},
		Lines:      viewLines(event.Lines),
	})
}

func refundNotice(event *payloads.OrderRefundedEvent) (Email, error) {
	title := "Your order was refunded"
	body := "We could not complete your order: " + event.Reason + ". Your payment has been refunded."
	if event.Failed {
		title = "There was a problem with your refund"
		body = "We could not complete your order: " + event.Reason + ". The automatic refund failed and our team will follow up."
	}
	return render(event.CustomerEmail, "Order "+event.Code+": refund", emailView{
		Title:      title,
		Code:       event.Code,
		Total:      money.Cents(event.TotalCents).Major(),
		Paragraphs: []string{body},
		Lines:      viewLines(event.Lines),
	})
}

// codOrderForMerchant only lists the merchant's own lines.
func codOrderForMerchant(to string, event *payloads.OrderPlacedCODEvent, lines []payloads.OrderLine) (Email, error) {
	var total int64
	for _, l := range lines {
		total += l.AmountCents
	}
	return render(to, "New cash on delivery order "+event.Code, emailView{
		Title:      "New cash on delivery order",
		Code:       event.Code,
		Total:      money.Cents(total).Major(),
		Paragraphs: []string{"A customer placed a cash on delivery order. Collect the payment when the items are delivered."},
		Lines:      viewLines(lines),
	})
}
