package notify

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/order"
)

// DownloadState selects the body of the fulfillment email.
type DownloadState int

const (
	DownloadReady DownloadState = iota
	DownloadUnavailable
	NoDownloads
)

type lineView struct {
	Name     string
	Quantity int
	Price    string
}

type emailView struct {
	OrderID string
	Total   string
	Lines   []lineView
	Link    string
	State   DownloadState
}

func newView(f *order.Fulfillment) emailView {
	v := emailView{
		OrderID: f.Order.ID.String(),
		Total:   f.Order.TotalAmount.StringFixed(2),
	}
	for _, l := range f.Lines {
		v.Lines = append(v.Lines, lineView{Name: l.Name, Quantity: l.Quantity, Price: l.Price.StringFixed(2)})
	}
	return v
}

var templates = template.Must(template.New("emails").Parse(`
{{define "lines"}}<table>
{{range .Lines}}<tr><td>{{.Name}}</td><td>{{.Quantity}}</td><td>{{.Price}}</td></tr>
{{end}}</table>
<p>Total: {{.Total}}</p>{{end}}

{{define "receipt"}}<h1>Thank you for your order</h1>
<p>We received your payment for order {{.OrderID}}.</p>
{{template "lines" .}}{{end}}

{{define "fulfillment"}}<h1>Your order {{.OrderID}} is on its way</h1>
{{template "lines" .}}
{{if eq .State 0}}<p>Your product images are ready: <a href="{{.Link}}">download them here</a>.</p>
{{else if eq .State 1}}<p>We are sorry, we could not prepare the image downloads for this order. Reply to this email and we will send them to you.</p>
{{else}}<p>There are no downloads available for this order.</p>
{{end}}{{end}}
`))

func render(name string, v emailView) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, v); err != nil {
		return "", fmt.Errorf("notify: render %s: %w", name, err)
	}
	return buf.String(), nil
}

// ReceiptEmail is sent once the payment for an order is confirmed.
func ReceiptEmail(f *order.Fulfillment, to string) (Message, error) {
	html, err := render("receipt", newView(f))
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:      to,
		Subject: fmt.Sprintf("Receipt for order %s", f.Order.ID),
		HTML:    html,
	}, nil
}

// FulfillmentEmail describes the shipped order and, when state is
// DownloadReady, links to the image bundle.
func FulfillmentEmail(f *order.Fulfillment, to, link string, state DownloadState) (Message, error) {
	v := newView(f)
	v.Link = link
	v.State = state
	html, err := render("fulfillment", v)
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:      to,
		Subject: fmt.Sprintf("Your order %s has shipped", f.Order.ID),
		HTML:    html,
	}, nil
}
