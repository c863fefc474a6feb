package labels

import (
	"bytes"
	"fmt"

	"github.com/phpdave11/gofpdf"
	"github.com/skip2/go-qrcode"

	"kisantrack/maps"
	"kisantrack/models"
)

const (
	qrSize     = 256
	routeWidth = 320
)

// Render builds a one-page shipping label: order facts, a QR code carrying
// the tracking code and a thumbnail of the route.
func Render(o *models.Order) ([]byte, error) {
	qrPNG, err := qrcode.Encode(o.TrackingCode, qrcode.Medium, qrSize)
	if err != nil {
		return nil, fmt.Errorf("qr code: %w", err)
	}
	var route bytes.Buffer
	if err := maps.EncodePNG(&route, maps.RenderRoute(o, routeWidth)); err != nil {
		return nil, fmt.Errorf("route image: %w", err)
	}

	pdf := gofpdf.New("P", "mm", "A5", "")
	pdf.SetTitle("Shipping label "+o.TrackingCode, true)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Arial", "B", 18)
	pdf.Cell(0, 10, "Shipping Label")
	pdf.Ln(12)

	pdf.SetFont("Courier", "B", 16)
	pdf.Cell(0, 10, o.TrackingCode)
	pdf.Ln(12)

	pdf.SetFont("Arial", "", 11)
	rows := [][2]string{
		{"Product", fmt.Sprintf("%s x %d", o.ProductName, o.Quantity)},
		{"Total", fmt.Sprintf("Rs. %.2f (%s)", o.TotalPrice, o.PaymentMethod)},
		{"Ship to", o.BuyerName},
		{"Address", o.BuyerAddress},
		{"From", o.Farmer.Name},
		{"Farm", o.Farmer.Address},
		{"Status", string(o.Status)},
	}
	for _, row := range rows {
		pdf.SetFont("Arial", "B", 11)
		pdf.CellFormat(25, 7, row[0], "", 0, "L", false, 0, "")
		pdf.SetFont("Arial", "", 11)
		pdf.MultiCell(0, 7, tr(row[1]), "", "L", false)
	}

	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("qr", opts, bytes.NewReader(qrPNG))
	pdf.ImageOptions("qr", 100, 15, 35, 35, false, opts, 0, "")
	pdf.RegisterImageOptionsReader("route", opts, bytes.NewReader(route.Bytes()))
	pdf.ImageOptions("route", 15, 110, 80, 80, false, opts, 0, "")

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("build label: %w", err)
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("write label: %w", err)
	}
	return buf.Bytes(), nil
}
