package document

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// CertificateData carries everything the renderer needs to produce a document.
type CertificateData struct {
	Number        string
	Type          string
	StudentName   string
	StudentNumber string
	GroupName     string
	Faculty       string
	IssuedAt      time.Time
	Fields        map[string]string
}

var typeTitles = map[string]string{
	"enrollment": "Certificate of Enrollment",
	"academic":   "Certificate of Academic Standing",
	"attendance": "Certificate of Attendance",
	"graduation": "Certificate of Graduation",
	"other":      "Certificate",
}

// Renderer produces certificate PDFs.
type Renderer struct{}

// NewRenderer constructs a certificate renderer.
func NewRenderer() *Renderer {
	return &Renderer{}
}

// Render creates the PDF document for an issued certificate.
func (r *Renderer) Render(data CertificateData) ([]byte, error) {
	if data.StudentName == "" {
		return nil, fmt.Errorf("pdf requires a student name")
	}
	title := typeTitles[strings.ToLower(data.Type)]
	if title == "" {
		title = typeTitles["other"]
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 25, 20)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, strings.ToUpper(title), "", 1, "C", false, 0, "")
	if data.Number != "" {
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(0, 6, fmt.Sprintf("No. %s", data.Number), "", 1, "C", false, 0, "")
	}
	pdf.Ln(8)

	pdf.SetFont("Arial", "", 11)
	pdf.MultiCell(0, 7, fmt.Sprintf("This is to certify that %s is a student of the institution.", data.StudentName), "", "L", false)
	pdf.Ln(4)

	rows := [][2]string{
		{"Student record", data.StudentNumber},
		{"Group", data.GroupName},
		{"Faculty", data.Faculty},
	}
	for _, row := range rows {
		if row[1] == "" {
			continue
		}
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(50, 7, row[0], "", 0, "L", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(0, 7, row[1], "", 1, "L", false, 0, "")
	}
	for key, value := range data.Fields {
		if value == "" {
			continue
		}
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(50, 7, key, "", 0, "L", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(0, 7, value, "", 1, "L", false, 0, "")
	}

	issued := data.IssuedAt
	if issued.IsZero() {
		issued = time.Now().UTC()
	}
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(0, 7, fmt.Sprintf("Issued on %s", issued.Format("2 January 2006")), "", 1, "L", false, 0, "")

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
