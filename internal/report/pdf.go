package report

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"example.com/iuupgate/internal/common"
	"example.com/iuupgate/internal/findings"
	"example.com/iuupgate/internal/iuup"
)

// maxPDFFindings bounds the findings listed individually; the kind table
// still counts all of them.
const maxPDFFindings = 500

// SavePDF renders the given decode report into a PDF document.
func SavePDF(rep findings.Report, out string) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("IuUP Decode Report", false)
	pdf.SetAuthor("iuupctl", false)
	pdf.SetCreator("iuupctl", false)
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	addPDFTitle(pdf, "IuUP Decode Report")
	if err := addCaptureSection(pdf, rep.Capture); err != nil {
		return err
	}
	addSummarySection(pdf, rep)
	addKindSection(pdf, rep.KindCounts)
	addCircuitSection(pdf, rep.Circuits)
	addFindingsSection(pdf, rep.Findings)

	if pdf.Err() {
		return pdf.Error()
	}
	return pdf.OutputFileAndClose(out)
}

func addPDFTitle(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, title)
	pdf.Ln(12)
}

func addSectionTitle(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, title)
	pdf.Ln(9)
}

func addCaptureSection(pdf *gofpdf.Fpdf, c findings.CaptureInfo) error {
	if c.File == "" && c.SHA256 == "" {
		return nil
	}
	addSectionTitle(pdf, "Capture")
	top := pdf.GetY()
	pdf.SetFont("Helvetica", "", 10)
	rows := [][2]string{
		{"File", emptyFallback(c.File, "-")},
		{"Size", common.FormatBytes(c.Size)},
		{"SHA-256", emptyFallback(c.SHA256, "-")},
	}
	for _, row := range rows {
		pdf.CellFormat(30, 6, row[0], "", 0, "L", false, 0, "")
		pdf.MultiCell(110, 6, row[1], "", "L", false)
	}
	if c.SHA256 != "" {
		png, err := CaptureHashToQR(c.SHA256, 256)
		if err != nil {
			return err
		}
		opts := gofpdf.ImageOptions{ImageType: "PNG"}
		pdf.RegisterImageOptionsReader("capture-qr", opts, bytes.NewReader(png))
		pdf.ImageOptions("capture-qr", 160, top, 30, 30, false, opts, 0, "")
		if pdf.GetY() < top+32 {
			pdf.SetY(top + 32)
		}
	}
	pdf.Ln(4)
	return nil
}

func addSummarySection(pdf *gofpdf.Fpdf, rep findings.Report) {
	addSectionTitle(pdf, "Summary")
	pdf.SetFont("Helvetica", "", 11)
	items := []struct {
		label string
		value string
	}{
		{label: "Frames", value: strconv.Itoa(rep.Stats.Frames)},
		{label: "Data Frames", value: strconv.Itoa(rep.Stats.DataFrames)},
		{label: "Control Frames", value: strconv.Itoa(rep.Stats.ControlFrames)},
		{label: "Payload Frames", value: strconv.Itoa(rep.Stats.PayloadFrames)},
		{label: "Decode Errors", value: strconv.Itoa(rep.Stats.DecodeErrors)},
		{label: "Total Findings", value: strconv.Itoa(rep.Summary.Total)},
		{label: "Errors", value: strconv.Itoa(rep.Summary.Errors)},
		{label: "Warnings", value: strconv.Itoa(rep.Summary.Warnings)},
		{label: "Overall", value: passLabel(rep.Summary.Pass)},
	}
	for _, item := range items {
		pdf.CellFormat(50, 6, item.label, "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 6, item.value, "", 1, "L", false, 0, "")
	}
	if len(rep.Stats.Procedures) > 0 {
		names := make([]string, 0, len(rep.Stats.Procedures))
		for name := range rep.Stats.Procedures {
			names = append(names, name)
		}
		sort.Strings(names)
		pdf.SetFont("Helvetica", "", 10)
		for _, name := range names {
			pdf.CellFormat(50, 5, "  "+name, "", 0, "L", false, 0, "")
			pdf.CellFormat(0, 5, strconv.Itoa(rep.Stats.Procedures[name]), "", 1, "L", false, 0, "")
		}
	}
	pdf.Ln(4)
}

func addKindSection(pdf *gofpdf.Fpdf, rows []findings.KindCount) {
	addSectionTitle(pdf, "Findings by Kind")
	headers := []string{"Kind", "Detail", "Severity", "Count"}
	widths := []float64{60, 60, 30, 30}
	renderHeader(pdf, headers, widths)
	pdf.SetFont("Helvetica", "", 9)
	for _, row := range rows {
		renderTableRow(pdf, widths, []string{
			row.Kind,
			emptyFallback(row.Detail, "-"),
			severityLabel(row.Severity),
			strconv.Itoa(row.Count),
		}, 5)
	}
	pdf.Ln(4)
}

func addCircuitSection(pdf *gofpdf.Fpdf, circuits []iuup.CircuitEntry) {
	if len(circuits) == 0 {
		return
	}
	addSectionTitle(pdf, "Circuits")
	headers := []string{"Key", "ID", "Subflows", "RFCIs"}
	widths := []float64{70, 25, 20, 65}
	renderHeader(pdf, headers, widths)
	pdf.SetFont("Helvetica", "", 9)
	for _, e := range circuits {
		c := e.Circuit
		if c == nil {
			continue
		}
		rfcis := make([]string, 0, len(c.RFCIs))
		for _, r := range c.RFCIs {
			rfcis = append(rfcis, fmt.Sprintf("%d:%v", r.ID, r.SubflowLengths))
		}
		renderTableRow(pdf, widths, []string{
			e.Key,
			fmt.Sprintf("%#x", c.ID),
			strconv.Itoa(c.SubflowCount),
			strings.Join(rfcis, " "),
		}, 5)
	}
	pdf.Ln(4)
}

func addFindingsSection(pdf *gofpdf.Fpdf, fds []findings.Finding) {
	addSectionTitle(pdf, "Findings")
	if len(fds) == 0 {
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 6, "No findings recorded.", "", "L", false)
		return
	}
	for i, d := range fds {
		if i == maxPDFFindings {
			pdf.SetFont("Helvetica", "I", 10)
			pdf.MultiCell(0, 5, fmt.Sprintf("%d more findings omitted.", len(fds)-i), "", "L", false)
			return
		}
		pdf.SetFont("Helvetica", "B", 10)
		kind := d.Kind
		if d.Detail != "" {
			kind += "/" + d.Detail
		}
		pdf.MultiCell(0, 5, fmt.Sprintf("%d. %s (%s)", i+1, kind, severityLabel(d.Severity)), "", "L", false)
		if msg := strings.TrimSpace(d.Message); msg != "" {
			pdf.SetFont("Helvetica", "", 10)
			pdf.MultiCell(0, 5, msg, "", "L", false)
		}
		if meta := findingMetadata(d); meta != "" {
			pdf.SetFont("Helvetica", "", 9)
			pdf.MultiCell(0, 4, meta, "", "L", false)
		}
		pdf.Ln(2)
	}
}

func renderHeader(pdf *gofpdf.Fpdf, headers []string, widths []float64) {
	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Helvetica", "B", 10)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)
}

func renderTableRow(pdf *gofpdf.Fpdf, widths []float64, values []string, lineHeight float64) {
	xStart := pdf.GetX()
	yStart := pdf.GetY()
	maxLines := 1
	splitCols := make([][]string, len(values))
	for i, val := range values {
		text := strings.TrimSpace(val)
		if text == "" {
			text = "-"
		}
		lines := pdf.SplitText(text, widths[i]-2)
		if len(lines) == 0 {
			lines = []string{""}
		}
		splitCols[i] = lines
		if len(lines) > maxLines {
			maxLines = len(lines)
		}
	}
	x := xStart
	for i, lines := range splitCols {
		pdf.SetXY(x, yStart)
		pdf.MultiCell(widths[i], lineHeight, strings.Join(lines, "\n"), "1", "L", false)
		x += widths[i]
	}
	pdf.SetXY(xStart, yStart+float64(maxLines)*lineHeight)
}

func passLabel(pass bool) string {
	if pass {
		return "PASS"
	}
	return "FAIL"
}

func severityLabel(sev iuup.Severity) string {
	if s := strings.TrimSpace(string(sev)); s != "" {
		return s
	}
	return "UNKNOWN"
}

func emptyFallback(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return val
}

func findingMetadata(d findings.Finding) string {
	parts := make([]string, 0, 6)
	if d.File != "" {
		parts = append(parts, d.File)
	}
	if d.FrameIndex != 0 {
		parts = append(parts, fmt.Sprintf("Frame %d", d.FrameIndex))
	}
	if d.Offset != "" {
		parts = append(parts, "Offset "+d.Offset)
	}
	if d.Conversation != "" {
		parts = append(parts, d.Conversation)
	}
	if d.Summary != "" {
		parts = append(parts, d.Summary)
	}
	if d.TimestampUs != nil {
		parts = append(parts, time.UnixMicro(*d.TimestampUs).UTC().Format(time.RFC3339Nano))
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, " | ")
}
