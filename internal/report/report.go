// Package report renders bucketed readings as a paginated PDF.
package report

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/ntentasd/acuamon-api/internal/aggregate"
	"github.com/ntentasd/acuamon-api/internal/metrics"
	"github.com/ntentasd/acuamon-api/internal/period"
	"github.com/ntentasd/acuamon-api/pkg/types"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultChunkSize = 200

	margin     = 10.0
	rowHeight  = 6.0
	headHeight = 7.0
	dateWidth  = 34.0
	countWidth = 20.0
)

// Request describes the report being rendered.
type Request struct {
	Kind        period.Kind
	Date        string
	Range       period.Range
	UnitName    string
	Location    *time.Location
	GeneratedAt time.Time
}

type Renderer struct {
	chunkSize int
	logger    zerolog.Logger
}

func NewRenderer(chunkSize int, logger zerolog.Logger) *Renderer {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Renderer{
		chunkSize: chunkSize,
		logger:    logger.With().Str("component", "report").Logger(),
	}
}

type doc struct {
	pdf    *fpdf.Fpdf
	tr     func(string) string
	req    Request
	widths []float64
}

// Render writes one titled table per unit to w and returns the page count.
// Rows are laid out in chunks; ctx is checked and the goroutine yields
// between chunks.
func (r *Renderer) Render(ctx context.Context, req Request, series []aggregate.UnitSeries, w io.Writer) (int, error) {
	ctx, span := otel.Tracer("acuamon-report").Start(ctx, "report.Render")
	defer span.End()
	span.SetAttributes(
		attribute.String("report.kind", req.Kind.String()),
		attribute.String("report.date", req.Date),
		attribute.Int("report.units", len(series)),
	)

	start := time.Now()
	pages, err := r.render(ctx, req, series, w)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	metrics.ReportLatencySeconds.WithLabelValues(req.Kind.String()).Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("report.pages", pages))
	span.SetStatus(codes.Ok, "")

	r.logger.Debug().
		Str("kind", req.Kind.String()).
		Str("date", req.Date).
		Int("pages", pages).
		Dur("took", time.Since(start)).
		Msg("report rendered")
	return pages, nil
}

func (r *Renderer) render(ctx context.Context, req Request, series []aggregate.UnitSeries, w io.Writer) (int, error) {
	if len(series) == 0 {
		return 0, aggregate.ErrNoData
	}
	if req.Location == nil {
		req.Location = time.UTC
	}
	if req.GeneratedAt.IsZero() {
		req.GeneratedAt = time.Now()
	}

	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(false, margin)
	pdf.AliasNbPages("")
	pdf.SetTitle("Reporte "+req.Kind.String()+" "+req.Date, true)
	pdf.SetCreator("acuamon-api", true)

	d := &doc{
		pdf:    pdf,
		tr:     pdf.UnicodeTranslatorFromDescriptor(""),
		req:    req,
		widths: columnWidths(pdf),
	}
	pdf.SetFooterFunc(d.footer)

	pdf.AddPage()
	d.title()

	for _, s := range series {
		d.unitHeading(s)
		for i := 0; i < len(s.Rows); i += r.chunkSize {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
			end := min(i+r.chunkSize, len(s.Rows))
			for _, row := range s.Rows[i:end] {
				d.row(s, row)
			}
			runtime.Gosched()
		}
		pdf.Ln(4)
	}

	if err := pdf.Error(); err != nil {
		return 0, fmt.Errorf("render pdf: %w", err)
	}
	pages := pdf.PageNo()
	if err := pdf.Output(w); err != nil {
		return 0, fmt.Errorf("write pdf: %w", err)
	}
	return pages, nil
}

func columnWidths(pdf *fpdf.Fpdf) []float64 {
	pageW, _ := pdf.GetPageSize()
	usable := pageW - 2*margin
	q := (usable - dateWidth - countWidth) / float64(len(types.Quantities))
	widths := []float64{dateWidth}
	for range types.Quantities {
		widths = append(widths, q)
	}
	return append(widths, countWidth)
}

func (d *doc) title() {
	pdf, loc := d.pdf, d.req.Location
	pdf.SetFont("Helvetica", "B", 16)
	title := fmt.Sprintf("Reporte %s: %s", d.req.Kind, d.req.Date)
	if d.req.UnitName != "" {
		title += " - " + d.req.UnitName
	}
	pdf.CellFormat(0, 9, d.tr(title), "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	sub := fmt.Sprintf("Periodo: %s a %s (%s)",
		d.req.Range.Start.In(loc).Format("02/01/2006 15:04"),
		d.req.Range.End.In(loc).Format("02/01/2006 15:04"),
		loc,
	)
	pdf.CellFormat(0, 6, d.tr(sub), "", 1, "L", false, 0, "")
	pdf.Ln(3)
}

func (d *doc) footer() {
	pdf := d.pdf
	pdf.SetY(-margin)
	pdf.SetFont("Helvetica", "I", 8)
	text := fmt.Sprintf("Generado %s - Página %d/{nb}",
		d.req.GeneratedAt.In(d.req.Location).Format("02/01/2006 15:04"), pdf.PageNo())
	pdf.CellFormat(0, 5, d.tr(text), "", 0, "R", false, 0, "")
}

// fits reports whether h more millimetres fit above the bottom margin.
func (d *doc) fits(h float64) bool {
	_, pageH := d.pdf.GetPageSize()
	return d.pdf.GetY()+h <= pageH-2*margin
}

func (d *doc) unitHeading(s aggregate.UnitSeries) {
	// Keep the heading with its table header and first row.
	if !d.fits(8 + headHeight + rowHeight) {
		d.pdf.AddPage()
	}
	d.pdf.SetFont("Helvetica", "B", 12)
	d.pdf.CellFormat(0, 8, d.tr(s.UnitName), "", 1, "L", false, 0, "")
	d.tableHeader()
}

func (d *doc) tableHeader() {
	pdf := d.pdf
	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(220, 230, 241)
	pdf.CellFormat(d.widths[0], headHeight, "Fecha", "1", 0, "C", true, 0, "")
	for i, q := range types.Quantities {
		pdf.CellFormat(d.widths[i+1], headHeight, d.tr(q.Label()), "1", 0, "C", true, 0, "")
	}
	pdf.CellFormat(d.widths[len(d.widths)-1], headHeight, "Muestras", "1", 1, "C", true, 0, "")
	pdf.SetFont("Helvetica", "", 9)
}

func (d *doc) row(s aggregate.UnitSeries, row aggregate.Row) {
	pdf := d.pdf
	if !d.fits(rowHeight) {
		pdf.AddPage()
		pdf.SetFont("Helvetica", "B", 10)
		pdf.CellFormat(0, 7, d.tr(s.UnitName+" (cont.)"), "", 1, "L", false, 0, "")
		d.tableHeader()
	}
	pdf.CellFormat(d.widths[0], rowHeight, FormatBucket(d.req.Kind, row.Start, d.req.Location), "1", 0, "C", false, 0, "")
	for i, q := range types.Quantities {
		pdf.CellFormat(d.widths[i+1], rowHeight, FormatValue(row.Means.Get(q)), "1", 0, "R", false, 0, "")
	}
	pdf.CellFormat(d.widths[len(d.widths)-1], rowHeight, fmt.Sprint(row.Samples), "1", 1, "R", false, 0, "")
}
