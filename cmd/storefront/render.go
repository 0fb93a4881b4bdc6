package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/xenking/storefront/internal/domain/browse"
	"github.com/xenking/storefront/internal/domain/catalog"
)

// renderer writes screens as plain text.
type renderer struct {
	w     io.Writer
	title cases.Caser
}

func newRenderer(w io.Writer, lang language.Tag) *renderer {
	return &renderer{w: w, title: cases.Title(lang)}
}

// price renders the stored price text as $<price>, or "-" when p has no
// numeric price.
func price(p catalog.Product) string {
	if _, err := p.Amount(); err != nil {
		return "-"
	}
	return "$" + p.Price
}

// errResult is returned by a render function when the screen ended in an
// error state. The message has already been shown.
type errResult struct{ msg string }

func (e *errResult) Error() string { return e.msg }

func (r *renderer) failure(res interface{ Message() string }) error {
	fmt.Fprintf(r.w, "error: %s\n", res.Message())
	return &errResult{msg: res.Message()}
}

func (r *renderer) home(res browse.Result[[]browse.Section]) error {
	sections, _ := res.Data()
	for i, s := range sections {
		if i > 0 {
			fmt.Fprintln(r.w)
		}
		fmt.Fprintf(r.w, "%s\n", r.title.String(s.Category))
		r.table(s.Products)
	}
	if res.IsError() {
		return r.failure(res)
	}
	return nil
}

func (r *renderer) listing(category string, res browse.Result[[]catalog.Product]) error {
	products, _ := res.Data()
	fmt.Fprintf(r.w, "%s\n", r.title.String(category))
	r.table(products)
	if res.IsError() {
		return r.failure(res)
	}
	return nil
}

func (r *renderer) details(res browse.Result[catalog.Product]) error {
	if res.IsError() {
		return r.failure(res)
	}
	p, _ := res.Data()
	tw := tabwriter.NewWriter(r.w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Title\t%s\n", p.Title)
	fmt.Fprintf(tw, "Price\t%s\n", price(p))
	fmt.Fprintf(tw, "Category\t%s\n", r.title.String(p.Category))
	if p.Image != "" {
		fmt.Fprintf(tw, "Image\t%s\n", p.Image)
	}
	_ = tw.Flush()
	if p.Description != "" {
		fmt.Fprintf(r.w, "\n%s\n", strings.TrimSpace(p.Description))
	}
	return nil
}

func (r *renderer) table(products []catalog.Product) {
	tw := tabwriter.NewWriter(r.w, 0, 4, 2, ' ', 0)
	for _, p := range products {
		fmt.Fprintf(tw, "  %d\t%s\t%s\n", p.ID, p.Title, price(p))
	}
	_ = tw.Flush()
}
