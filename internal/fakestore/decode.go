package fakestore

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/catalog"
)

// DecodeCategories decodes a JSON array of category names. An empty body
// and null both decode to no categories.
func DecodeCategories(data []byte) ([]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	d := jx.DecodeBytes(data)
	if d.Next() == jx.Null {
		return nil, d.Null()
	}

	var names []string
	if err := d.Arr(func(d *jx.Decoder) error {
		name, err := d.Str()
		if err != nil {
			return err
		}
		names = append(names, name)
		return nil
	}); err != nil {
		return nil, err
	}
	return names, nil
}

// DecodeProducts decodes a JSON array of products. An empty body and null
// both decode to no products.
func DecodeProducts(data []byte) ([]catalog.Product, error) {
	if len(data) == 0 {
		return nil, nil
	}
	d := jx.DecodeBytes(data)
	if d.Next() == jx.Null {
		return nil, d.Null()
	}

	var products []catalog.Product
	if err := d.Arr(func(d *jx.Decoder) error {
		var p catalog.Product
		if err := decodeProduct(d, &p); err != nil {
			return errors.Wrapf(err, "product #%d", len(products))
		}
		products = append(products, p)
		return nil
	}); err != nil {
		return nil, err
	}
	return products, nil
}

// DecodeProduct decodes a single product object. It returns nil for an
// empty body or null.
func DecodeProduct(data []byte) (*catalog.Product, error) {
	if len(data) == 0 {
		return nil, nil
	}
	d := jx.DecodeBytes(data)
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	var p catalog.Product
	if err := decodeProduct(d, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func decodeProduct(d *jx.Decoder, p *catalog.Product) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			p.ID, err = d.Int()
		case "title":
			p.Title, err = optionalStr(d)
		case "price":
			p.Price, err = priceText(d)
		case "category":
			p.Category, err = optionalStr(d)
		case "description":
			p.Description, err = optionalStr(d)
		case "image":
			p.Image, err = optionalStr(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	})
}

func optionalStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

// priceText keeps the literal text of a price given as a JSON number or
// string.
func priceText(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.Null:
		return "", d.Null()
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return string(n), nil
	default:
		return "", errors.Errorf("unexpected %s", d.Next())
	}
}

// EncodeProduct writes p in the fake-store wire format. The price is
// written as a number when it is one.
func EncodeProduct(e *jx.Encoder, p catalog.Product) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int(p.ID)
	e.FieldStart("title")
	e.Str(p.Title)
	e.FieldStart("price")
	if isNumber(p.Price) {
		e.Num(jx.Num(p.Price))
	} else {
		e.Str(p.Price)
	}
	e.FieldStart("description")
	e.Str(p.Description)
	e.FieldStart("category")
	e.Str(p.Category)
	e.FieldStart("image")
	e.Str(p.Image)
	e.ObjEnd()
}

func isNumber(s string) bool {
	d := jx.DecodeStr(s)
	if d.Next() != jx.Number {
		return false
	}
	if _, err := d.Num(); err != nil {
		return false
	}
	return d.Next() == jx.Invalid
}
