// Package seed loads catalog products and customers from a JSON document,
// optionally gzip-compressed, and writes them through the repositories.
package seed

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/xenking/transfer-checkout/internal/domain/auth"
	"github.com/xenking/transfer-checkout/internal/domain/catalog"
	"github.com/xenking/transfer-checkout/internal/domain/customer"
)

var gzipMagic = []byte{0x1f, 0x8b}

// Document is the seed file layout.
type Document struct {
	Products []Product `json:"products"`
	Users    []User    `json:"users"`
}

// Product is a seeded catalog product.
type Product struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	Type      string              `json:"type"`
	Status    catalog.Status      `json:"status"`
	BasePrice decimal.NullDecimal `json:"basePrice"`
	SalePrice decimal.NullDecimal `json:"salePrice"`
	PreOrder  *PreOrder           `json:"preOrder,omitempty"`
	Variants  []Variant           `json:"variants"`
}

// PreOrder is the seeded pre-order configuration.
type PreOrder struct {
	Enabled        bool `json:"enabled"`
	DepositPercent *int `json:"depositPercent,omitempty"`
}

// Variant is a seeded product variant.
type Variant struct {
	ID    string              `json:"id"`
	SKU   string              `json:"sku"`
	Price decimal.NullDecimal `json:"price"`
	Stock int                 `json:"stock"`
}

// User is a seeded customer or staff member.
type User struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Email          string            `json:"email"`
	Role           string            `json:"role"`
	DefaultAddress *customer.Address `json:"defaultAddress,omitempty"`
}

// ProductWriter stores catalog products.
type ProductWriter interface {
	Upsert(ctx context.Context, p *catalog.Product) error
}

// UserWriter stores users.
type UserWriter interface {
	Upsert(ctx context.Context, u *customer.User) error
}

// LoadFile reads a seed document from path. Gzip input is detected by its
// magic bytes, not the file name.
func LoadFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()
	return Load(f)
}

// Load decodes a seed document from r.
func Load(r io.Reader) (*Document, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(gzipMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "peek")
	}

	src := io.Reader(br)
	if bytes.Equal(head, gzipMagic) {
		gz, err := pgzip.NewReader(br)
		if err != nil {
			return nil, errors.Wrap(err, "create gzip reader")
		}
		defer func() { _ = gz.Close() }()
		src = gz
	}

	var doc Document
	if err := json.NewDecoder(src).Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "decode seed document")
	}
	if err := doc.validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (d *Document) validate() error {
	for i, p := range d.Products {
		if p.ID == "" {
			return errors.Errorf("products[%d]: id is required", i)
		}
	}
	for i, u := range d.Users {
		if u.ID == "" {
			return errors.Errorf("users[%d]: id is required", i)
		}
	}
	return nil
}

// Stats counts what Apply wrote.
type Stats struct {
	Products int
	Users    int
}

// Apply upserts every product and user of d.
func Apply(ctx context.Context, d *Document, products ProductWriter, users UserWriter) (Stats, error) {
	var st Stats
	for _, p := range d.Products {
		if err := products.Upsert(ctx, p.toCatalog()); err != nil {
			return st, errors.Wrapf(err, "upsert product %s", p.ID)
		}
		st.Products++
	}
	for _, u := range d.Users {
		if err := users.Upsert(ctx, u.toCustomer()); err != nil {
			return st, errors.Wrapf(err, "upsert user %s", u.ID)
		}
		st.Users++
	}
	return st, nil
}

func (p Product) toCatalog() *catalog.Product {
	out := &catalog.Product{
		ID:        p.ID,
		Name:      p.Name,
		Type:      p.Type,
		Status:    p.Status,
		BasePrice: p.BasePrice,
		SalePrice: p.SalePrice,
		Variants:  make([]catalog.Variant, 0, len(p.Variants)),
	}
	if out.Status == "" {
		out.Status = catalog.StatusActive
	}
	if p.PreOrder != nil {
		out.PreOrder = catalog.PreOrder{Enabled: p.PreOrder.Enabled, DepositPercent: p.PreOrder.DepositPercent}
	}
	for _, v := range p.Variants {
		out.Variants = append(out.Variants, catalog.Variant{ID: v.ID, SKU: v.SKU, Price: v.Price, Stock: v.Stock})
	}
	return out
}

func (u User) toCustomer() *customer.User {
	role := u.Role
	if role == "" {
		role = string(auth.RoleCustomer)
	}
	return &customer.User{
		ID:             u.ID,
		Name:           u.Name,
		Email:          u.Email,
		Role:           role,
		DefaultAddress: u.DefaultAddress,
	}
}
