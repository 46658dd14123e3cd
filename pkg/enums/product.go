package enums

// ProductStatus is the storefront availability flag of a product.
type ProductStatus string

const (
	ProductStatusActive     ProductStatus = "active"
	ProductStatusOutOfStock ProductStatus = "out_of_stock"
)

func (p ProductStatus) IsValid() bool {
	return p == ProductStatusActive || p == ProductStatusOutOfStock
}
