package domain

// ProviderDetail is the seller organization contact used as responder identity.
type ProviderDetail struct {
	ID            string `json:"_id"`
	Name          string `json:"name"`
	ContactEmail  string `json:"contactEmail"`
	ContactMobile string `json:"contactMobile"`
}

// Product is the subset of seller catalog data used to enrich order items.
type Product struct {
	ID          string `json:"_id"`
	ProductName string `json:"productName"`
}
