package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"

	"github.com/omena/store-api/internal/domain/product"
)

type productDTO struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Material    string         `json:"material,omitempty"`
	Pattern     string         `json:"pattern,omitempty"`
	Price       *float64       `json:"price"`
	Stock       map[string]int `json:"stock,omitempty"`
	Quantity    int            `json:"quantity"`
	Image       string         `json:"image,omitempty"`
	Images      []string       `json:"images,omitempty"`
}

// ListProducts handles GET /products.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	out := make([]productDTO, len(products))
	for i, p := range products {
		out[i] = toProductDTO(p)
	}
	writeJSON(w, http.StatusOK, out)
}

// GetProduct handles GET /products/{id}.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Dados inválidos", "id deve ser numérico")
		return
	}

	p, err := h.products.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Produto não encontrado", "")
			return
		}
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(*p))
}

func toProductDTO(p product.Product) productDTO {
	var price *float64
	if p.Price != nil {
		v := p.Price.InexactFloat64()
		price = &v
	}
	return productDTO{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Material:    p.Material,
		Pattern:     p.Pattern,
		Price:       price,
		Stock:       p.LegacyStock,
		Quantity:    p.Quantity,
		Image:       p.Image,
		Images:      p.Images,
	}
}
