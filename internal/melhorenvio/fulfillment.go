package melhorenvio

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/go-faster/errors"

	"github.com/omena/store-api/internal/domain/freight"
	"github.com/omena/store-api/internal/domain/order"
)

var _ order.Fulfiller = (*Client)(nil)

// Party identifies the sender or recipient of a shipment.
type Party struct {
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	Email        string `json:"email"`
	Document     string `json:"document"`
	Address      string `json:"address"`
	Number       string `json:"number"`
	Complement   string `json:"complement"`
	Neighborhood string `json:"neighborhood"`
	City         string `json:"city"`
	StateAbbr    string `json:"state_abbr"`
	PostalCode   string `json:"postal_code"`
	CountryID    string `json:"country_id"`
}

// Volume is one physical parcel in a shipment.
type Volume struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Length float64 `json:"length"`
	Weight float64 `json:"weight"`
}

// ShipmentProduct is a declared content line for insurance purposes.
type ShipmentProduct struct {
	Name         string  `json:"name"`
	Quantity     int     `json:"quantity"`
	UnitaryValue float64 `json:"unitary_value"`
}

type shipmentOptions struct {
	InsuranceValue float64 `json:"insurance_value"`
	Receipt        bool    `json:"receipt"`
	OwnHand        bool    `json:"own_hand"`
}

// Shipment is a label purchase request destined for the Melhor Envio cart.
type Shipment struct {
	ServiceID int               `json:"service"`
	From      Party             `json:"from"`
	To        Party             `json:"to"`
	Volumes   []Volume          `json:"volumes"`
	Products  []ShipmentProduct `json:"products"`
	Options   shipmentOptions   `json:"options"`
	// NonCommercial skips invoice requirements for person-to-person sends.
	NonCommercial bool `json:"non_commercial"`
}

// cartEntry is the carrier-side record created for a shipment.
type cartEntry struct {
	ID       string `json:"id"`
	Protocol string `json:"protocol"`
	Status   string `json:"status"`
}

// trackingInfo is the per-shipment tracking state.
type trackingInfo struct {
	ID       string `json:"id"`
	Tracking string `json:"tracking"`
	Status   string `json:"status"`
	// Melhor Envio reports transition timestamps as strings.
	PostedAt    string `json:"posted_at"`
	DeliveredAt string `json:"delivered_at"`
}

// payerRecord mirrors the payer snapshot persisted on the order.
type payerRecord struct {
	Email          string `json:"email"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Identification struct {
		Number string `json:"number"`
	} `json:"identification"`
	Address *struct {
		ZipCode      string `json:"zip_code"`
		StreetName   string `json:"street_name"`
		StreetNumber string `json:"street_number"`
		Neighborhood string `json:"neighborhood"`
		City         string `json:"city"`
		FederalUnit  string `json:"federal_unit"`
	} `json:"address"`
}

// CreateLabel inserts the order's shipment into the Melhor Envio cart
// and returns the carrier-side record. Label payment stays manual in
// the carrier panel. The order must carry a numeric carrier service id
// and a payer address.
func (c *Client) CreateLabel(ctx context.Context, o *order.Order) (*order.ShipmentLabel, error) {
	serviceID, err := strconv.Atoi(strings.TrimSpace(o.ShippingService))
	if err != nil || serviceID <= 0 {
		return nil, order.ErrBadShippingService
	}

	var payer payerRecord
	if err := json.Unmarshal(o.Payer, &payer); err != nil || payer.Address == nil {
		return nil, order.ErrNoShippingAddress
	}

	recipient := strings.TrimSpace(payer.FirstName + " " + payer.LastName)
	if recipient == "" {
		recipient = "Cliente"
	}

	products := make([]ShipmentProduct, len(o.Items))
	insured := 0.0
	for i, item := range o.Items {
		unit := item.PriceAtPurchase.InexactFloat64()
		products[i] = ShipmentProduct{
			Name:         item.ProductName,
			Quantity:     item.Quantity,
			UnitaryValue: unit,
		}
		insured += unit * float64(item.Quantity)
	}

	sender := c.cfg.Sender
	if sender.PostalCode == "" {
		sender.PostalCode = c.cfg.OriginPostalCode
	}
	sender.CountryID = "BR"

	parcel := freight.ConsolidatedPackage(1)
	shipment := Shipment{
		ServiceID: serviceID,
		From:      sender,
		To: Party{
			Name:         recipient,
			Email:        payer.Email,
			Document:     payer.Identification.Number,
			Address:      payer.Address.StreetName,
			Number:       payer.Address.StreetNumber,
			Neighborhood: payer.Address.Neighborhood,
			City:         payer.Address.City,
			StateAbbr:    payer.Address.FederalUnit,
			PostalCode:   payer.Address.ZipCode,
			CountryID:    "BR",
		},
		Volumes: []Volume{{
			Width:  parcel.Width,
			Height: parcel.Height,
			Length: parcel.Length,
			Weight: parcel.Weight.InexactFloat64(),
		}},
		Products:      products,
		Options:       shipmentOptions{InsuranceValue: insured},
		NonCommercial: true,
	}

	raw, err := c.post(ctx, cartPath, shipment)
	if err != nil {
		return nil, &freight.UnavailableError{Err: err}
	}
	var entry cartEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, &freight.UnavailableError{Err: errors.Wrap(err, "decode cart response")}
	}
	if entry.ID == "" {
		return nil, &freight.UnavailableError{Err: errors.New("cart response missing shipment id")}
	}

	return &order.ShipmentLabel{
		ShipmentID: entry.ID,
		Protocol:   entry.Protocol,
		Status:     entry.Status,
	}, nil
}

// Track returns the carrier's tracking state for one shipment.
func (c *Client) Track(ctx context.Context, shipmentID string) (*order.TrackingStatus, error) {
	body := map[string][]string{"orders": {shipmentID}}
	raw, err := c.post(ctx, trackingPath, body)
	if err != nil {
		return nil, &freight.UnavailableError{Err: err}
	}

	var infos map[string]trackingInfo
	if err := json.Unmarshal(raw, &infos); err != nil {
		return nil, &freight.UnavailableError{Err: errors.Wrap(err, "decode tracking response")}
	}
	info, ok := infos[shipmentID]
	if !ok {
		return nil, errors.Errorf("carrier returned no tracking for shipment %s", shipmentID)
	}

	return &order.TrackingStatus{
		TrackingCode: info.Tracking,
		Status:       info.Status,
		PostedAt:     info.PostedAt,
		DeliveredAt:  info.DeliveredAt,
	}, nil
}
